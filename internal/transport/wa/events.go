package wa

import (
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// mapper turns library events into transport events. It remembers whether
// the current connection completed a fresh pairing.
type mapper struct {
	newLogin bool
}

func (m *mapper) mapEvent(evt any) []transport.Event {
	switch e := evt.(type) {
	case *events.PairSuccess:
		m.newLogin = true
		return nil

	case *events.Connected:
		open := transport.ConnectionUpdate{State: transport.StateOpen, IsNewLogin: m.newLogin}
		m.newLogin = false
		return []transport.Event{open}

	case *events.LoggedOut:
		return closeWith(transport.ReasonLoggedOut)
	case *events.StreamReplaced:
		return closeWith(transport.ReasonConnectionReplaced)
	case *events.Disconnected:
		return closeWith(transport.ReasonConnectionLost)
	case *events.TemporaryBan:
		return closeWith(transport.ReasonForbidden)
	case *events.ClientOutdated:
		return closeWith(transport.ReasonBadSession)
	case *events.ConnectFailure:
		switch {
		case e.Reason.IsLoggedOut():
			return closeWith(transport.ReasonLoggedOut)
		case e.Reason == events.ConnectFailureServiceUnavailable:
			return closeWith(transport.ReasonUnavailableService)
		default:
			return closeWith(transport.ReasonBadSession)
		}

	case *events.CallOffer:
		return []transport.Event{transport.IncomingCall{ID: e.CallID, From: e.From.String()}}

	case *events.Receipt:
		code, ok := receiptCode(e.Type)
		if !ok {
			return nil
		}
		out := make([]transport.Event, 0, len(e.MessageIDs))
		for _, id := range e.MessageIDs {
			out = append(out, transport.MessageStatus{SendID: id, Code: code})
		}
		return out
	}
	return nil
}

func closeWith(reason transport.DisconnectReason) []transport.Event {
	return []transport.Event{transport.ConnectionUpdate{State: transport.StateClose, Reason: reason}}
}

// receiptCode maps receipt types to delivery status codes.
func receiptCode(t types.ReceiptType) (int, bool) {
	var s models.MessageStatus
	switch t {
	case types.ReceiptTypeDelivered:
		s = models.MessageDelivery
	case types.ReceiptTypeRead:
		s = models.MessageRead
	case types.ReceiptTypePlayed:
		s = models.MessagePlayed
	case types.ReceiptTypeServerError:
		s = models.MessageError
	default:
		return 0, false
	}
	return s.Rank(), true
}
