package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRetry bool

func (r fixedRetry) Allow(string) bool { return bool(r) }

type fixedTarget bool

func (t fixedTarget) Done() bool { return bool(t) }

func newTestMachine(retry bool, target ChallengeTarget) *Machine {
	return NewMachine("dev-1", MachineConfig{ReconnectDelay: 5 * time.Second}, fixedRetry(retry), target)
}

func TestMachine_ConnectingSetsSynchronizing(t *testing.T) {
	m := newTestMachine(true, nil)
	cmds := m.HandleEvent(transport.ConnectionUpdate{State: transport.StateConnecting})
	assert.Equal(t, []Command{SetStatus{Status: models.DeviceSynchronizing}}, cmds)
	assert.Equal(t, StateConnecting, m.State())
}

func TestMachine_CredsArePersisted(t *testing.T) {
	m := newTestMachine(true, nil)
	creds := json.RawMessage(`{"jid":"1@s.whatsapp.net"}`)
	cmds := m.HandleEvent(transport.CredsUpdated{Creds: creds})
	assert.Equal(t, []Command{PersistCreds{Creds: creds}}, cmds)
}

func TestMachine_FirstChallengeIsDelivered(t *testing.T) {
	m := newTestMachine(true, fixedTarget(false))
	cmds := m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})

	assert.Equal(t, []Command{
		SetStatus{Status: models.DeviceWaitForAuth},
		DeliverQR{Code: "qr-1"},
	}, cmds)
	assert.Equal(t, StateWaitForAuth, m.State())
}

func TestMachine_PairingCodeReplacesQR(t *testing.T) {
	m := NewMachine("dev-1", MachineConfig{UsePairingCode: true, PhoneNumber: "15550001"}, fixedRetry(true), fixedTarget(false))
	cmds := m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})
	require.Len(t, cmds, 2)
	assert.Equal(t, DeliverPairingCode{Phone: "15550001"}, cmds[1])
}

func TestMachine_PairingCodeWithoutPhoneFallsBackToQR(t *testing.T) {
	m := NewMachine("dev-1", MachineConfig{UsePairingCode: true}, fixedRetry(true), fixedTarget(false))
	cmds := m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})
	require.Len(t, cmds, 2)
	assert.Equal(t, DeliverQR{Code: "qr-1"}, cmds[1])
}

func TestMachine_SecondChallengeTearsDown(t *testing.T) {
	m := newTestMachine(true, fixedTarget(false))
	m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})

	cmds := m.HandleEvent(transport.ConnectionUpdate{QR: "qr-2"})
	require.Len(t, cmds, 2)
	assert.Equal(t, Teardown{Logout: true, Wipe: true}, cmds[1])
	assert.Equal(t, StateTerminated, m.State())
	assert.True(t, m.Done())
}

func TestMachine_ChallengeWithoutTargetTearsDown(t *testing.T) {
	for name, target := range map[string]ChallengeTarget{
		"no target":       nil,
		"target answered": fixedTarget(true),
	} {
		t.Run(name, func(t *testing.T) {
			m := newTestMachine(true, target)
			cmds := m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})
			require.Len(t, cmds, 2)
			assert.Equal(t, Teardown{Logout: true, Wipe: true}, cmds[1])
		})
	}
}

func TestMachine_Open(t *testing.T) {
	tests := []struct {
		name       string
		isNewLogin bool
		want       models.DeviceStatus
	}{
		{"restored", false, models.DeviceConnected},
		{"new login", true, models.DeviceAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(true, nil)
			cmds := m.HandleEvent(transport.ConnectionUpdate{State: transport.StateOpen, IsNewLogin: tt.isNewLogin})

			require.Len(t, cmds, 4)
			assert.Equal(t, ResetBackoff{}, cmds[0])
			assert.Equal(t, RegisterSession{}, cmds[1])
			assert.Equal(t, SetStatus{Status: tt.want}, cmds[2])
			resp := cmds[3].(Respond)
			assert.True(t, resp.Result.OK)
			assert.Equal(t, StateOpen, m.State())
		})
	}
}

func TestMachine_Close(t *testing.T) {
	tests := []struct {
		name     string
		reason   transport.DisconnectReason
		retry    bool
		want     []Command
		terminal bool
	}{
		{
			name:   "connection lost reconnects after delay",
			reason: transport.ReasonConnectionLost,
			retry:  true,
			want: []Command{
				UnregisterSession{},
				SetStatus{Status: models.DeviceDisconnected},
				ScheduleReconnect{Delay: 5 * time.Second},
			},
		},
		{
			name:   "restart required reconnects immediately",
			reason: transport.ReasonRestartRequired,
			retry:  true,
			want: []Command{
				UnregisterSession{},
				SetStatus{Status: models.DeviceDisconnected},
				ScheduleReconnect{Delay: 0},
			},
		},
		{
			name:     "logged out wipes credentials",
			reason:   transport.ReasonLoggedOut,
			retry:    true,
			want:     []Command{Teardown{Wipe: true}},
			terminal: true,
		},
		{
			name:     "replaced keeps credentials",
			reason:   transport.ReasonConnectionReplaced,
			retry:    true,
			want:     []Command{Teardown{}},
			terminal: true,
		},
		{
			name:     "ceiling reached",
			reason:   transport.ReasonBadSession,
			retry:    false,
			want:     []Command{Teardown{}},
			terminal: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(tt.retry, nil)
			m.HandleEvent(transport.ConnectionUpdate{State: transport.StateOpen})

			cmds := m.HandleEvent(transport.ConnectionUpdate{State: transport.StateClose, Reason: tt.reason})
			if tt.terminal {
				require.Len(t, cmds, 2)
				_, isRespond := cmds[0].(Respond)
				assert.True(t, isRespond)
				assert.Equal(t, tt.want, cmds[1:])
				assert.Equal(t, StateTerminated, m.State())
				return
			}
			assert.Equal(t, tt.want, cmds)
			assert.Equal(t, StateReconnecting, m.State())
		})
	}
}

func TestMachine_IgnoresEventsWhenDone(t *testing.T) {
	m := newTestMachine(true, nil)
	m.HandleEvent(transport.ConnectionUpdate{State: transport.StateClose, Reason: transport.ReasonConnectionLost})

	assert.Nil(t, m.HandleEvent(transport.ConnectionUpdate{State: transport.StateOpen}))
	assert.Nil(t, m.Closed())
	assert.Nil(t, m.Expire())
}

func TestMachine_CallsAreRejected(t *testing.T) {
	m := newTestMachine(true, nil)
	cmds := m.HandleEvent(transport.IncomingCall{ID: "call-1", From: "15550002@s.whatsapp.net"})
	assert.Equal(t, []Command{RejectCall{ID: "call-1", From: "15550002@s.whatsapp.net"}}, cmds)
}

func TestMachine_MessageStatus(t *testing.T) {
	m := newTestMachine(true, nil)
	cmds := m.HandleEvent(transport.MessageStatus{SendID: "MSG1", Code: 4})
	assert.Equal(t, []Command{UpdateDelivery{SendID: "MSG1", Status: models.MessageRead}}, cmds)

	assert.Nil(t, m.HandleEvent(transport.MessageStatus{SendID: "MSG1", Code: 9}))
}

func TestMachine_ClosedStreamCountsAsConnectionLost(t *testing.T) {
	m := newTestMachine(true, nil)
	cmds := m.Closed()
	require.NotEmpty(t, cmds)
	assert.Equal(t, ScheduleReconnect{Delay: 5 * time.Second}, cmds[len(cmds)-1])
}

func TestMachine_Expire(t *testing.T) {
	m := newTestMachine(true, fixedTarget(false))
	m.HandleEvent(transport.ConnectionUpdate{QR: "qr-1"})

	cmds := m.Expire()
	require.Len(t, cmds, 2)
	assert.Equal(t, http.StatusGatewayTimeout, cmds[0].(Respond).Result.Code)
	assert.Equal(t, Teardown{Wipe: true}, cmds[1])

	open := newTestMachine(true, nil)
	open.HandleEvent(transport.ConnectionUpdate{State: transport.StateOpen})
	assert.Nil(t, open.Expire())
}

func TestMachine_DestroyShutdownFail(t *testing.T) {
	m := newTestMachine(true, nil)
	cmds := m.Destroy()
	assert.Equal(t, Teardown{Logout: true, Wipe: true}, cmds[1])
	assert.Nil(t, m.Destroy())

	m = newTestMachine(true, nil)
	cmds = m.Shutdown()
	assert.Equal(t, Teardown{KeepStatus: true}, cmds[1])

	m = newTestMachine(true, nil)
	cmds = m.Fail(errors.New("disk full"))
	assert.Equal(t, "disk full", cmds[0].(Respond).Result.Message)
	assert.Equal(t, Teardown{}, cmds[1])
}
