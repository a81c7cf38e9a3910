// Package dispatch executes queued jobs: message sends through a live
// session and notification email.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/mailer"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/session"
)

// Sessions looks up open sessions. *session.Table satisfies it.
type Sessions interface {
	Get(deviceID string) (*session.Handle, bool)
}

type Handler struct {
	sessions Sessions
	db       *sql.DB
	repos    repomanager.RepositoryManager
	mail     mailer.Sender
	logger   logging.Logger
}

func New(sessions Sessions, db *sql.DB, repos repomanager.RepositoryManager, mail mailer.Sender, logger logging.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		db:       db,
		repos:    repos,
		mail:     mail,
		logger:   logger.With("module", "dispatch"),
	}
}

func (h *Handler) Handle(ctx context.Context, job queue.Job) error {
	switch p := job.Payload.(type) {
	case queue.DirectSend:
		return h.send(ctx, sendRequest{p.DeviceID, p.UserID, p.To, p.Message, p.UseWeb})
	case queue.BulkSend:
		return h.send(ctx, sendRequest{p.DeviceID, p.UserID, p.To, p.Message, p.UseWeb})
	case queue.EmailOTP:
		subject, body := otpEmail(p.Purpose, p.Code)
		return h.mail.Send(ctx, mailer.Message{To: p.To, Subject: subject, Body: body})
	case queue.EmailDisconnectNotice:
		subject, body := disconnectEmail(p.DeviceName, p.PhoneNumber)
		return h.mail.Send(ctx, mailer.Message{To: p.To, Subject: subject, Body: body})
	default:
		return queue.Permanent(fmt.Errorf("unsupported payload %T", job.Payload))
	}
}

type sendRequest struct {
	deviceID string
	userID   string
	to       string
	text     string
	useWeb   bool
}

func (h *Handler) send(ctx context.Context, r sendRequest) error {
	s, ok := h.sessions.Get(r.deviceID)
	if !ok {
		return fmt.Errorf("device %s: %w", r.deviceID, common.ErrSessionNotFound)
	}

	addr, err := s.CheckAddress(ctx, r.to)
	if err != nil {
		return fmt.Errorf("check address: %w", err)
	}
	if addr == "" {
		return queue.Permanent(fmt.Errorf("%s: %w", r.to, common.ErrInvalidAddress))
	}

	sendID, err := s.SendText(ctx, addr, r.text)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	h.logger.Debug(ctx, "message sent", "device_id", r.deviceID, "send_id", sendID)

	if r.useWeb {
		h.record(ctx, r, sendID)
	}
	return nil
}

// record writes the history row. The message is already sent, so failures
// are logged and not retried.
func (h *Handler) record(ctx context.Context, r sendRequest, sendID string) {
	name, err := h.repos.Contacts(h.db).FindName(ctx, r.userID, r.to)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		h.logger.Warn(ctx, "contact lookup failed", "error", err)
	}
	_, err = h.repos.Messages(h.db).Create(ctx, &models.Message{
		DeviceID:    r.deviceID,
		UserID:      r.userID,
		SendID:      sendID,
		PhoneNumber: r.to,
		Name:        name,
		Body:        r.text,
		Status:      models.MessagePending,
	})
	if err != nil {
		h.logger.Error(ctx, "recording message failed", "device_id", r.deviceID, "send_id", sendID, "error", err)
	}
}
