package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/counter"
	"github.com/dmitrijs2005/wagate/internal/queue"
)

const (
	OTPLength = 6
	OTPTTL    = 5 * time.Minute
)

type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error)
}

// OTP issues one-time codes by email and verifies them.
type OTP struct {
	store counter.Store
	queue Enqueuer
}

func NewOTP(store counter.Store, q Enqueuer) *OTP {
	return &OTP{store: store, queue: q}
}

func otpKey(purpose queue.OTPPurpose, email string) string {
	return "otp:" + string(purpose) + ":" + email
}

// Issue stores a fresh code for email and queues it for delivery. A new
// code replaces any earlier one for the same purpose.
func (o *OTP) Issue(ctx context.Context, email string, purpose queue.OTPPurpose) error {
	code, err := common.MakeRandDigits(OTPLength)
	if err != nil {
		return err
	}
	if err := o.store.Set(ctx, otpKey(purpose, email), code, OTPTTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if _, err := o.queue.Enqueue(ctx, queue.EmailOTP{To: email, Code: code, Purpose: purpose}); err != nil {
		return fmt.Errorf("enqueue otp: %w", err)
	}
	return nil
}

// Verify checks code and consumes it on success.
func (o *OTP) Verify(ctx context.Context, email string, purpose queue.OTPPurpose, code string) (bool, error) {
	key := otpKey(purpose, email)
	stored, ok, err := o.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || stored != code {
		return false, nil
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}
