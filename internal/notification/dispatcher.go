package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/booking"
)

const sendTimeout = 15 * time.Second

// Dispatcher sends booking changes to every configured target
type Dispatcher struct {
	targets []*Target
	logger  *zap.Logger
}

// NewDispatcher validates targets and creates a dispatcher
func NewDispatcher(targets []*Target, logger *zap.Logger) (*Dispatcher, error) {
	for _, t := range targets {
		provider, ok := GetProvider(t.Type)
		if !ok {
			return nil, fmt.Errorf("unknown notification provider: %s", t.Type)
		}
		if err := provider.Validate(t.Config); err != nil {
			return nil, fmt.Errorf("invalid %s target %q: %w", t.Type, t.Name, err)
		}
	}
	return &Dispatcher{targets: targets, logger: logger.Named("notification")}, nil
}

// BookingSynced sends the change in the background
func (d *Dispatcher) BookingSynced(_ context.Context, change booking.Change) {
	if len(d.targets) == 0 {
		return
	}
	msg := MessageFromChange(change)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.Notify(ctx, msg); err != nil {
			d.logger.Warn("booking notification failed",
				zap.String("event_uri", msg.ExternalEventURI),
				zap.Error(err))
		}
	}()
}

// Notify sends msg to all targets concurrently and waits for them
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) error {
	errCh := make(chan error, len(d.targets))
	for _, target := range d.targets {
		go func(t *Target) {
			err := d.send(ctx, t, msg)
			if err != nil {
				d.logger.Warn("failed to send notification",
					zap.String("provider", t.Type),
					zap.String("target", t.Name),
					zap.Error(err))
			}
			errCh <- err
		}(target)
	}

	failed := 0
	for range d.targets {
		if err := <-errCh; err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to send %d/%d notifications", failed, len(d.targets))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, target *Target, msg *Message) error {
	provider, ok := GetProvider(target.Type)
	if !ok {
		return fmt.Errorf("unknown notification provider: %s", target.Type)
	}
	return provider.Send(ctx, target, msg)
}

// MessageFromChange builds the notification for a booking change
func MessageFromChange(change booking.Change) *Message {
	b := change.Booking
	msg := &Message{
		Event:            change.EventType,
		BookingID:        b.ID.String(),
		ExternalEventURI: b.ExternalEventURI,
		Status:           string(b.Status),
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		HostProfileID:    b.HostProfileID.String(),
		CanceledAt:       b.CanceledAt,
		Time:             time.Now().UTC(),
	}
	if b.Title != nil {
		msg.Title = *b.Title
	}
	if b.AttendeeProfileID != nil {
		msg.AttendeeProfileID = b.AttendeeProfileID.String()
	}
	return msg
}
