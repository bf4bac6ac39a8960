package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/practicekit/booking-engine/pkg/logging"
)

// Sender delivers one reminder. Concrete transports live outside this
// package; LogSender ships for development.
type Sender interface {
	Send(ctx context.Context, r *Reminder) error
}

// Dispatcher processes due reminders and hands them to a Sender.
type Dispatcher struct {
	store  *Store
	sender Sender
	batch  int
	logger *logging.Logger
}

// NewDispatcher creates a reminder dispatcher.
func NewDispatcher(store *Store, sender Sender, batch int, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{store: store, sender: sender, batch: batch, logger: logger}
}

// ProcessDue sends every pending reminder whose scheduled time has passed.
// Per-item failures are logged and skipped; the rest of the batch proceeds.
// Returns the number of reminders sent.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := d.store.ListDue(ctx, now, d.batch)
	if err != nil {
		return 0, fmt.Errorf("reminders dispatcher: list due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	d.logger.Info("reminders dispatcher: processing due reminders", "count", len(due))

	sent := 0
	for i := range due {
		r := &due[i]
		if err := d.processOne(ctx, r); err != nil {
			d.logger.Error("reminders dispatcher: failed to process reminder",
				"id", r.ID, "appointment_id", r.AppointmentID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run polls on the given interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ProcessDue(ctx); err != nil {
				d.logger.Error("reminders dispatcher: poll failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) processOne(ctx context.Context, r *Reminder) error {
	if err := d.sender.Send(ctx, r); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := d.store.MarkSent(ctx, r.ID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// LogSender logs reminders instead of delivering them. Used in development
// and as the default when no transport is configured.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, r *Reminder) error {
	s.logger.Info("reminder due",
		"id", r.ID,
		"appointment_id", r.AppointmentID,
		"kind", string(r.Kind),
		"channel", string(r.Channel),
		"scheduled_at", r.ScheduledAt.Format(time.RFC3339),
	)
	return nil
}
