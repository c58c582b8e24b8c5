package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/glowdesk/backend/libs/kafkax"
	"github.com/glowdesk/backend/services/reminder-service/internal/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Appointment is the reminder-side view of an appointment record.
type Appointment struct {
	ID         string
	ClientName string
	Service    string
	Title      string
	StartTime  time.Time
}

// Token is one registered push delivery target.
type Token struct {
	ID    string
	Value string
}

// Store is the document-store surface the dispatcher needs: the lead
// window query, the idempotence flag, and the token registry.
type Store interface {
	// DueAppointments returns appointments with a start time in
	// [from, to] that have not had a reminder sent, ascending by start.
	DueAppointments(ctx context.Context, from, to time.Time) ([]Appointment, error)
	// MarkReminderSent flips the reminder flag so later ticks inside the
	// lead window do not re-send.
	MarkReminderSent(ctx context.Context, id string) error
	ListTokens(ctx context.Context) ([]Token, error)
	RemoveTokens(ctx context.Context, values []string) error
}

// Events receives informational reminder events. May be nil.
type Events interface {
	Publish(ctx context.Context, e kafkax.Event) error
}

type Config struct {
	Lead        time.Duration // how far ahead of start a reminder fires
	Interval    time.Duration // tick period
	PruneTokens bool          // drop tokens the relay reports as invalid
}

// Dispatcher scans for appointments inside the lead window on every tick
// and multicasts one reminder per appointment to all registered tokens,
// exactly once per appointment.
type Dispatcher struct {
	store  Store
	sender push.Sender
	events Events
	logger *slog.Logger

	lead     time.Duration
	interval time.Duration
	prune    bool
	now      func() time.Time
}

func New(store Store, sender push.Sender, events Events, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Lead <= 0 {
		cfg.Lead = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Minute
	}
	return &Dispatcher{
		store:    store,
		sender:   sender,
		events:   events,
		logger:   logger,
		lead:     cfg.Lead,
		interval: cfg.Interval,
		prune:    cfg.PruneTokens,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until the context is cancelled. A tick error never escapes
// the loop; the next tick is the retry.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("reminder dispatcher started",
		"lead_minutes", int(d.lead.Minutes()),
		"interval", d.interval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.Error("reminder tick failed", "err", err)
			}
		}
	}
}

// Tick is one dispatch pass. Storage errors abort the tick; send failures
// for a single appointment do not affect the others.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "reminder.tick",
		trace.WithAttributes(attribute.Int("lead_minutes", int(d.lead.Minutes()))),
	)
	defer span.End()

	now := d.now()
	windowEnd := now.Add(d.lead)

	appts, err := d.store.DueAppointments(ctx, now, windowEnd)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("query due appointments: %w", err)
	}
	if len(appts) == 0 {
		d.logger.Debug("no upcoming appointments in lead window")
		return nil
	}

	tokens, err := d.store.ListTokens(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		d.logger.Warn("no device tokens registered, skipping reminders", "due", len(appts))
		return nil
	}

	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Value
	}

	sent := 0
	var invalid []string
	for _, appt := range appts {
		if appt.ClientName == "" || appt.StartTime.IsZero() {
			d.logger.Warn("skipping malformed appointment record", "appointment_id", appt.ID)
			continue
		}

		res, err := d.sender.SendMulticast(ctx, values, push.Notification{
			Title: "Appointment reminder",
			Body: fmt.Sprintf("%s has an appointment for %s in %d minutes.",
				appt.ClientName, appt.Service, int(d.lead.Minutes())),
		})
		if err != nil {
			// Not marked as sent; the next tick retries this appointment.
			d.logger.Error("reminder send failed", "appointment_id", appt.ID, "err", err)
			span.RecordError(err)
			continue
		}

		if err := d.store.MarkReminderSent(ctx, appt.ID); err != nil {
			// The reminder went out but the flag did not stick, so the
			// next tick may send again. At-least-once, never silent loss.
			d.logger.Error("failed to mark reminder sent", "appointment_id", appt.ID, "err", err)
			span.RecordError(err)
		}
		sent++
		invalid = append(invalid, res.InvalidTokens...)

		d.publishSent(ctx, appt, res)
		d.logger.Info("reminder sent",
			"appointment_id", appt.ID,
			"client_name", appt.ClientName,
			"tokens", len(values),
			"delivered", res.Success,
			"failed", res.Failure,
		)
	}

	if d.prune && len(invalid) > 0 {
		stale := dedupe(invalid)
		if err := d.store.RemoveTokens(ctx, stale); err != nil {
			d.logger.Warn("failed to prune invalid tokens", "err", err)
		} else {
			d.logger.Info("pruned invalid tokens", "count", len(stale))
		}
	}

	d.logger.Info("reminder tick completed", "due", len(appts), "sent", sent)
	return nil
}

func (d *Dispatcher) publishSent(ctx context.Context, appt Appointment, res push.Result) {
	if d.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"client_name":    appt.ClientName,
		"service":        appt.Service,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"delivered":      res.Success,
		"failed":         res.Failure,
		"sent_at":        d.now().Format(time.RFC3339),
	})
	if err != nil {
		d.logger.Error("reminder event marshal failed", "err", err)
		return
	}
	if err := d.events.Publish(ctx, kafkax.Event{
		Topic:   "reminder.sent.v1",
		Key:     appt.ID,
		Payload: payload,
	}); err != nil {
		d.logger.Warn("reminder event publish failed", "err", err)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
