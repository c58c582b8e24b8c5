package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/glowdesk/backend/libs/kafkax"
	"github.com/glowdesk/backend/services/reminder-service/internal/push"
)

type fakeStore struct {
	appts      []Appointment
	sent       map[string]bool
	tokens     []Token
	dueErr     error
	tokensErr  error
	tokenReads int
	removed    []string
}

func newFakeStore(appts []Appointment, tokens []Token) *fakeStore {
	return &fakeStore{appts: appts, sent: map[string]bool{}, tokens: tokens}
}

func (f *fakeStore) DueAppointments(_ context.Context, from, to time.Time) ([]Appointment, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var due []Appointment
	for _, a := range f.appts {
		if f.sent[a.ID] {
			continue
		}
		if a.StartTime.Before(from) || a.StartTime.After(to) {
			continue
		}
		due = append(due, a)
	}
	return due, nil
}

func (f *fakeStore) MarkReminderSent(_ context.Context, id string) error {
	f.sent[id] = true
	return nil
}

func (f *fakeStore) ListTokens(_ context.Context) ([]Token, error) {
	f.tokenReads++
	if f.tokensErr != nil {
		return nil, f.tokensErr
	}
	return f.tokens, nil
}

func (f *fakeStore) RemoveTokens(_ context.Context, values []string) error {
	f.removed = append(f.removed, values...)
	return nil
}

type sendCall struct {
	tokens []string
	notif  push.Notification
}

type fakeSender struct {
	calls  []sendCall
	failOn func(n push.Notification) error
	result push.Result
}

func (f *fakeSender) SendMulticast(_ context.Context, tokens []string, n push.Notification) (push.Result, error) {
	if f.failOn != nil {
		if err := f.failOn(n); err != nil {
			return push.Result{}, err
		}
	}
	f.calls = append(f.calls, sendCall{tokens: tokens, notif: n})
	res := f.result
	if res.Success == 0 && res.Failure == 0 && len(res.InvalidTokens) == 0 {
		res = push.Result{Success: len(tokens)}
	}
	return res, nil
}

func (f *fakeSender) ProviderID() string { return "push-fake" }

type fakeEvents struct {
	published []kafkax.Event
}

func (f *fakeEvents) Publish(_ context.Context, e kafkax.Event) error {
	f.published = append(f.published, e)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestDispatcher(store Store, sender push.Sender, events Events, cfg Config, now time.Time) *Dispatcher {
	d := New(store, sender, events, testLogger(), cfg)
	d.now = func() time.Time { return now }
	return d
}

func TestTickSendsAndMarks(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Highlights", StartTime: start}},
		[]Token{{ID: "t1", Value: "tok-1"}, {ID: "t2", Value: "tok-2"}},
	)
	sender := &fakeSender{}
	events := &fakeEvents{}

	now := time.Date(2024, 1, 1, 9, 50, 0, 0, time.UTC)
	d := newTestDispatcher(store, sender, events, Config{}, now)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
	call := sender.calls[0]
	if len(call.tokens) != 2 {
		t.Fatalf("expected multicast to 2 tokens, got %d", len(call.tokens))
	}
	if !strings.Contains(call.notif.Body, "Jane Doe") || !strings.Contains(call.notif.Body, "Highlights") {
		t.Fatalf("body missing client or service: %q", call.notif.Body)
	}
	if !store.sent["a1"] {
		t.Fatal("appointment not marked as sent")
	}
	if len(events.published) != 1 || events.published[0].Topic != "reminder.sent.v1" {
		t.Fatalf("expected one reminder.sent.v1 event, got %+v", events.published)
	}
}

func TestRepeatedTicksSendOnce(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Treatment", StartTime: start}},
		[]Token{{ID: "t1", Value: "tok-1"}},
	)
	sender := &fakeSender{}
	d := newTestDispatcher(store, sender, nil, Config{}, start)

	// One tick per minute from 15 minutes out until the start time.
	for i := 15; i >= 0; i-- {
		now := start.Add(-time.Duration(i) * time.Minute)
		d.now = func() time.Time { return now }
		if err := d.Tick(context.Background()); err != nil {
			t.Fatalf("tick at %s failed: %v", now, err)
		}
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected exactly 1 send across all ticks, got %d", len(sender.calls))
	}
}

func TestSubsequentTickSkipsSentAppointment(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Color", StartTime: start}},
		[]Token{{ID: "t1", Value: "tok-1"}},
	)
	sender := &fakeSender{}
	d := newTestDispatcher(store, sender, nil, Config{}, start.Add(-10*time.Minute))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	d.now = func() time.Time { return start.Add(-9 * time.Minute) }
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
}

func TestNoMatchesSkipsTokenRegistry(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Haircut", StartTime: start}},
		[]Token{{ID: "t1", Value: "tok-1"}},
	)
	sender := &fakeSender{}
	// Appointment is an hour out, well beyond the 15-minute window.
	d := newTestDispatcher(store, sender, nil, Config{}, start.Add(-time.Hour))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if store.tokenReads != 0 {
		t.Fatalf("expected no token registry reads, got %d", store.tokenReads)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.calls))
	}
}

func TestEmptyTokenRegistryProducesNoSends(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Haircut", StartTime: start}},
		nil,
	)
	sender := &fakeSender{}
	d := newTestDispatcher(store, sender, nil, Config{}, start.Add(-5*time.Minute))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.calls))
	}
	if store.sent["a1"] {
		t.Fatal("appointment must not be marked sent when nothing was delivered")
	}
}

func TestMalformedRecordSkippedWithoutAbort(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{
			{ID: "bad", ClientName: "", Service: "Haircut", StartTime: start},
			{ID: "good", ClientName: "Ana", Service: "BlowDry", StartTime: start.Add(2 * time.Minute)},
		},
		[]Token{{ID: "t1", Value: "tok-1"}},
	)
	sender := &fakeSender{}
	d := newTestDispatcher(store, sender, nil, Config{}, start.Add(-5*time.Minute))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send for the valid record, got %d", len(sender.calls))
	}
	if store.sent["bad"] {
		t.Fatal("malformed record must not be marked sent")
	}
	if !store.sent["good"] {
		t.Fatal("valid record should be marked sent")
	}
}

func TestSendFailureDoesNotAbortOthers(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{
			{ID: "a1", ClientName: "Jane Doe", Service: "Haircut", StartTime: start},
			{ID: "a2", ClientName: "Ana", Service: "Color", StartTime: start.Add(3 * time.Minute)},
		},
		[]Token{{ID: "t1", Value: "tok-1"}},
	)
	sender := &fakeSender{
		failOn: func(n push.Notification) error {
			if strings.Contains(n.Body, "Jane Doe") {
				return errors.New("relay unavailable")
			}
			return nil
		},
	}
	d := newTestDispatcher(store, sender, nil, Config{}, start.Add(-10*time.Minute))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected the second appointment to be attempted, got %d sends", len(sender.calls))
	}
	if store.sent["a1"] {
		t.Fatal("failed reminder must not be marked sent")
	}
	if !store.sent["a2"] {
		t.Fatal("successful reminder should be marked sent")
	}

	// Next tick retries the failed appointment once the relay recovers.
	sender.failOn = nil
	d.now = func() time.Time { return start.Add(-9 * time.Minute) }
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("retry tick failed: %v", err)
	}
	if !store.sent["a1"] {
		t.Fatal("retried reminder should be marked sent")
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 total sends after retry, got %d", len(sender.calls))
	}
}

func TestStoreErrorAbortsTick(t *testing.T) {
	store := newFakeStore(nil, nil)
	store.dueErr = errors.New("connection refused")
	d := newTestDispatcher(store, &fakeSender{}, nil, Config{}, time.Now().UTC())

	if err := d.Tick(context.Background()); err == nil {
		t.Fatal("expected tick error on store failure")
	}
}

func TestInvalidTokensPruned(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		[]Appointment{{ID: "a1", ClientName: "Jane Doe", Service: "Haircut", StartTime: start}},
		[]Token{{ID: "t1", Value: "tok-1"}, {ID: "t2", Value: "tok-stale"}},
	)
	sender := &fakeSender{result: push.Result{Success: 1, Failure: 1, InvalidTokens: []string{"tok-stale", "tok-stale"}}}
	d := newTestDispatcher(store, sender, nil, Config{PruneTokens: true}, start.Add(-5*time.Minute))

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(store.removed) != 1 || store.removed[0] != "tok-stale" {
		t.Fatalf("expected deduped prune of tok-stale, got %v", store.removed)
	}
}
