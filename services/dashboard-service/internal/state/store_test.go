package state

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/glowdesk/backend/services/dashboard-service/internal/model"
)

type fakeDurable struct {
	appointments map[string]model.Appointment
	clients      map[string]model.Client
	stock        map[string]model.StockItem
	nextID       int
	failNext     error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		appointments: map[string]model.Appointment{},
		clients:      map[string]model.Client{},
		stock:        map[string]model.StockItem{},
	}
}

func (f *fakeDurable) fail() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeDurable) id() string {
	f.nextID++
	return "id-" + string(rune('a'+f.nextID-1))
}

func (f *fakeDurable) ListAppointments(context.Context) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeDurable) CreateAppointment(_ context.Context, a *model.Appointment) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	id := f.id()
	cp := *a
	cp.ID = id
	f.appointments[id] = cp
	return id, nil
}

func (f *fakeDurable) UpdateAppointment(_ context.Context, id string, patch model.AppointmentPatch) error {
	if err := f.fail(); err != nil {
		return err
	}
	a, ok := f.appointments[id]
	if !ok {
		return errors.New("not found")
	}
	if patch.ClientName != nil {
		a.ClientName = *patch.ClientName
	}
	if patch.Cost != nil {
		a.Cost = *patch.Cost
	}
	f.appointments[id] = a
	return nil
}

func (f *fakeDurable) DeleteAppointment(_ context.Context, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.appointments, id)
	return nil
}

func (f *fakeDurable) DeleteAppointmentsByClientName(_ context.Context, name string) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	var n int64
	for id, a := range f.appointments {
		if a.ClientName == name {
			delete(f.appointments, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeDurable) ListClients(context.Context) ([]model.Client, error) {
	var out []model.Client
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeDurable) CreateClient(_ context.Context, c *model.Client) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	id := f.id()
	cp := *c
	cp.ID = id
	f.clients[id] = cp
	return id, nil
}

func (f *fakeDurable) UpdateClient(_ context.Context, id string, patch model.ClientPatch) error {
	if err := f.fail(); err != nil {
		return err
	}
	c, ok := f.clients[id]
	if !ok {
		return errors.New("not found")
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	f.clients[id] = c
	return nil
}

func (f *fakeDurable) DeleteClient(_ context.Context, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.clients, id)
	return nil
}

func (f *fakeDurable) ListStock(context.Context) ([]model.StockItem, error) {
	var out []model.StockItem
	for _, s := range f.stock {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeDurable) CreateStockItem(_ context.Context, s *model.StockItem) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	id := f.id()
	cp := *s
	cp.ID = id
	f.stock[id] = cp
	return id, nil
}

func (f *fakeDurable) UpdateStockItem(_ context.Context, id string, patch model.StockItemPatch) error {
	if err := f.fail(); err != nil {
		return err
	}
	s, ok := f.stock[id]
	if !ok {
		return errors.New("not found")
	}
	if patch.Quantity != nil {
		s.Quantity = *patch.Quantity
	}
	f.stock[id] = s
	return nil
}

func (f *fakeDurable) DeleteStockItem(_ context.Context, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.stock, id)
	return nil
}

type fakeMirror struct {
	snapshots map[string]any
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{snapshots: map[string]any{}}
}

func (f *fakeMirror) Restore(context.Context, string, any) (bool, error) {
	return false, nil
}

func (f *fakeMirror) Snapshot(_ context.Context, key string, value any) error {
	f.snapshots[key] = value
	return nil
}

func newTestStore(durable Durable, m Mirror) *Store {
	return New(durable, m, nil, slog.New(slog.DiscardHandler))
}

func TestAddAppointmentWritesThroughAndMirrors(t *testing.T) {
	durable := newFakeDurable()
	m := newFakeMirror()
	s := newTestStore(durable, m)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	created, err := s.AddAppointment(context.Background(), model.Appointment{
		ClientName: "Jane Doe",
		Service:    "Highlights",
		StartTime:  start,
		EndTime:    start.Add(90 * time.Minute),
		Cost:       80,
	})
	if err != nil {
		t.Fatalf("AddAppointment failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected store-assigned id")
	}
	if created.Color != model.ColorForService("Highlights") {
		t.Fatalf("expected derived color, got %q", created.Color)
	}
	if created.DurationHours != 1.5 {
		t.Fatalf("expected derived duration 1.5h, got %v", created.DurationHours)
	}
	if created.ReminderSent {
		t.Fatal("new appointment must start with reminderSent=false")
	}
	if len(durable.appointments) != 1 {
		t.Fatalf("expected durable write, got %d records", len(durable.appointments))
	}
	if _, ok := m.snapshots["appointments"]; !ok {
		t.Fatal("expected appointments snapshot in mirror")
	}
}

func TestDurableFailureLeavesMemoryUntouched(t *testing.T) {
	durable := newFakeDurable()
	m := newFakeMirror()
	s := newTestStore(durable, m)

	durable.failNext = errors.New("backend unavailable")
	_, err := s.AddAppointment(context.Background(), model.Appointment{
		ClientName: "Jane Doe",
		StartTime:  time.Now(),
		EndTime:    time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected error from durable write")
	}
	if len(s.Appointments()) != 0 {
		t.Fatal("in-memory state must not change on durable failure")
	}
	if _, ok := m.snapshots["appointments"]; ok {
		t.Fatal("mirror must not be updated on durable failure")
	}
}

func TestRemoveClientCascades(t *testing.T) {
	durable := newFakeDurable()
	s := newTestStore(durable, newFakeMirror())

	client, err := s.AddClient(context.Background(), model.Client{Name: "Jane Doe", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("AddClient failed: %v", err)
	}
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.AddAppointment(context.Background(), model.Appointment{
			ClientName: "Jane Doe",
			StartTime:  start.Add(time.Duration(i) * time.Hour),
			EndTime:    start.Add(time.Duration(i)*time.Hour + time.Hour),
		})
		if err != nil {
			t.Fatalf("AddAppointment failed: %v", err)
		}
	}
	if _, err := s.AddAppointment(context.Background(), model.Appointment{
		ClientName: "Someone Else",
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
	}); err != nil {
		t.Fatalf("AddAppointment failed: %v", err)
	}

	if err := s.RemoveClient(context.Background(), client.ID); err != nil {
		t.Fatalf("RemoveClient failed: %v", err)
	}

	if len(durable.clients) != 0 {
		t.Fatal("client not removed from durable store")
	}
	for _, a := range durable.appointments {
		if a.ClientName == "Jane Doe" {
			t.Fatal("cascade left a durable appointment for the deleted client")
		}
	}
	for _, a := range s.Appointments() {
		if a.ClientName == "Jane Doe" {
			t.Fatal("cascade left an in-memory appointment for the deleted client")
		}
	}
	if len(s.Appointments()) != 1 {
		t.Fatalf("expected 1 surviving appointment, got %d", len(s.Appointments()))
	}
}

func TestCascadeAbortsBeforeClientDeleteOnFailure(t *testing.T) {
	durable := newFakeDurable()
	s := newTestStore(durable, newFakeMirror())

	client, err := s.AddClient(context.Background(), model.Client{Name: "Jane Doe"})
	if err != nil {
		t.Fatalf("AddClient failed: %v", err)
	}
	start := time.Now().UTC()
	if _, err := s.AddAppointment(context.Background(), model.Appointment{
		ClientName: "Jane Doe",
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
	}); err != nil {
		t.Fatalf("AddAppointment failed: %v", err)
	}

	durable.failNext = errors.New("backend unavailable")
	if err := s.RemoveClient(context.Background(), client.ID); err == nil {
		t.Fatal("expected cascade failure to propagate")
	}
	if len(durable.clients) != 1 {
		t.Fatal("client must survive when the appointment cascade fails")
	}
	if len(s.Clients()) != 1 || len(s.Appointments()) != 1 {
		t.Fatal("in-memory state must be untouched after a failed cascade")
	}
}

func TestFilteredAppointmentsByServiceTag(t *testing.T) {
	durable := newFakeDurable()
	s := newTestStore(durable, newFakeMirror())

	start := time.Now().UTC()
	add := func(service string) {
		t.Helper()
		if _, err := s.AddAppointment(context.Background(), model.Appointment{
			ClientName: "Jane Doe",
			Service:    service,
			StartTime:  start,
			EndTime:    start.Add(time.Hour),
		}); err != nil {
			t.Fatalf("AddAppointment failed: %v", err)
		}
	}
	add("Haircut")
	add("Color, Treatment")
	add("BlowDry")

	s.SetServiceFilter(context.Background(), "Treatment")
	filtered := s.FilteredAppointments()
	if len(filtered) != 1 {
		t.Fatalf("expected 1 appointment matching Treatment, got %d", len(filtered))
	}
	if filtered[0].Service != "Color, Treatment" {
		t.Fatalf("unexpected filtered appointment %+v", filtered[0])
	}

	s.SetServiceFilter(context.Background(), "All")
	if len(s.FilteredAppointments()) != 3 {
		t.Fatal("All filter must be the identity projection")
	}
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	durable := newFakeDurable()
	s := newTestStore(durable, newFakeMirror())

	item, err := s.AddStockItem(context.Background(), model.StockItem{Name: "Shampoo", Quantity: 2})
	if err != nil {
		t.Fatalf("AddStockItem failed: %v", err)
	}
	if item.Category != "General" {
		t.Fatalf("expected default category, got %q", item.Category)
	}
	if item.MinThreshold != model.DefaultMinThreshold {
		t.Fatalf("expected default threshold, got %d", item.MinThreshold)
	}

	quantity, err := s.AdjustStock(context.Background(), item.ID, -5)
	if err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}
	if quantity != 0 {
		t.Fatalf("expected clamp at 0, got %d", quantity)
	}
	if durable.stock[item.ID].Quantity != 0 {
		t.Fatalf("durable quantity not clamped: %d", durable.stock[item.ID].Quantity)
	}

	low := s.LowStock()
	if len(low) != 1 || low[0].ID != item.ID {
		t.Fatalf("expected item in low-stock projection, got %+v", low)
	}
}
