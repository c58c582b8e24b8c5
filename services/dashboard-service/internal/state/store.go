package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/glowdesk/backend/libs/kafkax"
	"github.com/glowdesk/backend/services/dashboard-service/internal/model"
)

// Durable is the document-store surface the state store writes through.
// Implemented by the Postgres repository; tests substitute fakes.
type Durable interface {
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, a *model.Appointment) (string, error)
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) error
	DeleteAppointment(ctx context.Context, id string) error
	DeleteAppointmentsByClientName(ctx context.Context, clientName string) (int64, error)

	ListClients(ctx context.Context) ([]model.Client, error)
	CreateClient(ctx context.Context, c *model.Client) (string, error)
	UpdateClient(ctx context.Context, id string, patch model.ClientPatch) error
	DeleteClient(ctx context.Context, id string) error

	ListStock(ctx context.Context) ([]model.StockItem, error)
	CreateStockItem(ctx context.Context, s *model.StockItem) (string, error)
	UpdateStockItem(ctx context.Context, id string, patch model.StockItemPatch) error
	DeleteStockItem(ctx context.Context, id string) error
}

// Mirror is the best-effort local cache of the last durable snapshot.
type Mirror interface {
	Restore(ctx context.Context, key string, dest any) (bool, error)
	Snapshot(ctx context.Context, key string, value any) error
}

// Events receives informational domain events. May be nil.
type Events interface {
	Publish(ctx context.Context, e kafkax.Event) error
}

const (
	mirrorAppointments  = "appointments"
	mirrorClients       = "clients"
	mirrorStock         = "stock"
	mirrorQuickNotes    = "quickNotes"
	mirrorView          = "view"
	mirrorServiceFilter = "serviceFilter"
)

// Store is the single in-memory authority for the session's view of
// appointments, clients and stock. Every mutation performs the durable
// write first; only after it succeeds is the in-memory state updated and
// mirrored, so the mirror always reflects the last known durable state.
type Store struct {
	durable Durable
	mirror  Mirror
	events  Events
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	appointments  []model.Appointment
	clients       []model.Client
	stock         []model.StockItem
	quickNotes    string
	view          string
	serviceFilter string
}

func New(durable Durable, mirror Mirror, events Events, logger *slog.Logger) *Store {
	return &Store{
		durable:       durable,
		mirror:        mirror,
		events:        events,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		view:          "week",
		serviceFilter: "All",
	}
}

// Load pre-populates state from the mirror, then replaces it with the
// durable fetch and re-mirrors. Mirror failures are logged only; a
// durable fetch failure leaves the mirror prefill in place and is
// returned to the caller.
func (s *Store) Load(ctx context.Context) error {
	s.restoreFromMirror(ctx)

	appts, err := s.durable.ListAppointments(ctx)
	if err != nil {
		return err
	}
	clients, err := s.durable.ListClients(ctx)
	if err != nil {
		return err
	}
	stock, err := s.durable.ListStock(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.appointments = appts
	s.clients = clients
	s.stock = stock
	s.mu.Unlock()

	s.mirrorSnapshot(ctx, mirrorAppointments, appts)
	s.mirrorSnapshot(ctx, mirrorClients, clients)
	s.mirrorSnapshot(ctx, mirrorStock, stock)
	return nil
}

func (s *Store) restoreFromMirror(ctx context.Context) {
	var (
		appts   []model.Appointment
		clients []model.Client
		stock   []model.StockItem
		notes   string
		view    string
		filter  string
	)
	s.mirrorRestore(ctx, mirrorAppointments, &appts)
	s.mirrorRestore(ctx, mirrorClients, &clients)
	s.mirrorRestore(ctx, mirrorStock, &stock)
	s.mirrorRestore(ctx, mirrorQuickNotes, &notes)
	haveView := s.mirrorRestore(ctx, mirrorView, &view)
	haveFilter := s.mirrorRestore(ctx, mirrorServiceFilter, &filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = appts
	s.clients = clients
	s.stock = stock
	s.quickNotes = notes
	if haveView && view != "" {
		s.view = view
	}
	if haveFilter && filter != "" {
		s.serviceFilter = filter
	}
}

func (s *Store) Appointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, len(s.appointments))
	copy(out, s.appointments)
	return out
}

// FilteredAppointments is a pure projection of the appointment list by
// the selected service tag. "All" is the identity filter.
func (s *Store) FilteredAppointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serviceFilter == "" || s.serviceFilter == "All" {
		out := make([]model.Appointment, len(s.appointments))
		copy(out, s.appointments)
		return out
	}
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.HasServiceTag(s.serviceFilter) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clients() []model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Client, len(s.clients))
	copy(out, s.clients)
	return out
}

func (s *Store) Stock() []model.StockItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StockItem, len(s.stock))
	copy(out, s.stock)
	return out
}

func (s *Store) LowStock() []model.StockItem {
	var out []model.StockItem
	for _, item := range s.Stock() {
		if item.LowStock() {
			out = append(out, item)
		}
	}
	return out
}

func (s *Store) AddAppointment(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	a.Color = model.ColorForService(a.Service)
	if a.DurationHours <= 0 && a.EndTime.After(a.StartTime) {
		a.DurationHours = a.EndTime.Sub(a.StartTime).Hours()
	}
	a.ReminderSent = false
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt

	id, err := s.durable.CreateAppointment(ctx, &a)
	if err != nil {
		return model.Appointment{}, err
	}
	a.ID = id

	s.mu.Lock()
	s.appointments = append(s.appointments, a)
	snapshot := s.appointmentsLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorAppointments, snapshot)

	s.publish(ctx, "appointment.booked.v1", a.ID, map[string]any{
		"appointment_id": a.ID,
		"client_name":    a.ClientName,
		"service":        a.Service,
		"start_time":     a.StartTime.UTC().Format(time.RFC3339),
	})
	return a, nil
}

func (s *Store) EditAppointment(ctx context.Context, id string, patch model.AppointmentPatch) error {
	if err := s.durable.UpdateAppointment(ctx, id, patch); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.appointments {
		if s.appointments[i].ID != id {
			continue
		}
		applyAppointmentPatch(&s.appointments[i], patch)
		s.appointments[i].UpdatedAt = s.now()
		break
	}
	snapshot := s.appointmentsLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorAppointments, snapshot)
	return nil
}

func (s *Store) RemoveAppointment(ctx context.Context, id string) error {
	if err := s.durable.DeleteAppointment(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.appointments = deleteAppointmentByID(s.appointments, id)
	snapshot := s.appointmentsLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorAppointments, snapshot)

	s.publish(ctx, "appointment.cancelled.v1", id, map[string]any{
		"appointment_id": id,
	})
	return nil
}

func (s *Store) AddClient(ctx context.Context, c model.Client) (model.Client, error) {
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	id, err := s.durable.CreateClient(ctx, &c)
	if err != nil {
		return model.Client{}, err
	}
	c.ID = id

	s.mu.Lock()
	s.clients = append(s.clients, c)
	snapshot := s.clientsLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorClients, snapshot)
	return c, nil
}

func (s *Store) EditClient(ctx context.Context, id string, patch model.ClientPatch) error {
	if err := s.durable.UpdateClient(ctx, id, patch); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.clients {
		if s.clients[i].ID != id {
			continue
		}
		if patch.Name != nil {
			s.clients[i].Name = *patch.Name
		}
		if patch.Phone != nil {
			s.clients[i].Phone = *patch.Phone
		}
		if patch.Notes != nil {
			s.clients[i].Notes = *patch.Notes
		}
		s.clients[i].UpdatedAt = s.now()
		break
	}
	snapshot := s.clientsLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorClients, snapshot)
	return nil
}

// RemoveClient deletes a client and cascades to every appointment booked
// under the client's name. The durable cascade completes before the
// client row is deleted, and in-memory state only changes after both
// durable deletes succeed.
func (s *Store) RemoveClient(ctx context.Context, id string) error {
	s.mu.Lock()
	var name string
	var found bool
	for _, c := range s.clients {
		if c.ID == id {
			name = c.Name
			found = true
			break
		}
	}
	s.mu.Unlock()

	removed := int64(0)
	if found {
		var err error
		removed, err = s.durable.DeleteAppointmentsByClientName(ctx, name)
		if err != nil {
			return err
		}
	}
	if err := s.durable.DeleteClient(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	next := s.clients[:0]
	for _, c := range s.clients {
		if c.ID != id {
			next = append(next, c)
		}
	}
	s.clients = next
	if found {
		kept := s.appointments[:0]
		for _, a := range s.appointments {
			if a.ClientName != name {
				kept = append(kept, a)
			}
		}
		s.appointments = kept
	}
	clientSnapshot := s.clientsLocked()
	apptSnapshot := s.appointmentsLocked()
	s.mu.Unlock()

	s.mirrorSnapshot(ctx, mirrorClients, clientSnapshot)
	s.mirrorSnapshot(ctx, mirrorAppointments, apptSnapshot)

	s.publish(ctx, "client.deleted.v1", id, map[string]any{
		"client_id":            id,
		"client_name":          name,
		"appointments_removed": removed,
	})
	return nil
}

func (s *Store) AddStockItem(ctx context.Context, item model.StockItem) (model.StockItem, error) {
	if item.Category == "" {
		item.Category = "General"
	}
	if item.MinThreshold <= 0 {
		item.MinThreshold = model.DefaultMinThreshold
	}
	if item.Quantity < 0 {
		item.Quantity = 0
	}
	item.LastUpdated = s.now()

	id, err := s.durable.CreateStockItem(ctx, &item)
	if err != nil {
		return model.StockItem{}, err
	}
	item.ID = id

	s.mu.Lock()
	s.stock = append(s.stock, item)
	snapshot := s.stockLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorStock, snapshot)
	return item, nil
}

func (s *Store) EditStockItem(ctx context.Context, id string, patch model.StockItemPatch) error {
	if patch.Quantity != nil && *patch.Quantity < 0 {
		zero := 0
		patch.Quantity = &zero
	}
	if err := s.durable.UpdateStockItem(ctx, id, patch); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.stock {
		if s.stock[i].ID != id {
			continue
		}
		if patch.Name != nil {
			s.stock[i].Name = *patch.Name
		}
		if patch.Brand != nil {
			s.stock[i].Brand = *patch.Brand
		}
		if patch.Category != nil {
			s.stock[i].Category = *patch.Category
		}
		if patch.Quantity != nil {
			s.stock[i].Quantity = *patch.Quantity
		}
		if patch.Notes != nil {
			s.stock[i].Notes = *patch.Notes
		}
		s.stock[i].LastUpdated = s.now()
		break
	}
	snapshot := s.stockLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorStock, snapshot)
	return nil
}

// AdjustStock applies a quantity delta, clamped at zero. The current
// quantity is read at call time so concurrent adjustments cannot revive
// a stale count.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	current := 0
	for i := range s.stock {
		if s.stock[i].ID == id {
			current = s.stock[i].Quantity
			break
		}
	}
	s.mu.Unlock()

	next := current + delta
	if next < 0 {
		next = 0
	}
	return next, s.EditStockItem(ctx, id, model.StockItemPatch{Quantity: &next})
}

func (s *Store) RemoveStockItem(ctx context.Context, id string) error {
	if err := s.durable.DeleteStockItem(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	next := s.stock[:0]
	for _, item := range s.stock {
		if item.ID != id {
			next = append(next, item)
		}
	}
	s.stock = next
	snapshot := s.stockLocked()
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorStock, snapshot)
	return nil
}

func (s *Store) QuickNotes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickNotes
}

func (s *Store) SetQuickNotes(ctx context.Context, notes string) {
	s.mu.Lock()
	s.quickNotes = notes
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorQuickNotes, notes)
}

func (s *Store) View() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Store) SetView(ctx context.Context, view string) {
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorView, view)
}

func (s *Store) ServiceFilter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceFilter
}

func (s *Store) SetServiceFilter(ctx context.Context, filter string) {
	if filter == "" {
		filter = "All"
	}
	s.mu.Lock()
	s.serviceFilter = filter
	s.mu.Unlock()
	s.mirrorSnapshot(ctx, mirrorServiceFilter, filter)
}

func (s *Store) appointmentsLocked() []model.Appointment {
	out := make([]model.Appointment, len(s.appointments))
	copy(out, s.appointments)
	return out
}

func (s *Store) clientsLocked() []model.Client {
	out := make([]model.Client, len(s.clients))
	copy(out, s.clients)
	return out
}

func (s *Store) stockLocked() []model.StockItem {
	out := make([]model.StockItem, len(s.stock))
	copy(out, s.stock)
	return out
}

func (s *Store) mirrorSnapshot(ctx context.Context, key string, value any) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Snapshot(ctx, key, value); err != nil {
		s.logger.Warn("mirror snapshot failed", "key", key, "err", err)
	}
}

func (s *Store) mirrorRestore(ctx context.Context, key string, dest any) bool {
	if s.mirror == nil {
		return false
	}
	ok, err := s.mirror.Restore(ctx, key, dest)
	if err != nil {
		s.logger.Warn("mirror restore failed", "key", key, "err", err)
		return false
	}
	return ok
}

func (s *Store) publish(ctx context.Context, topic, key string, payload map[string]any) {
	if s.events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("event payload marshal failed", "topic", topic, "err", err)
		return
	}
	if err := s.events.Publish(ctx, kafkax.Event{Topic: topic, Key: key, Payload: raw}); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "err", err)
	}
}

func applyAppointmentPatch(a *model.Appointment, patch model.AppointmentPatch) {
	if patch.ClientName != nil {
		a.ClientName = *patch.ClientName
	}
	if patch.Service != nil {
		a.Service = *patch.Service
		a.Color = model.ColorForService(*patch.Service)
	}
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	if patch.StartTime != nil {
		a.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		a.EndTime = *patch.EndTime
	}
	if patch.DurationHours != nil {
		a.DurationHours = *patch.DurationHours
	}
	if patch.Cost != nil {
		a.Cost = *patch.Cost
	}
}

func deleteAppointmentByID(appts []model.Appointment, id string) []model.Appointment {
	next := appts[:0]
	for _, a := range appts {
		if a.ID != id {
			next = append(next, a)
		}
	}
	return next
}
