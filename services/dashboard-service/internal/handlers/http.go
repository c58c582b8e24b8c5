package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/glowdesk/backend/services/dashboard-service/internal/insights"
	"github.com/glowdesk/backend/services/dashboard-service/internal/model"
	"github.com/glowdesk/backend/services/dashboard-service/internal/state"
	"github.com/glowdesk/backend/services/dashboard-service/internal/storage"
)

// TokenRegistry is the device-token surface of the document store.
type TokenRegistry interface {
	InsertToken(ctx context.Context, token string) (string, error)
	CountTokens(ctx context.Context) (int, error)
}

type Handler struct {
	store  *state.Store
	tokens TokenRegistry
}

func New(store *state.Store, tokens TokenRegistry) *Handler {
	return &Handler{store: store, tokens: tokens}
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	var appts []model.Appointment
	if isTruthy(r.URL.Query().Get("filtered")) {
		appts = h.store.FilteredAppointments()
	} else {
		appts = h.store.Appointments()
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

type appointmentRequest struct {
	ClientName    string  `json:"clientName"`
	Service       string  `json:"service"`
	Title         string  `json:"title"`
	Notes         string  `json:"notes"`
	StartISO      string  `json:"startISO"`
	EndISO        string  `json:"endISO"`
	DurationHours float64 `json:"durationHours"`
	Cost          float64 `json:"cost"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ClientName = strings.TrimSpace(req.ClientName)
	if req.ClientName == "" {
		http.Error(w, "clientName required", http.StatusBadRequest)
		return
	}
	start, end, err := parseInterval(req.StartISO, req.EndISO)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Cost < 0 {
		http.Error(w, "cost must be non-negative", http.StatusBadRequest)
		return
	}

	created, err := h.store.AddAppointment(r.Context(), model.Appointment{
		ClientName:    req.ClientName,
		Service:       strings.TrimSpace(req.Service),
		Title:         strings.TrimSpace(req.Title),
		Notes:         req.Notes,
		StartTime:     start,
		EndTime:       end,
		DurationHours: req.DurationHours,
		Cost:          req.Cost,
	})
	if err != nil {
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type appointmentPatchRequest struct {
	ID            string   `json:"id"`
	ClientName    *string  `json:"clientName"`
	Service       *string  `json:"service"`
	Title         *string  `json:"title"`
	Notes         *string  `json:"notes"`
	StartISO      *string  `json:"startISO"`
	EndISO        *string  `json:"endISO"`
	DurationHours *float64 `json:"durationHours"`
	Cost          *float64 `json:"cost"`
}

func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if req.Cost != nil && *req.Cost < 0 {
		http.Error(w, "cost must be non-negative", http.StatusBadRequest)
		return
	}

	patch := model.AppointmentPatch{
		ClientName:    req.ClientName,
		Service:       req.Service,
		Title:         req.Title,
		Notes:         req.Notes,
		DurationHours: req.DurationHours,
		Cost:          req.Cost,
	}
	if req.StartISO != nil {
		t, err := parseTimestamp(*req.StartISO, "startISO")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		patch.StartTime = &t
	}
	if req.EndISO != nil {
		t, err := parseTimestamp(*req.EndISO, "endISO")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		patch.EndTime = &t
	}
	if patch.StartTime != nil && patch.EndTime != nil && !patch.EndTime.After(*patch.StartTime) {
		http.Error(w, "endISO must be after startISO", http.StatusBadRequest)
		return
	}

	if err := h.store.EditAppointment(r.Context(), req.ID, patch); err != nil {
		writeStorageError(w, err, "failed to update appointment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if err := h.store.RemoveAppointment(r.Context(), id); err != nil {
		writeStorageError(w, err, "failed to delete appointment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.store.Clients()
	if clients == nil {
		clients = []model.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	created, err := h.store.AddClient(r.Context(), model.Client{
		Name:  req.Name,
		Phone: strings.TrimSpace(req.Phone),
		Notes: req.Notes,
	})
	if err != nil {
		http.Error(w, "failed to create client", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string  `json:"id"`
		Name  *string `json:"name"`
		Phone *string `json:"phone"`
		Notes *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		http.Error(w, "name must not be empty", http.StatusBadRequest)
		return
	}

	err := h.store.EditClient(r.Context(), req.ID, model.ClientPatch{
		Name:  req.Name,
		Phone: req.Phone,
		Notes: req.Notes,
	})
	if err != nil {
		writeStorageError(w, err, "failed to update client")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteClient removes the client and cascades to all appointments booked
// under the client's name.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if err := h.store.RemoveClient(r.Context(), id); err != nil {
		writeStorageError(w, err, "failed to delete client")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	items := h.store.Stock()
	if items == nil {
		items = []model.StockItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items := h.store.LowStock()
	if items == nil {
		items = []model.StockItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateStockItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Brand    string `json:"brand"`
		Category string `json:"category"`
		Quantity int    `json:"quantity"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	created, err := h.store.AddStockItem(r.Context(), model.StockItem{
		Name:     req.Name,
		Brand:    strings.TrimSpace(req.Brand),
		Category: strings.TrimSpace(req.Category),
		Quantity: req.Quantity,
		Notes:    req.Notes,
	})
	if err != nil {
		http.Error(w, "failed to create stock item", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateStockItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string  `json:"id"`
		Name     *string `json:"name"`
		Brand    *string `json:"brand"`
		Category *string `json:"category"`
		Quantity *int    `json:"quantity"`
		Notes    *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	err := h.store.EditStockItem(r.Context(), req.ID, model.StockItemPatch{
		Name:     req.Name,
		Brand:    req.Brand,
		Category: req.Category,
		Quantity: req.Quantity,
		Notes:    req.Notes,
	})
	if err != nil {
		writeStorageError(w, err, "failed to update stock item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"id"`
		Delta int    `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	quantity, err := h.store.AdjustStock(r.Context(), req.ID, req.Delta)
	if err != nil {
		writeStorageError(w, err, "failed to adjust stock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "quantity": quantity})
}

func (h *Handler) DeleteStockItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if err := h.store.RemoveStockItem(r.Context(), id); err != nil {
		writeStorageError(w, err, "failed to delete stock item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterToken appends a push device token to the registry.
func (h *Handler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}

	id, err := h.tokens.InsertToken(r.Context(), req.Token)
	if err != nil {
		http.Error(w, "failed to register token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) TokenCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.tokens.CountTokens(r.Context())
	if err != nil {
		http.Error(w, "failed to count tokens", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *Handler) GetNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notes": h.store.QuickNotes()})
}

func (h *Handler) PutNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	h.store.SetQuickNotes(r.Context(), req.Notes)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"view":          h.store.View(),
		"serviceFilter": h.store.ServiceFilter(),
	})
}

func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View          *string `json:"view"`
		ServiceFilter *string `json:"serviceFilter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.View != nil {
		view := strings.TrimSpace(*req.View)
		if view != "week" && view != "day" {
			http.Error(w, "view must be week or day", http.StatusBadRequest)
			return
		}
		h.store.SetView(r.Context(), view)
	}
	if req.ServiceFilter != nil {
		h.store.SetServiceFilter(r.Context(), strings.TrimSpace(*req.ServiceFilter))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	summary := insights.Summarize(h.store.Appointments(), time.Now().UTC())
	writeJSON(w, http.StatusOK, summary)
}

func parseInterval(startISO, endISO string) (time.Time, time.Time, error) {
	start, err := parseTimestamp(startISO, "startISO")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimestamp(endISO, "endISO")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("endISO must be after startISO")
	}
	return start, end, nil
}

func parseTimestamp(raw, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errors.New(field + " must be RFC 3339")
	}
	return t.UTC(), nil
}

func writeStorageError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
