package model

import (
	"strings"
	"time"
)

// DefaultMinThreshold is the fixed low-stock threshold. It is stored per
// item so the cutoff can diverge later without a migration.
const DefaultMinThreshold = 3

type Appointment struct {
	ID            string    `json:"id"`
	ClientName    string    `json:"clientName"`
	Service       string    `json:"service"` // comma-joined set of service tags
	Title         string    `json:"title"`
	Notes         string    `json:"notes"`
	StartTime     time.Time `json:"startISO"`
	EndTime       time.Time `json:"endISO"`
	DurationHours float64   `json:"durationHours"`
	Cost          float64   `json:"cost"`
	Color         string    `json:"color"`
	ReminderSent  bool      `json:"reminderSent"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ServiceTags splits the comma-joined service field into trimmed tags.
func (a Appointment) ServiceTags() []string {
	if strings.TrimSpace(a.Service) == "" {
		return nil
	}
	var tags []string
	for _, s := range strings.Split(a.Service, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}

// HasServiceTag reports whether tag is one of the appointment's services.
func (a Appointment) HasServiceTag(tag string) bool {
	for _, t := range a.ServiceTags() {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StockItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Brand        string    `json:"brand"`
	Category     string    `json:"category"`
	Quantity     int       `json:"quantity"`
	MinThreshold int       `json:"minThreshold"`
	Notes        string    `json:"notes"`
	LastUpdated  time.Time `json:"lastUpdatedISO"`
}

// LowStock is a derived predicate, never stored state.
func (s StockItem) LowStock() bool {
	return s.Quantity <= s.MinThreshold
}

type DeviceToken struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppointmentPatch is a partial update; nil fields are left untouched.
type AppointmentPatch struct {
	ClientName    *string    `json:"clientName"`
	Service       *string    `json:"service"`
	Title         *string    `json:"title"`
	Notes         *string    `json:"notes"`
	StartTime     *time.Time `json:"startISO"`
	EndTime       *time.Time `json:"endISO"`
	DurationHours *float64   `json:"durationHours"`
	Cost          *float64   `json:"cost"`
}

type ClientPatch struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Notes *string `json:"notes"`
}

type StockItemPatch struct {
	Name     *string `json:"name"`
	Brand    *string `json:"brand"`
	Category *string `json:"category"`
	Quantity *int    `json:"quantity"`
	Notes    *string `json:"notes"`
}
