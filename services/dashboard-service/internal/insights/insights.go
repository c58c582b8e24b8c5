package insights

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/glowdesk/backend/services/dashboard-service/internal/model"
)

// Earnings are the running totals shown on the dashboard. Only
// appointments that have already ended are counted.
type Earnings struct {
	Today float64 `json:"today"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
}

type MonthTotal struct {
	Month string  `json:"month"` // YYYY-MM
	Total float64 `json:"total"`
}

type ClientTotal struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

type ServiceStat struct {
	Service          string  `json:"service"`
	Count            int     `json:"count"`
	Total            float64 `json:"total"`
	AvgDurationHours float64 `json:"avgDurationHours"`
}

// Summarize computes all dashboard aggregates in one pass-friendly shape.
type Summary struct {
	Earnings        Earnings      `json:"earnings"`
	MonthlyEarnings []MonthTotal  `json:"monthlyEarnings"`
	TopClients      []ClientTotal `json:"topClients"`
	ServiceStats    []ServiceStat `json:"serviceStats"`
}

func Summarize(appts []model.Appointment, now time.Time) Summary {
	return Summary{
		Earnings:        EarningsSummary(appts, now),
		MonthlyEarnings: MonthlyEarnings(appts, now),
		TopClients:      TopClients(appts, now, 5),
		ServiceStats:    ServiceStats(appts, now),
	}
}

// EarningsSummary totals the cost of completed appointments for today,
// the current week (starting Sunday) and the current month.
func EarningsSummary(appts []model.Appointment, now time.Time) Earnings {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(startOfDay.Weekday()))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var e Earnings
	for _, a := range appts {
		if a.EndTime.After(now) {
			continue
		}
		if !a.StartTime.Before(startOfDay) {
			e.Today += a.Cost
		}
		if !a.StartTime.Before(startOfWeek) {
			e.Week += a.Cost
		}
		if !a.StartTime.Before(startOfMonth) {
			e.Month += a.Cost
		}
	}
	e.Today = round2(e.Today)
	e.Week = round2(e.Week)
	e.Month = round2(e.Month)
	return e
}

// MonthlyEarnings buckets completed-appointment revenue per calendar
// month, sorted chronologically.
func MonthlyEarnings(appts []model.Appointment, now time.Time) []MonthTotal {
	totals := map[string]float64{}
	for _, a := range appts {
		if !a.EndTime.Before(now) {
			continue
		}
		key := fmt.Sprintf("%04d-%02d", a.StartTime.Year(), int(a.StartTime.Month()))
		totals[key] += a.Cost
	}

	out := make([]MonthTotal, 0, len(totals))
	for month, total := range totals {
		out = append(out, MonthTotal{Month: month, Total: round2(total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// TopClients ranks clients by completed spend, descending, capped at n.
func TopClients(appts []model.Appointment, now time.Time, n int) []ClientTotal {
	totals := map[string]float64{}
	for _, a := range appts {
		if !a.EndTime.Before(now) {
			continue
		}
		totals[a.ClientName] += a.Cost
	}

	out := make([]ClientTotal, 0, len(totals))
	for name, total := range totals {
		out = append(out, ClientTotal{Name: name, Total: round2(total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ServiceStats aggregates completed appointments per service tag. A
// multi-service appointment contributes its cost split evenly across its
// tags and its full duration to each tag's average.
func ServiceStats(appts []model.Appointment, now time.Time) []ServiceStat {
	type acc struct {
		total    float64
		count    int
		duration float64
	}
	data := map[string]*acc{}

	for _, a := range appts {
		if !a.EndTime.Before(now) {
			continue
		}
		tags := a.ServiceTags()
		if len(tags) == 0 {
			tags = []string{"Other"}
		}
		duration := a.DurationHours
		if duration <= 0 {
			duration = 1
		}
		share := a.Cost / float64(len(tags))
		for _, tag := range tags {
			st, ok := data[tag]
			if !ok {
				st = &acc{}
				data[tag] = st
			}
			st.total += share
			st.count++
			st.duration += duration
		}
	}

	out := make([]ServiceStat, 0, len(data))
	for tag, st := range data {
		avg := 0.0
		if st.count > 0 {
			avg = st.duration / float64(st.count)
		}
		out = append(out, ServiceStat{
			Service:          tag,
			Count:            st.count,
			Total:            round2(st.total),
			AvgDurationHours: math.Round(avg*10) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
