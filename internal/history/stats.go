package history

import (
	"time"

	"github.com/relist-ops/relist/internal/inbox"
)

// Stats are derived from the ledger on demand and never stored as truth.
type Stats struct {
	Today      int                    `json:"today"`
	Week       int                    `json:"week"`
	AllTime    int                    `json:"all_time"`
	ByCategory map[inbox.Category]int `json:"by_category"`
	Days       []DayCount             `json:"days"` // most recent first
	Pending    int                    `json:"pending"`
}

// DayCount is the number of commits on one local calendar day.
type DayCount struct {
	Date  string `json:"date"` // 2006-01-02
	Count int    `json:"count"`
}

// Statistics counts commits for today, the last seven days, all time, and
// each of the last rangeDays days.
func (s *Store) Statistics(rangeDays int) Stats {
	return ComputeStats(s.ledger, s.now(), rangeDays, len(s.Pending()))
}

// ComputeStats derives statistics from ledger records using now's location
// for day boundaries.
func ComputeStats(ledger []Record, now time.Time, rangeDays, pending int) Stats {
	if rangeDays <= 0 {
		rangeDays = 7
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	weekStart := today.AddDate(0, 0, -6)

	st := Stats{
		AllTime:    len(ledger),
		ByCategory: make(map[inbox.Category]int),
		Pending:    pending,
	}

	perDay := DayCounts(ledger, loc)
	for _, r := range ledger {
		at := r.CommittedAt.In(loc)
		st.ByCategory[r.Category]++
		if !at.Before(today) {
			st.Today++
		}
		if !at.Before(weekStart) {
			st.Week++
		}
	}

	for i := 0; i < rangeDays; i++ {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")
		st.Days = append(st.Days, DayCount{Date: day, Count: perDay[day]})
	}
	return st
}

// DayCounts buckets ledger records by local calendar day.
func DayCounts(ledger []Record, loc *time.Location) map[string]int {
	counts := make(map[string]int)
	for _, r := range ledger {
		counts[r.CommittedAt.In(loc).Format("2006-01-02")]++
	}
	return counts
}
