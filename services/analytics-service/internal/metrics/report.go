package metrics

import "time"

type Report struct {
	CoachID string `json:"coach_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Days    []Day  `json:"days"`
	Totals  Delta  `json:"totals"`
}

// BuildReport fills the days missing from stored with zero rows so the
// range is dense, and sums the totals.
func BuildReport(coachID string, from, to time.Time, stored []Day) Report {
	byDate := make(map[string]Delta, len(stored))
	for _, d := range stored {
		byDate[d.Date] = d.Delta
	}
	rep := Report{
		CoachID: coachID,
		From:    from.Format(time.DateOnly),
		To:      to.Format(time.DateOnly),
		Days:    []Day{},
	}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(time.DateOnly)
		delta := byDate[date]
		rep.Days = append(rep.Days, Day{Date: date, Delta: delta})
		rep.Totals = rep.Totals.Add(delta)
	}
	return rep
}
