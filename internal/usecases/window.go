package usecases

import "time"

// SettlementHour is when the accounting day rolls over.
const SettlementHour = 4

// SettlementWindow returns the accounting day containing t in loc: from
// 04:00 to 04:00 the next day, start inclusive.
func SettlementWindow(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	day := t
	if t.Hour() < SettlementHour {
		day = t.AddDate(0, 0, -1)
	}
	start = time.Date(day.Year(), day.Month(), day.Day(), SettlementHour, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour)
}
