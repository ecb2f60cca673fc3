package warehouse

import "time"

// TimeParts is the calendar breakdown of an epoch-millisecond timestamp in
// UTC. Week is the ISO 8601 week number and Weekday runs from 1 (Sunday) to
// 7 (Saturday).
type TimeParts struct {
	StartTime int64
	Hour      int32
	Day       int32
	Week      int32
	Month     int32
	Year      int32
	Weekday   int32
}

// Decompose breaks ts into its calendar parts.
func Decompose(ts int64) TimeParts {
	t := time.UnixMilli(ts).UTC()
	_, week := t.ISOWeek()
	return TimeParts{
		StartTime: ts,
		Hour:      int32(t.Hour()),
		Day:       int32(t.Day()),
		Week:      int32(week),
		Month:     int32(t.Month()),
		Year:      int32(t.Year()),
		Weekday:   int32(t.Weekday()) + 1,
	}
}
