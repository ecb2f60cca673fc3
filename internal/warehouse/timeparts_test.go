package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecompose(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		want TimeParts
	}{
		{
			name: "wednesday evening",
			ts:   1542837407796,
			want: TimeParts{StartTime: 1542837407796, Hour: 21, Day: 21, Week: 47, Month: 11, Year: 2018, Weekday: 4},
		},
		{
			name: "epoch",
			ts:   0,
			want: TimeParts{StartTime: 0, Hour: 0, Day: 1, Week: 1, Month: 1, Year: 1970, Weekday: 5},
		},
		{
			name: "sunday is day one",
			ts:   1542499200000,
			want: TimeParts{StartTime: 1542499200000, Hour: 0, Day: 18, Week: 46, Month: 11, Year: 2018, Weekday: 1},
		},
		{
			name: "iso week belongs to next year",
			ts:   1546300799999,
			want: TimeParts{StartTime: 1546300799999, Hour: 23, Day: 31, Week: 1, Month: 12, Year: 2018, Weekday: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decompose(tt.ts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Decompose(got.StartTime), "decomposition must be idempotent")
		})
	}
}
