package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in        string
		h, m, s   int
		dayOffset int
		wantErr   bool
	}{
		{in: "00:00:00"},
		{in: "08:05:09", h: 8, m: 5, s: 9},
		{in: " 7:30:00", h: 7, m: 30},
		{in: "23:59:59", h: 23, m: 59, s: 59},
		{in: "24:00:00", dayOffset: 1},
		{in: "27:15:00", h: 3, m: 15, dayOffset: 1},
		{in: "47:59:59", h: 23, m: 59, s: 59, dayOffset: 1},
		{in: "48:00:00", wantErr: true},
		{in: "12:60:00", wantErr: true},
		{in: "12:00:60", wantErr: true},
		{in: "12:00", wantErr: true},
		{in: "12:00:00:00", wantErr: true},
		{in: "-1:00:00", wantErr: true},
		{in: "ab:cd:ef", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, s, off, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.h, tt.m, tt.s, tt.dayOffset}, []int{h, m, s, off})
		})
	}
}

func TestScheduledInstant(t *testing.T) {
	now := time.Date(2025, 12, 31, 23, 40, 0, 0, mountain)

	got, err := ScheduledInstant("25:10:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 10, 0, 0, mountain), got)

	got, err = ScheduledInstant("06:00:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 31, 6, 0, 0, 0, mountain), got)
}

func TestDelay(t *testing.T) {
	sched := time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(90), Delay(sched.Add(90*time.Second+900*time.Millisecond), sched))
	assert.Equal(t, int64(-90), Delay(sched.Add(-90*time.Second-900*time.Millisecond), sched))
	assert.Equal(t, int64(43200), Delay(sched.Add(12*time.Hour), sched))
	assert.Equal(t, int64(0), Delay(sched.Add(12*time.Hour+time.Millisecond), sched))
	assert.Equal(t, int64(0), Delay(sched.Add(-13*time.Hour), sched))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "LATE", string(Classify(301)))
	assert.Equal(t, "ON_TIME", string(Classify(300)))
	assert.Equal(t, "ON_TIME", string(Classify(-120)))
	assert.Equal(t, "EARLY", string(Classify(-121)))
}
