package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatted(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format("2006-01-02")
	}
	return out
}

func TestExpand_Weekly(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 6), Pattern{Frequency: Weekly, Interval: 1}, day(2025, time.January, 31))
	require.NoError(t, err)
	assert.False(t, exp.Truncated)
	assert.Equal(t, []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}, formatted(exp.Dates))
}

func TestExpand_EndInclusive(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 6), Pattern{Frequency: Weekly, Interval: 1}, day(2025, time.January, 27))
	require.NoError(t, err)
	assert.Len(t, exp.Dates, 4)
	assert.Equal(t, "2025-01-27", exp.Dates[3].Format("2006-01-02"))
}

func TestExpand_DailyInterval(t *testing.T) {
	exp, err := Expand(day(2025, time.March, 1), Pattern{Frequency: Daily, Interval: 3}, day(2025, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-01", "2025-03-04", "2025-03-07", "2025-03-10"}, formatted(exp.Dates))
}

func TestExpand_Biweekly(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 6), Pattern{Frequency: Biweekly, Interval: 1}, day(2025, time.February, 28))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-01-20", "2025-02-03", "2025-02-17"}, formatted(exp.Dates))

	exp, err = Expand(day(2025, time.January, 6), Pattern{Frequency: Biweekly, Interval: 2}, day(2025, time.February, 28))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-02-03"}, formatted(exp.Dates))
}

func TestExpand_MonthlyClampsToMonthEnd(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 31), Pattern{Frequency: Monthly, Interval: 1}, day(2025, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30", "2025-05-31"}, formatted(exp.Dates))

	exp, err = Expand(day(2025, time.January, 31), Pattern{Frequency: Monthly, Interval: 1}, day(2025, time.December, 31))
	require.NoError(t, err)
	assert.Len(t, exp.Dates, 12)

	exp, err = Expand(day(2025, time.January, 30), Pattern{Frequency: Monthly, Interval: 2}, day(2025, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-30", "2025-03-30", "2025-05-30"}, formatted(exp.Dates))
}

func TestExpand_MonthlyLeapDay(t *testing.T) {
	exp, err := Expand(day(2024, time.February, 29), Pattern{Frequency: Monthly, Interval: 12}, day(2029, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-29", "2025-02-28", "2026-02-28", "2027-02-28", "2028-02-29"}, formatted(exp.Dates))
}

func TestExpand_MonthlyEarlyDay(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 15), Pattern{Frequency: Monthly, Interval: 1}, day(2025, time.April, 14))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-15"}, formatted(exp.Dates))
}

func TestExpand_EndInOtherZone(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)

	// Midnight UTC on the 27th is still the 26th in EST.
	anchor := time.Date(2025, time.January, 6, 0, 0, 0, 0, est)
	exp, err := Expand(anchor, Pattern{Frequency: Weekly, Interval: 1}, day(2025, time.January, 27))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}, formatted(exp.Dates))
}

func TestExpand_Truncated(t *testing.T) {
	anchor := day(2025, time.January, 1)
	exp, err := Expand(anchor, Pattern{Frequency: Daily, Interval: 1}, anchor.AddDate(2, 0, 0))
	require.NoError(t, err)
	assert.True(t, exp.Truncated)
	assert.Len(t, exp.Dates, MaxOccurrences)
	assert.Equal(t, anchor, exp.Dates[0])
	assert.Equal(t, anchor.AddDate(0, 0, MaxOccurrences-1), exp.Dates[MaxOccurrences-1])
}

func TestExpand_ExactlyAtCap(t *testing.T) {
	anchor := day(2025, time.January, 1)
	exp, err := Expand(anchor, Pattern{Frequency: Daily, Interval: 1}, anchor.AddDate(0, 0, MaxOccurrences-1))
	require.NoError(t, err)
	assert.False(t, exp.Truncated)
	assert.Len(t, exp.Dates, MaxOccurrences)
}

func TestExpand_EndBeforeAnchor(t *testing.T) {
	exp, err := Expand(day(2025, time.January, 6), Pattern{Frequency: Weekly, Interval: 1}, day(2025, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06"}, formatted(exp.Dates))
}

func TestExpand_Invalid(t *testing.T) {
	_, err := Expand(day(2025, time.January, 6), Pattern{Frequency: "yearly", Interval: 1}, day(2025, time.February, 1))
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = Expand(day(2025, time.January, 6), Pattern{Frequency: Weekly, Interval: 0}, day(2025, time.February, 1))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency("biweekly")
	require.NoError(t, err)
	assert.Equal(t, Biweekly, f)

	_, err = ParseFrequency("Weekly")
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}
