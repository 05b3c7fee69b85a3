package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bogota(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation("")
	require.NoError(t, err)
	return loc
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()

	loc := bogota(t)
	assert.Equal(t, DefaultZone, loc.String())

	_, err := LoadLocation("Mars/Olympus")
	require.Error(t, err)
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	loc := bogota(t)
	// 03:00 UTC on Sep 2 is still Sep 1 in Bogota.
	instant := time.Date(2025, time.September, 2, 3, 0, 0, 0, time.UTC)
	start, end := DayBounds(instant, loc)

	assert.WithinDuration(t, time.Date(2025, time.September, 1, 5, 0, 0, 0, time.UTC), start, 0)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestDateRange(t *testing.T) {
	t.Parallel()

	loc := bogota(t)

	t.Run("inclusive day resolution", func(t *testing.T) {
		start, end, err := DateRange("2025-09-01", "2025-09-01", loc)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, loc), start, 0)
		assert.WithinDuration(t, time.Date(2025, time.September, 2, 0, 0, 0, 0, loc), end, 0)
	})

	t.Run("open bounds", func(t *testing.T) {
		start, end, err := DateRange("", "2025-09-03", loc)
		require.NoError(t, err)
		assert.True(t, start.IsZero())
		assert.WithinDuration(t, time.Date(2025, time.September, 4, 0, 0, 0, 0, loc), end, 0)
	})

	t.Run("rejects malformed and inverted ranges", func(t *testing.T) {
		_, _, err := DateRange("09/01/2025", "", loc)
		require.Error(t, err)

		_, _, err = DateRange("2025-09-03", "2025-09-01", loc)
		require.Error(t, err)
	})
}

func TestFormatRange(t *testing.T) {
	t.Parallel()

	loc := bogota(t)
	start := time.Date(2025, time.September, 1, 8, 0, 0, 0, loc)

	assert.Equal(t, "2025-09-01 08:00-12:00", FormatRange(start, start.Add(4*time.Hour), loc))
	assert.Equal(t, "2025-09-01 08:00 - 2025-09-02 02:00", FormatRange(start, start.Add(18*time.Hour), loc))
}
