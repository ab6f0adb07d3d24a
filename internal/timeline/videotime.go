package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Providers speak video-relative time: seconds from the start of a batch's
// stitched video, written "mm:ss" (or "h:mm:ss" past the hour). The
// scheduler converts to absolute unix time using the batch's first-chunk
// start before anything is persisted.

// FormatVideoTime renders video-relative seconds as "mm:ss" or "h:mm:ss".
func FormatVideoTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ParseVideoTime parses "mm:ss" or "h:mm:ss" into video-relative seconds.
func ParseVideoTime(raw string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid video timestamp %q", raw)
	}

	var total int64
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid video timestamp %q", raw)
		}
		total = total*60 + n
	}
	return total, nil
}

// ToAbsolute converts video-relative seconds to absolute unix time.
func ToAbsolute(batchStart, relative int64) int64 {
	return batchStart + relative
}

// ToRelative converts absolute unix time back to video-relative seconds.
func ToRelative(batchStart, absolute int64) int64 {
	return absolute - batchStart
}

// LogicalDay returns the logical day containing ts as "2006-01-02".
// Days roll over at boundaryHour local time rather than midnight, so a
// session spanning midnight stays in one logical day.
func LogicalDay(ts int64, boundaryHour int) string {
	t := time.Unix(ts, 0).Local().Add(-time.Duration(boundaryHour) * time.Hour)
	return t.Format("2006-01-02")
}

// DayRange returns the [start, end) unix range of the given logical day.
func DayRange(day string, boundaryHour int) (int64, int64, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day %q (want YYYY-MM-DD): %w", day, err)
	}
	start := t.Add(time.Duration(boundaryHour) * time.Hour)
	end := start.Add(24 * time.Hour)
	return start.Unix(), end.Unix(), nil
}
