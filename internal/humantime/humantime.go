// Package humantime formats how long a connection has been around.
package humantime

import (
	"strconv"
	"time"
)

// Since returns a human-friendly rendering of the time elapsed since t.
func Since(t time.Time) string {
	return Duration(time.Since(t))
}

// Duration rounds d to the largest unit that keeps it readable, e.g.
// "42 seconds", "5 minutes", "3.5 hours" or "2 days".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		d = 0
	case d < time.Minute*2:
		return format(d.Seconds(), 0, "seconds")
	case d < time.Hour*2:
		return format(d.Minutes(), 0, "minutes")
	case d < time.Hour*48:
		return format(d.Hours(), 1, "hours")
	default:
		return format(d.Hours()/24, 1, "days")
	}
	return format(0, 0, "seconds")
}

func format(v float64, prec int, unit string) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if prec > 0 && s[len(s)-2:] == ".0" {
		// Whole numbers read better without the fraction.
		s = s[:len(s)-2]
	}
	return s + " " + unit
}
