package humantime

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{-time.Second, "0 seconds"},
		{time.Second * 42, "42 seconds"},
		{time.Second * 60 * 5, "5 minutes"},
		{time.Hour * 3, "3 hours"},
		{time.Minute * 210, "3.5 hours"},
		{time.Hour * 49, "2 days"},
		{time.Hour * 60, "2.5 days"},
		{time.Hour * 24 * 900, "900 days"},
	}

	for _, test := range tests {
		if actual, expected := Duration(test.input), test.expected; actual != expected {
			t.Errorf("Duration(%v) Got: %q; Expected: %q", test.input, actual, expected)
		}
	}
}

func TestSince(t *testing.T) {
	if actual, expected := Since(time.Now().Add(-42*time.Second)), "42 seconds"; actual != expected {
		t.Errorf("Got: %q; Expected: %q", actual, expected)
	}
}
