package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"unset uses default true", "", true, true},
		{"unset uses default false", "", false, false},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes", "yes", false, true},
		{"on", "on", false, true},
		{"mixed case", "TrUe", false, true},
		{"padded", "  true  ", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"no", "no", true, false},
		{"off", "off", true, false},
		{"garbage uses default", "maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TRTFLOW_TEST_BOOL", tt.value)
			}
			if got := ParseBoolEnv("TRTFLOW_TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{"unset uses default", "", time.Hour, time.Hour},
		{"hours", "48h", time.Hour, 48 * time.Hour},
		{"compound", "1h30m", time.Hour, 90 * time.Minute},
		{"padded", " 10m ", time.Hour, 10 * time.Minute},
		{"garbage uses default", "soon", time.Hour, time.Hour},
		{"bare number uses default", "30", time.Hour, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TRTFLOW_TEST_DURATION", tt.value)
			}
			if got := ParseDurationEnv("TRTFLOW_TEST_DURATION", tt.def); got != tt.expected {
				t.Errorf("ParseDurationEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
			}
		})
	}
}
