//go:build unix

package main

import "testing"

func TestExitCode(t *testing.T) {
	tests := []struct {
		status int
		want   int
	}{
		{0, 0},
		{3 << 8, 3},
		{9, 137},
		{15, 143},
	}
	for _, tt := range tests {
		if got := exitCode(tt.status); got != tt.want {
			t.Errorf("exitCode(%#x) = %d, want %d", tt.status, got, tt.want)
		}
	}
}
