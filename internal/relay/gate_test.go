package relay

import (
	"testing"
	"time"
)

func TestShouldSendImmediately(t *testing.T) {
	t.Parallel()
	interval := 5 * time.Second
	tests := []struct {
		name string
		now  time.Time
		last time.Time
		want bool
	}{
		{name: "never sent", now: at(0), want: true},
		{name: "inside cool-down", now: at(100), last: at(0), want: false},
		{name: "exactly at boundary", now: at(5000), last: at(0), want: false},
		{name: "just after boundary", now: at(5001), last: at(0), want: true},
		{name: "clock went backwards", now: at(0), last: at(3000), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldSendImmediately(tt.now, tt.last, interval); got != tt.want {
				t.Fatalf("ShouldSendImmediately() = %v, want %v", got, tt.want)
			}
		})
	}
}
