package relay

import "time"

// ShouldSendImmediately reports whether an event arriving at now may be sent
// on its own. It may when nothing was ever sent (zero lastSentAt) or when the
// cool-down has fully elapsed.
//
// The comparison is strict: an event arriving exactly at lastSentAt+interval
// is still inside the cool-down and gets queued.
func ShouldSendImmediately(now, lastSentAt time.Time, interval time.Duration) bool {
	return lastSentAt.IsZero() || lastSentAt.Add(interval).Before(now)
}
