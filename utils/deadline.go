package utils

import "time"

// Deadline counts the timeout from now.  A timeout that is not positive means
// no deadline, which is the zero time (net.Conn.SetDeadline treats it the same
// way).
func Deadline(timeout time.Duration) time.Time {
	return DeadlineFrom(time.Now(), timeout)
}

// DeadlineFrom counts the timeout from start.
func DeadlineFrom(start time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return start.Add(timeout)
}

// Remaining is the time left until the deadline: zero for no deadline, and
// negative once it has passed.
func Remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	if left := time.Until(deadline); left > 0 {
		return left
	}
	return -time.Nanosecond
}
