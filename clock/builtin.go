package clock

import "time"

var system = &systemClock{start: time.Now()}

// System is the process uptime clock.
func System() Clock {
	return system
}

// UptimeMillis 进程启动以来的毫秒数
func UptimeMillis() int64 {
	return system.UptimeMillis()
}

// Millis converts a duration to whole milliseconds, rounding up so that a
// positive sub-millisecond delay is never turned into zero.
func Millis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
