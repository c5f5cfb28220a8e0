package clock

import "time"

// Clock abstracts wall-clock time so schedules and cooldowns can be tested.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns the system clock in UTC.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }
