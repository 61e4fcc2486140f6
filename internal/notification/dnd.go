package notification

import (
	"fmt"
	"time"
)

// InDoNotDisturb reports whether local falls inside the window. local must
// already be expressed in the clinic's zone.
func InDoNotDisturb(dnd DoNotDisturb, local time.Time) bool {
	if !dnd.Enabled {
		return false
	}
	from, err := minuteOfDay(dnd.From)
	if err != nil {
		return false
	}
	to, err := minuteOfDay(dnd.To)
	if err != nil {
		return false
	}

	now := local.Hour()*60 + local.Minute()
	switch {
	case from == to:
		return false
	case from < to:
		return now >= from && now < to
	default:
		return now >= from || now < to
	}
}

func minuteOfDay(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q, expected HH:MM", clock)
	}
	return t.Hour()*60 + t.Minute(), nil
}
