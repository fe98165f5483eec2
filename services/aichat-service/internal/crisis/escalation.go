package crisis

import "fmt"

// Alert states. An alert only ever moves forward.
const (
	StateDetected     = "detected"
	StateQueued       = "queued"
	StateAcknowledged = "acknowledged"
	StateResolved     = "resolved"
)

var order = map[string]int{
	StateDetected:     0,
	StateQueued:       1,
	StateAcknowledged: 2,
	StateResolved:     3,
}

// CanTransition allows any forward move, so a reviewer may resolve a queued
// alert directly. Staying put or moving back is rejected.
func CanTransition(from, to string) error {
	f, ok := order[from]
	if !ok {
		return fmt.Errorf("unknown state %q", from)
	}
	t, ok := order[to]
	if !ok {
		return fmt.Errorf("unknown state %q", to)
	}
	if t <= f {
		return fmt.Errorf("cannot move alert from %s to %s", from, to)
	}
	return nil
}

func ValidState(s string) bool {
	_, ok := order[s]
	return ok
}
