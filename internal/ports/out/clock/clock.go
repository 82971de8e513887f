package clock

import "time"

// Clock is the time source for expiry validation, year widening, fingerprint
// lifetimes and telemetry timestamps.
type Clock interface {
	Now() time.Time
}
