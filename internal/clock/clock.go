// Package clock provides the wall clock used outside of tests.
package clock

import "time"

// System is the real clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
