package kitchen

import (
	"fmt"
	"time"
	_ "time/tzdata" // the display must work on hosts without a zoneinfo database
)

const (
	// DefaultTimezone is the kitchen's local timezone (US/Eastern)
	DefaultTimezone = "America/New_York"
	// DefaultTimeLayout renders creation times as "03/15/2024 01:07 PM"
	DefaultTimeLayout = "01/02/2006 03:04 PM"
)

// LoadLocation resolves a timezone name, falling back to DefaultTimezone when
// name is empty
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
