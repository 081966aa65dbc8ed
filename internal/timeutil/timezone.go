package timeutil

import (
	"fmt"
	"time"
	// bench PCs driving the instrument often lack a system zoneinfo
	_ "time/tzdata"
)

// IsTimezoneValid reports whether tz names a zone in the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ConvertTime returns t in the named zone. The journal stores UTC; this is
// for display only. An empty tz means UTC.
func ConvertTime(t time.Time, tz string) (time.Time, error) {
	if tz == "" || tz == "UTC" {
		return t.UTC(), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return t.In(loc), nil
}
