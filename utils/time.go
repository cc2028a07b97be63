// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC. All persisted timestamps go
// through this so rows compare cleanly regardless of server timezone.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// RFC3339Ptr formats an optional timestamp for API responses, keeping
// nil as nil
func RFC3339Ptr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
