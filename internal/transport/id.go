package transport

import "github.com/google/uuid"

// connectionID mints the broker-assigned identifier unique for the
// process's lifetime.
func connectionID() string {
	return uuid.NewString()
}
