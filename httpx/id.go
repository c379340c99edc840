package httpx

import "github.com/google/uuid"

// newID returns a random identifier for connections and requests.
func newID() string {
	return uuid.NewString()
}
