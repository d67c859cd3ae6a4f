package clients

import "errors"

// ErrClientNotFound is returned when no registration exists for an ID.
var ErrClientNotFound = errors.New("client not found")

// Repo provides read access to client registrations.
type Repo interface {
	Get(clientID string) (*Client, error)
}
