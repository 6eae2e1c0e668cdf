/*
Package randx provides functions for generating unique identifiers.

It is used to generate session ids for WebSocket connections and standard UUID message ids.
*/
package randx

import (
	"github.com/google/uuid"
)

// SessionID generates a random UUID v4 string identifying one WebSocket connection.
func SessionID() string {
	return uuid.NewString()
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}
