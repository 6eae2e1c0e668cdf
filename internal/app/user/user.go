/*
Package user contains core data structures and logic related to user identity.

It defines the basic representation of a chat participant (the User struct) and the Directory
used to resolve an authenticated identity into its display profile, both at handshake time and
when a sent message is enriched before fan-out.
*/
package user

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Directory when no user record exists for an identity.
var ErrNotFound = errors.New("user not found")

// User represents the basic identity information of a chat participant.
// Fields use JSON tags for serialization in WebSocket messages.
type User struct {

	// ID is the stable identity of the user (UUID for PostgreSQL, ObjectID hex for MongoDB).
	ID string `json:"id"`

	// Name is the display name of the user.
	Name string `json:"name"`

	// Email is the contact address shown next to the sender of a message.
	Email string `json:"email,omitempty"`

	// Avatar is the URL of the user's avatar image.
	Avatar string `json:"avatar,omitempty"`
}

// Bare returns a User carrying only the identity, used when a profile cannot be resolved.
func Bare(id string) User {
	return User{ID: id}
}

// Directory resolves identities into user profiles.
type Directory interface {
	// FindUser returns the profile for id, or ErrNotFound.
	FindUser(ctx context.Context, id string) (User, error)
}

// SubjectResolver is implemented by directories whose user ids differ from the subject carried
// by identity tokens (e.g. an external auth provider id stored on the user record).
type SubjectResolver interface {
	FindUserBySubject(ctx context.Context, subject string) (User, error)
}
