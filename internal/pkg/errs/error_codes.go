/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific gateway failures both internally
within the server and in the error events sent to connected clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidEvent indicates that an inbound WebSocket frame could not be decoded.
	ErrInvalidEvent = 1002

	// ErrUnsupportedEvent indicates that an inbound WebSocket frame carried an unknown event type.
	ErrUnsupportedEvent = 1003

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Conversation and Content Business Logic Errors
const (
	// ErrMessageEmpty indicates that the message text was empty after trimming.
	ErrMessageEmpty = 2201

	// ErrMessageContentTooLong indicates that the user's message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2202

	// ErrNotAuthorized indicates that the sender is not a participant of the target conversation,
	// or that the conversation does not exist.
	ErrNotAuthorized = 2301
)

// 3xxx: Identity and Session Errors
const (
	// ErrAuthentication indicates a missing, malformed, or rejected credential at handshake time.
	ErrAuthentication = 3101

	// ErrSessionClosed indicates that the session is shutting down and no longer accepts events.
	ErrSessionClosed = 3102
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistence indicates that the conversation store was unavailable or rejected a write.
	ErrPersistence = 5101

	// ErrMetadataUpdate indicates that a message was appended but the conversation pointer was not updated.
	// It is logged only and never sent to clients.
	ErrMetadataUpdate = 5102
)
