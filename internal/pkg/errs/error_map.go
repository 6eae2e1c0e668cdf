/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error events, and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrInvalidEvent:      {Code: ErrInvalidEvent, Message: "Malformed event."},
	ErrUnsupportedEvent:  {Code: ErrUnsupportedEvent, Message: "Unsupported event type: %s."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Conversation and Content Business Logic Errors
	ErrMessageEmpty:          {Code: ErrMessageEmpty, Message: "Message text is required."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long (max %d bytes)."},
	ErrNotAuthorized:         {Code: ErrNotAuthorized, Message: "Chat not found!", Status: http.StatusForbidden},

	// 3xxx: Identity and Session Errors
	ErrAuthentication: {Code: ErrAuthentication, Message: "Authentication error", Status: http.StatusUnauthorized},
	ErrSessionClosed:  {Code: ErrSessionClosed, Message: "Session is closing."},

	// 5xxx: Internal System Errors
	ErrUnknown:        {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrPersistence:    {Code: ErrPersistence, Message: "Failed to send message.", Status: http.StatusServiceUnavailable},
	ErrMetadataUpdate: {Code: ErrMetadataUpdate, Message: "Conversation metadata update failed.", Status: http.StatusInternalServerError},
}
