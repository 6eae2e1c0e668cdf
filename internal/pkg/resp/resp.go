/*
Package resp provides helper functions for sending standardized HTTP JSON responses.

The gateway's HTTP surface is small (handshake refusals, health and rate limiting), but every
refusal uses the same body shape as the error events sent over an open WebSocket: a business
code and a client-friendly message.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/logx"
)

// JSONResponse defines the standardized JSON response structure returned by the application to clients.
type JSONResponse struct {
	// Code is the business status code (0 for success, others for specific errors, see errs package).
	Code int `json:"code"`

	// Message is the client-friendly status description or error message.
	Message string `json:"message"`

	// Data is the optional response payload.
	Data any `json:"data,omitempty"`
}

// RespondJSON sets the Content-Type and sends the JSON payload with the given status.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response",
			"http_status", httpStatus,
			"request_id", middleware.GetReqID(r.Context()),
		)

		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpStatus)

	if _, err := w.Write(response); err != nil {
		logx.Debug("Client went away before the response was written", "error", err.Error())
	}
}

// RespondSuccess sends a successful HTTP response (HTTP 200 OK).
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, JSONResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// RespondError sends an HTTP response carrying customErr's code and message.
// The underlying cause, if any, is logged for server errors and never sent to the client.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	if customErr.Status >= http.StatusInternalServerError {
		logx.Error(customErr, "Request failed with server error",
			"request_id", middleware.GetReqID(r.Context()),
		)
	}

	RespondJSON(w, r, customErr.Status, JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}
