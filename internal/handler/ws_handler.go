/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which authenticates the identity credential before
upgrading and then runs the session's pumps. Handshakes reach it through the per-IP limiter.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"duochat/internal/app/chat"
	"duochat/internal/pkg/auth/jwt"
	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/limiter"
	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Refused handshakes are answered with a plain HTTP error and never reach the upgrade.
func HandleWebSocket(manager *chat.Manager, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		credential := jwt.CredentialFromRequest(r)
		if credential == "" {
			logx.Info("WebSocket connection rejected: Missing credential.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthentication))
			return
		}

		u, cerr := manager.Authenticate(r.Context(), credential)
		if cerr != nil {
			resp.RespondError(w, r, cerr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "user_id", u.ID)
			return
		}

		session := manager.Attach(conn, u)

		go session.WritePump()

		logx.Info("WebSocket connection established and session registered", "user_id", u.ID, "session_id", session.ID)

		session.ReadPump()
	}
}
