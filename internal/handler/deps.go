package handler

import (
	"context"

	"duochat/internal/app/chat"
	"duochat/internal/configs"
)

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type AppDeps struct {
	Manager *chat.Manager
	Config  *configs.AppConfig
	// Checks maps a dependency name (e.g. "store", "redis") to its health probe.
	Checks map[string]Pinger
}
