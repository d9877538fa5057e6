package mcp

import (
	"context"
	"log/slog"
	"time"

	"steward/internal/domain"
	"steward/internal/repo"
)

// callLog records one row per handled gateway call, including notifications
// and calls that returned errors. It is fire and forget: a failed insert is
// logged and otherwise ignored, and never delays or fails the response.
type callLog struct {
	repo   repo.Repo
	logger *slog.Logger
}

func (l callLog) record(method, tool string, caller domain.Actor, started time.Time, outcome string) {
	inv := domain.ToolInvocation{
		Method:     method,
		Tool:       tool,
		CallerKind: string(caller.Kind),
		CallerID:   caller.ID,
		DurationMS: time.Since(started).Milliseconds(),
		Outcome:    outcome,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.repo.InsertInvocation(ctx, inv); err != nil && l.logger != nil {
			l.logger.Warn("invocation log write failed", "method", method, "tool", tool, "err", err)
		}
	}()
}
