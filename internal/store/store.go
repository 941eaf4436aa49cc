package store

import (
	"context"
	"fmt"

	"github.com/botcast/gocast/internal/domain"
)

// Backend is the persistence port for the fleet. Two drivers satisfy it:
// the synchronous database/sql driver (modernc) and the callback-styled
// zombiezen driver. The orchestrator selects one at open time from config
// and only ever sees this interface.
type Backend interface {
	// EnsureSchema creates the tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// UpsertBot inserts or updates a bot account keyed by (name, platform).
	// Re-seeding the default roster must be idempotent.
	UpsertBot(ctx context.Context, b domain.BotAccount) error

	// ListBots returns every registered bot account.
	ListBots(ctx context.Context) ([]domain.BotAccount, error)

	// AppendInteraction records one completed pipeline cycle.
	AppendInteraction(ctx context.Context, e domain.InteractionLog) error

	// AppendDirectorCommand records a director command for audit/replay.
	AppendDirectorCommand(ctx context.Context, text string) error

	// RecentDirectorCommands returns the newest commands, newest first.
	RecentDirectorCommands(ctx context.Context, limit int) ([]domain.DirectorCommand, error)

	// RecentInteractions returns the newest interactions for one bot, newest first.
	RecentInteractions(ctx context.Context, botName string, limit int) ([]domain.InteractionLog, error)

	// Close releases the underlying connection. Safe to call multiple times.
	Close() error
}

// Open selects a driver by engine name. The choice is made once here;
// callers never inspect the concrete type.
func Open(engine, path string) (Backend, error) {
	switch engine {
	case "sqlite":
		return openSQL(path)
	case "zombiezen":
		return openZombiezen(path)
	default:
		return nil, fmt.Errorf("unknown database engine: %q (want sqlite or zombiezen)", engine)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 5
	}
	return limit
}
