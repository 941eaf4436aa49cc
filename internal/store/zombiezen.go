package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/botcast/gocast/internal/domain"
)

// zombiezenBackend is the callback-styled driver: every query delivers rows
// through a ResultFunc instead of a cursor. A single connection is shared
// and serialized with a mutex.
type zombiezenBackend struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

func openZombiezen(path string) (*zombiezenBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite conn: %w", err)
	}
	return &zombiezenBackend{conn: conn}, nil
}

const zombiezenSchema = `
CREATE TABLE IF NOT EXISTS bot_accounts (
  id INTEGER PRIMARY KEY,
  bot_name TEXT NOT NULL,
  platform TEXT NOT NULL,
  username TEXT,
  password TEXT,
  signup_url TEXT,
  stream_key TEXT,
  persona TEXT,
  gender TEXT,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
  UNIQUE(bot_name, platform)
);
CREATE TABLE IF NOT EXISTS bot_logs (
  id INTEGER PRIMARY KEY,
  bot_name TEXT NOT NULL,
  gender TEXT,
  platform TEXT,
  input TEXT,
  response TEXT,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_bot_logs_name_time ON bot_logs(bot_name, created_at DESC);
CREATE TABLE IF NOT EXISTS director_commands (
  id INTEGER PRIMARY KEY,
  command TEXT NOT NULL,
  applied INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
`

func (z *zombiezenBackend) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.conn == nil {
		return fmt.Errorf("store is closed")
	}
	defer z.conn.SetInterrupt(z.conn.SetInterrupt(ctx.Done()))
	return fn(z.conn)
}

func (z *zombiezenBackend) EnsureSchema(ctx context.Context) error {
	return z.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, zombiezenSchema, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		return nil
	})
}

func (z *zombiezenBackend) UpsertBot(ctx context.Context, b domain.BotAccount) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return z.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, upsertBotQuery, &sqlitex.ExecOptions{
			Args: []any{
				b.Name, b.Platform, b.Username, b.Password, b.SignupURL,
				b.StreamKey, b.Persona, b.Gender,
				createdAt.UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return fmt.Errorf("upsert bot: %w", err)
		}
		return nil
	})
}

func (z *zombiezenBackend) ListBots(ctx context.Context) ([]domain.BotAccount, error) {
	var out []domain.BotAccount
	err := z.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, listBotsQuery, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b := domain.BotAccount{
					ID:        stmt.ColumnInt64(0),
					Name:      stmt.ColumnText(1),
					Platform:  stmt.ColumnText(2),
					Username:  stmt.ColumnText(3),
					Password:  stmt.ColumnText(4),
					SignupURL: stmt.ColumnText(5),
					StreamKey: stmt.ColumnText(6),
					Persona:   stmt.ColumnText(7),
					Gender:    stmt.ColumnText(8),
				}
				if b.Persona == "" {
					b.Persona = "Default persona"
				}
				if b.Gender == "" {
					b.Gender = domain.GenderMale
				}
				b.CreatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(9))
				out = append(out, b)
				return nil
			},
		})
	})
	return out, err
}

func (z *zombiezenBackend) AppendInteraction(ctx context.Context, e domain.InteractionLog) error {
	return z.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
INSERT INTO bot_logs (bot_name, gender, platform, input, response, created_at)
VALUES (?,?,?,?,?,?)
`, &sqlitex.ExecOptions{
			Args: []any{e.BotName, e.Gender, e.Platform, e.Input, e.Response, time.Now().UTC().Format(time.RFC3339Nano)},
		})
		if err != nil {
			return fmt.Errorf("append interaction: %w", err)
		}
		return nil
	})
}

func (z *zombiezenBackend) AppendDirectorCommand(ctx context.Context, text string) error {
	return z.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
INSERT INTO director_commands (command, applied, created_at) VALUES (?, 0, ?)
`, &sqlitex.ExecOptions{
			Args: []any{text, time.Now().UTC().Format(time.RFC3339Nano)},
		})
		if err != nil {
			return fmt.Errorf("append director command: %w", err)
		}
		return nil
	})
}

func (z *zombiezenBackend) RecentDirectorCommands(ctx context.Context, limit int) ([]domain.DirectorCommand, error) {
	var out []domain.DirectorCommand
	err := z.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
SELECT id, command, applied, created_at FROM director_commands ORDER BY id DESC LIMIT ?
`, &sqlitex.ExecOptions{
			Args: []any{clampLimit(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := domain.DirectorCommand{
					ID:      stmt.ColumnInt64(0),
					Command: stmt.ColumnText(1),
					Applied: stmt.ColumnInt64(2) == 1,
				}
				c.CreatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(3))
				out = append(out, c)
				return nil
			},
		})
	})
	return out, err
}

func (z *zombiezenBackend) RecentInteractions(ctx context.Context, botName string, limit int) ([]domain.InteractionLog, error) {
	var out []domain.InteractionLog
	err := z.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
SELECT bot_name, gender, platform, input, response, created_at
FROM bot_logs WHERE bot_name = ? ORDER BY id DESC LIMIT ?
`, &sqlitex.ExecOptions{
			Args: []any{botName, clampLimit(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e := domain.InteractionLog{
					BotName:  stmt.ColumnText(0),
					Gender:   stmt.ColumnText(1),
					Platform: stmt.ColumnText(2),
					Input:    stmt.ColumnText(3),
					Response: stmt.ColumnText(4),
				}
				e.CreatedAt, _ = time.Parse(time.RFC3339Nano, stmt.ColumnText(5))
				out = append(out, e)
				return nil
			},
		})
	})
	return out, err
}

func (z *zombiezenBackend) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.conn == nil {
		return nil
	}
	err := z.conn.Close()
	z.conn = nil
	return err
}
