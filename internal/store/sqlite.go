package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/botcast/gocast/internal/domain"
)

// sqlBackend is the synchronous driver: modernc sqlite behind database/sql.
type sqlBackend struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

func openSQL(path string) (*sqlBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)
	return &sqlBackend{db: db}, nil
}

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`
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
);`,
	`
CREATE TABLE IF NOT EXISTS bot_logs (
  id INTEGER PRIMARY KEY,
  bot_name TEXT NOT NULL,
  gender TEXT,
  platform TEXT,
  input TEXT,
  response TEXT,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);`,
	`CREATE INDEX IF NOT EXISTS idx_bot_logs_name_time ON bot_logs(bot_name, created_at DESC);`,
	`
CREATE TABLE IF NOT EXISTS director_commands (
  id INTEGER PRIMARY KEY,
  command TEXT NOT NULL,
  applied INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);`,
}

func (s *sqlBackend) EnsureSchema(ctx context.Context) error {
	for _, q := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const upsertBotQuery = `
INSERT INTO bot_accounts (bot_name, platform, username, password, signup_url, stream_key, persona, gender, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(bot_name, platform) DO UPDATE SET
  username=excluded.username,
  password=excluded.password,
  signup_url=excluded.signup_url,
  stream_key=excluded.stream_key,
  persona=excluded.persona,
  gender=excluded.gender
`

func (s *sqlBackend) UpsertBot(ctx context.Context, b domain.BotAccount) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, upsertBotQuery,
		b.Name, b.Platform, b.Username, b.Password, b.SignupURL, b.StreamKey, b.Persona, b.Gender,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert bot: %w", err)
	}
	return nil
}

const listBotsQuery = `
SELECT id, bot_name, platform, username, password, signup_url, stream_key, persona, gender, created_at
FROM bot_accounts ORDER BY id ASC
`

func (s *sqlBackend) ListBots(ctx context.Context) ([]domain.BotAccount, error) {
	rows, err := s.db.QueryContext(ctx, listBotsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BotAccount
	for rows.Next() {
		var (
			b         domain.BotAccount
			username  sql.NullString
			password  sql.NullString
			signupURL sql.NullString
			streamKey sql.NullString
			persona   sql.NullString
			gender    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Platform, &username, &password, &signupURL, &streamKey, &persona, &gender, &createdAt); err != nil {
			return nil, err
		}
		b.Username = username.String
		b.Password = password.String
		b.SignupURL = signupURL.String
		b.StreamKey = streamKey.String
		b.Persona = persona.String
		b.Gender = gender.String
		if b.Persona == "" {
			b.Persona = "Default persona"
		}
		if b.Gender == "" {
			b.Gender = domain.GenderMale
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqlBackend) AppendInteraction(ctx context.Context, e domain.InteractionLog) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bot_logs (bot_name, gender, platform, input, response, created_at)
VALUES (?,?,?,?,?,?)
`, e.BotName, e.Gender, e.Platform, e.Input, e.Response, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

func (s *sqlBackend) AppendDirectorCommand(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO director_commands (command, applied, created_at) VALUES (?, 0, ?)
`, text, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append director command: %w", err)
	}
	return nil
}

func (s *sqlBackend) RecentDirectorCommands(ctx context.Context, limit int) ([]domain.DirectorCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, command, applied, created_at FROM director_commands ORDER BY id DESC LIMIT ?
`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DirectorCommand
	for rows.Next() {
		var (
			c         domain.DirectorCommand
			applied   int
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Command, &applied, &createdAt); err != nil {
			return nil, err
		}
		c.Applied = applied == 1
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlBackend) RecentInteractions(ctx context.Context, botName string, limit int) ([]domain.InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT bot_name, gender, platform, input, response, created_at
FROM bot_logs WHERE bot_name = ? ORDER BY id DESC LIMIT ?
`, botName, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InteractionLog
	for rows.Next() {
		var (
			e         domain.InteractionLog
			gender    sql.NullString
			platform  sql.NullString
			input     sql.NullString
			response  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.BotName, &gender, &platform, &input, &response, &createdAt); err != nil {
			return nil, err
		}
		e.Gender = gender.String
		e.Platform = platform.String
		e.Input = input.String
		e.Response = response.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlBackend) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}
