// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/conversation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_configs (
			session_id TEXT PRIMARY KEY,
			bot_enabled INTEGER NOT NULL DEFAULT 0,
			api_key TEXT NOT NULL DEFAULT '',
			model_provider TEXT NOT NULL DEFAULT '',
			model_name TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL DEFAULT 'interest',
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, chat_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_chat
			ON messages(session_id, chat_id, seq);

		CREATE TABLE IF NOT EXISTS credentials (
			session_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS buttons (
			session_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			button_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'quick_reply',
			PRIMARY KEY (session_id, position)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadConversations returns all stored conversations for a session, messages
// in arrival order.
func (s *SQLiteStore) LoadConversations(ctx context.Context, sessionID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, stage, updated_at FROM conversations WHERE session_id = ? ORDER BY updated_at DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	index := make(map[string]*Conversation)
	for rows.Next() {
		conv := &Conversation{}
		var stage string
		if err := rows.Scan(&conv.ChatID, &conv.Title, &stage, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.Stage = Stage(stage)
		if !ValidStage(conv.Stage) {
			conv.Stage = StageInterest
		}
		convs = append(convs, conv)
		index[conv.ChatID] = conv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, direction, text, timestamp FROM messages WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var chatID string
		var msg Message
		var direction string
		if err := msgRows.Scan(&chatID, &msg.ID, &direction, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Direction = Direction(direction)
		if conv, ok := index[chatID]; ok {
			conv.Messages = append(conv.Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	return convs, nil
}

// SaveConversations replaces the stored conversation state for a session.
// The whole-session mirror keeps durable state consistent with the in-memory
// map after every flush.
func (s *SQLiteStore) SaveConversations(ctx context.Context, sessionID string, convs []*Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	convStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (session_id, chat_id, title, stage, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing conversation insert: %w", err)
	}
	defer convStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, chat_id, message_id, direction, text, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer msgStmt.Close()

	for _, conv := range convs {
		if _, err := convStmt.ExecContext(ctx, sessionID, conv.ChatID, conv.Title, string(conv.Stage), conv.UpdatedAt); err != nil {
			return fmt.Errorf("inserting conversation %s: %w", conv.ChatID, err)
		}
		for _, msg := range conv.Messages {
			if _, err := msgStmt.ExecContext(ctx, sessionID, conv.ChatID, msg.ID, string(msg.Direction), msg.Text, msg.Timestamp); err != nil {
				return fmt.Errorf("inserting message %s: %w", msg.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversations: %w", err)
	}
	return nil
}

// LoadConfig returns the stored bot configuration for a session.
// Returns ErrNotFound if the session has never saved a config.
func (s *SQLiteStore) LoadConfig(ctx context.Context, sessionID string) (*BotConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bot_enabled, api_key, model_provider, model_name, system_prompt
		 FROM session_configs WHERE session_id = ?`, sessionID)

	cfg := &BotConfig{}
	var enabled int
	err := row.Scan(&enabled, &cfg.APIKey, &cfg.ModelProvider, &cfg.ModelName, &cfg.SystemPrompt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning config: %w", err)
	}
	cfg.BotEnabled = enabled != 0
	return cfg, nil
}

// SaveConfig upserts the bot configuration for a session.
func (s *SQLiteStore) SaveConfig(ctx context.Context, sessionID string, cfg *BotConfig) error {
	enabled := 0
	if cfg.BotEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_configs (session_id, bot_enabled, api_key, model_provider, model_name, system_prompt, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			bot_enabled = excluded.bot_enabled,
			api_key = excluded.api_key,
			model_provider = excluded.model_provider,
			model_name = excluded.model_name,
			system_prompt = excluded.system_prompt,
			updated_at = excluded.updated_at`,
		sessionID, enabled, cfg.APIKey, cfg.ModelProvider, cfg.ModelName, cfg.SystemPrompt, time.Now())
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// SaveCredentials upserts the opaque transport credential blob for a session.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, sessionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (session_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, data, time.Now())
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// LoadCredentials returns the stored credential blob, or ErrNotFound.
func (s *SQLiteStore) LoadCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM credentials WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return data, nil
}

// CredentialsExist reports whether a session still has durable credential
// storage. Used as the reconnect eligibility check.
func (s *SQLiteStore) CredentialsExist(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE session_id = ?`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking credentials: %w", err)
	}
	return true, nil
}

// DeleteCredentials removes the credential blob for a session.
func (s *SQLiteStore) DeleteCredentials(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// LoadButtons returns the stored quick-reply buttons for a session in order.
func (s *SQLiteStore) LoadButtons(ctx context.Context, sessionID string) ([]*Button, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT button_id, text, type FROM buttons WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying buttons: %w", err)
	}
	defer rows.Close()

	var buttons []*Button
	for rows.Next() {
		b := &Button{}
		if err := rows.Scan(&b.ID, &b.Text, &b.Type); err != nil {
			return nil, fmt.Errorf("scanning button: %w", err)
		}
		buttons = append(buttons, b)
	}
	return buttons, rows.Err()
}

// SaveButtons replaces the stored button set for a session.
func (s *SQLiteStore) SaveButtons(ctx context.Context, sessionID string, buttons []*Button) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM buttons WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing buttons: %w", err)
	}
	for i, b := range buttons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO buttons (session_id, position, button_id, text, type) VALUES (?, ?, ?, ?, ?)`,
			sessionID, i, b.ID, b.Text, b.Type); err != nil {
			return fmt.Errorf("inserting button %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing buttons: %w", err)
	}
	return nil
}

// ListSessions returns every session id present in any durable table.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM session_configs
		UNION
		SELECT session_id FROM credentials
		UNION
		SELECT DISTINCT session_id FROM conversations
		ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes all durable state for a session in one transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"session_configs", "conversations", "messages", "credentials", "buttons"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), sessionID); err != nil {
			return fmt.Errorf("deleting from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.logger.Info("session storage deleted", "session_id", sessionID)
	return nil
}
