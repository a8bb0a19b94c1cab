// Package sqlite implements the store contract on the normalized
// four-table relational schema.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"sinas/internal/models"
	"sinas/internal/store"
)

type DB struct {
	conn      *sql.DB
	filesRoot string
}

var _ store.Store = (*DB)(nil)

// New opens the database at path, tunes it for concurrent sessions and
// creates the schema if it is missing. filesRoot is where file-transfer
// payloads are kept; it is not managed by this backend.
func New(path, filesRoot string) (*DB, error) {
	// Connection-scoped settings go in the DSN so every pooled connection
	// gets them: foreign keys for the schema's references, a 5s busy
	// timeout instead of immediate SQLITE_BUSY, NORMAL sync under WAL.
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL is persistent database state. It lets readers proceed while a
	// writer is writing, which matters with multiple concurrent sessions.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, filesRoot: filesRoot}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		PRIMARY KEY (username)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT UNIQUE,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		sender TEXT NOT NULL,
		is_file INTEGER NOT NULL DEFAULT 0,
		conversation_id INTEGER NOT NULL,
		FOREIGN KEY (sender) REFERENCES users(username),
		FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
	);

	CREATE TABLE IF NOT EXISTS conversations_users (
		conversation_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		PRIMARY KEY (conversation_id, username),
		FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
		FOREIGN KEY (username) REFERENCES users(username)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversations_users_username ON conversations_users(username);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) FilesRoot() string {
	return db.filesRoot
}

// isConstraintErr reports whether err is a PRIMARY KEY/UNIQUE violation.
func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// parseKey parses the textual id used by the contract into the integer
// key this schema stores.
func parseKey(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

func (db *DB) ResolveConnectedUser(ctx context.Context, username, ip string, port int) (models.User, error) {
	var name, password string
	err := db.conn.QueryRowContext(ctx,
		"SELECT username, password FROM users WHERE username = ?", username,
	).Scan(&name, &password)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, store.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return models.NewConnectedUser(name, password, ip, port), nil
}

func (db *DB) ResolveUserInfo(ctx context.Context, username string) (models.User, error) {
	return db.ResolveConnectedUser(ctx, username, "", 0)
}

func (db *DB) CreateUser(ctx context.Context, user models.User) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password) VALUES (?, ?)",
		user.Username, user.Password,
	)
	if isConstraintErr(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) UpdateUser(ctx context.Context, user models.User) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET password = ? WHERE username = ?",
		user.Password, user.Username,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (db *DB) ListConversations(ctx context.Context, username string) ([]*models.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT conversation_id FROM conversations_users WHERE username = ?", username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memberships: %w", err)
	}

	convs := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := db.loadConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (db *DB) LoadConversation(ctx context.Context, id string) (*models.Conversation, error) {
	key, ok := parseKey(id)
	if !ok {
		// Non-numeric ids cannot exist in this schema.
		return nil, store.ErrNotFound
	}
	return db.loadConversation(ctx, key)
}

func (db *DB) loadConversation(ctx context.Context, key int64) (*models.Conversation, error) {
	var name string
	err := db.conn.QueryRowContext(ctx,
		"SELECT name FROM conversations WHERE conversation_id = ?", key,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT username FROM conversations_users WHERE conversation_id = ?", key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}

	conv := models.NewConversation(strconv.FormatInt(key, 10), users...)
	conv.SetName(name)

	msgs, err := db.loadMessages(ctx, key)
	if err != nil {
		return nil, err
	}
	conv.AddMessages(msgs...)
	return conv, nil
}

func (db *DB) loadMessages(ctx context.Context, key int64) ([]models.Message, error) {
	// Secondary order by id keeps equal timestamps in insertion order.
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, content, timestamp, sender, is_file
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &m.Sender, &m.IsFile); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

func (db *DB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var key int64
	if conv.ID() == "" {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (name) VALUES (?)", conv.Name(),
		)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		key, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read allocated id: %w", err)
		}
	} else {
		var ok bool
		key, ok = parseKey(conv.ID())
		if !ok {
			return store.ErrInvalidID
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (conversation_id, name) VALUES (?, ?)",
			key, conv.Name(),
		)
		if isConstraintErr(err) {
			return store.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	for _, username := range conv.Users() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversations_users (conversation_id, username) VALUES (?, ?)",
			key, username,
		); err != nil {
			return fmt.Errorf("failed to add participant %q: %w", username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	conv.AssignID(strconv.FormatInt(key, 10))
	return nil
}

func (db *DB) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	key, ok := parseKey(conv.ID())
	if !ok {
		return store.ErrNotFound
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET name = ? WHERE conversation_id = ?",
		conv.Name(), key,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	// Membership is reconciled wholesale; participant counts are small.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM conversations_users WHERE conversation_id = ?", key,
	); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}
	for _, username := range conv.Users() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversations_users (conversation_id, username) VALUES (?, ?)",
			key, username,
		); err != nil {
			return fmt.Errorf("failed to add participant %q: %w", username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

func (db *DB) CreateMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	key, ok := parseKey(conversationID)
	if !ok {
		return store.ErrNotFound
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM conversations WHERE conversation_id = ?", key,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (content, timestamp, sender, is_file, conversation_id)
		VALUES (?, ?, ?, ?, ?)
	`, msg.Content, msg.Timestamp, msg.Sender, msg.IsFile, key)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	msg.ID = id
	return nil
}

func (db *DB) UpdateMessage(ctx context.Context, conversationID string, msg models.Message) error {
	key, ok := parseKey(conversationID)
	if !ok {
		return store.ErrNotFound
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE messages SET content = ?, timestamp = ?, is_file = ?
		WHERE id = ? AND conversation_id = ?
	`, msg.Content, msg.Timestamp, msg.IsFile, msg.ID, key)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
