// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/sqlitepool"
	"github.com/bureau-foundation/agentrelay/lib/streamjson"
)

// The editor creates this table itself; the statement only matters for
// fresh databases, such as in tests.
const schema = `CREATE TABLE IF NOT EXISTS cursorDiskKV (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB)`

// ErrSessionNotFound is returned by LoadSession for unknown sessions.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Config holds the parameters for opening a Persister.
type Config struct {
	// Path is the editor's global state database.
	Path string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Persister appends exchanges to sessions in the conversation store.
type Persister struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// beforeCommit, when set, runs inside the transaction after all
	// writes. Tests use it to force a rollback.
	beforeCommit func() error
}

// Open opens the conversation database as a foreign database.
func Open(cfg Config) (*Persister, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: 2,
		Foreign:  true,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	return &Persister{pool: pool, clock: clk, logger: logger}, nil
}

// Close releases the database.
func (p *Persister) Close() error {
	return p.pool.Close()
}

// Exchange is one user prompt and the agent's reduced reply.
type Exchange struct {
	SessionID string
	Prompt    string
	Output    streamjson.Output
	Model     string
}

// Records identifies the two bubbles written for an exchange.
type Records struct {
	UserRecordID      string
	AssistantRecordID string
}

// Persist writes the exchange as a user bubble and an assistant bubble
// and appends both to the session's headers, all in one transaction.
// A missing session is created. On any error nothing is written.
func (p *Persister) Persist(ctx context.Context, exchange Exchange) (Records, error) {
	if exchange.SessionID == "" {
		return Records{}, fmt.Errorf("conversation store: persist requires a session id")
	}

	now := p.clock.Now()
	user := NewBubble(RoleUser, exchange.Prompt, now)
	assistant := NewBubble(RoleAssistant, exchange.Output.Text, now)
	assistant.Thinking = exchange.Output.Thinking
	assistant.ToolCalls = exchange.Output.ToolCalls
	assistant.Model = exchange.Model

	userEncoded, err := encodeValid(user)
	if err != nil {
		return Records{}, err
	}
	assistantEncoded, err := encodeValid(assistant)
	if err != nil {
		return Records{}, err
	}

	conn, err := p.pool.Take(ctx)
	if err != nil {
		return Records{}, fmt.Errorf("conversation store: %w", err)
	}
	defer p.pool.Put(conn)

	created, err := p.appendExchange(conn, exchange.SessionID, now.UnixMilli(),
		[]bubbleRow{{user, userEncoded}, {assistant, assistantEncoded}})
	if err != nil {
		return Records{}, fmt.Errorf("conversation store: persist to session %s: %w", exchange.SessionID, err)
	}
	if created {
		p.logger.Info("session created", "session_id", exchange.SessionID)
	}
	p.logger.Debug("exchange persisted",
		"session_id", exchange.SessionID,
		"user_record_id", user.ID,
		"assistant_record_id", assistant.ID,
	)
	return Records{UserRecordID: user.ID, AssistantRecordID: assistant.ID}, nil
}

type bubbleRow struct {
	bubble  Bubble
	encoded []byte
}

func encodeValid(bubble Bubble) ([]byte, error) {
	encoded, err := bubble.Encode()
	if err != nil {
		return nil, err
	}
	if err := ValidateEncoded(encoded); err != nil {
		return nil, fmt.Errorf("%s bubble %s: %w", bubble.Role, bubble.ID, err)
	}
	return encoded, nil
}

// appendExchange is the transactional body of Persist.
func (p *Persister) appendExchange(conn *sqlite.Conn, sessionID string, nowMillis int64, rows []bubbleRow) (created bool, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, err
	}
	defer endTransaction(&err)

	metadata, found, err := readValue(conn, composerKey(sessionID))
	if err != nil {
		return false, err
	}
	if !found {
		created = true
		if metadata, err = marshalJSON(newMetadata(sessionID, DefaultSessionName, nowMillis)); err != nil {
			return false, err
		}
	}

	headers := make([]Header, 0, len(rows))
	for _, row := range rows {
		if err = sqlitex.Execute(conn, `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{bubbleKey(sessionID, row.bubble.ID), string(row.encoded)}}); err != nil {
			return false, err
		}
		headers = append(headers, Header{BubbleID: row.bubble.ID, Type: row.bubble.Role})
	}

	updated, err := appendHeaders(metadata, sessionID, headers, nowMillis)
	if err != nil {
		return false, err
	}
	if err = writeValue(conn, composerKey(sessionID), updated, found); err != nil {
		return false, err
	}

	if p.beforeCommit != nil {
		if err = p.beforeCommit(); err != nil {
			return false, err
		}
	}
	return created, nil
}

// DefaultSessionName names sessions created implicitly by Persist.
const DefaultSessionName = "Untitled"

// CreateSession creates an empty session and returns its id.
func (p *Persister) CreateSession(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = DefaultSessionName
	}
	sessionID := uuid.NewString()
	metadata, err := marshalJSON(newMetadata(sessionID, name, p.clock.Now().UnixMilli()))
	if err != nil {
		return "", err
	}

	err = p.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return writeValue(conn, composerKey(sessionID), metadata, false)
	})
	if err != nil {
		return "", fmt.Errorf("conversation store: create session: %w", err)
	}
	p.logger.Info("session created", "session_id", sessionID, "name", name)
	return sessionID, nil
}

// Turn is a decoded bubble as stored.
type Turn struct {
	BubbleID string
	Role     Role
	Text     string
	Thinking string
	Raw      json.RawMessage
}

// Session is a session's metadata and its turns in header order.
type Session struct {
	ID       string
	Name     string
	Metadata json.RawMessage
	Turns    []Turn

	// Missing lists header ids whose bubble row does not exist.
	Missing []string
}

// LoadSession reads a session and every bubble its headers name.
func (p *Persister) LoadSession(ctx context.Context, sessionID string) (Session, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("conversation store: %w", err)
	}
	defer p.pool.Put(conn)

	metadata, found, err := readValue(conn, composerKey(sessionID))
	if err != nil {
		return Session{}, fmt.Errorf("conversation store: load session %s: %w", sessionID, err)
	}
	if !found {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var decoded struct {
		Name    string   `json:"name"`
		Headers []Header `json:"fullConversationHeadersOnly"`
	}
	if err := json.Unmarshal(metadata, &decoded); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	session := Session{ID: sessionID, Name: decoded.Name, Metadata: metadata}
	for _, header := range decoded.Headers {
		raw, found, err := readValue(conn, bubbleKey(sessionID, header.BubbleID))
		if err != nil {
			return Session{}, fmt.Errorf("conversation store: load bubble %s: %w", header.BubbleID, err)
		}
		if !found {
			session.Missing = append(session.Missing, header.BubbleID)
			continue
		}
		var body struct {
			Type     Role   `json:"type"`
			Text     string `json:"text"`
			Thinking *struct {
				Text string `json:"text"`
			} `json:"thinking"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return Session{}, fmt.Errorf("conversation store: bubble %s: %w", header.BubbleID, err)
		}
		turn := Turn{BubbleID: header.BubbleID, Role: body.Type, Text: body.Text, Raw: raw}
		if body.Thinking != nil {
			turn.Thinking = body.Thinking.Text
		}
		session.Turns = append(session.Turns, turn)
	}
	return session, nil
}

func readValue(conn *sqlite.Conn, key string) (value []byte, found bool, err error) {
	err = sqlitex.Execute(conn, `SELECT value FROM cursorDiskKV WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = []byte(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	return value, found, err
}

func writeValue(conn *sqlite.Conn, key string, value []byte, exists bool) error {
	query := `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`
	args := []any{key, string(value)}
	if exists {
		query = `UPDATE cursorDiskKV SET value = ? WHERE key = ?`
		args = []any{string(value), key}
	}
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
}

// sessionIDFromKey extracts the session id from a composerData key.
func sessionIDFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, "composerData:")
}

// ListSessions returns the ids of every session in the store.
func (p *Persister) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT key FROM cursorDiskKV WHERE key LIKE 'composerData:%' ORDER BY key`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					if id, ok := sessionIDFromKey(stmt.ColumnText(0)); ok {
						ids = append(ids, id)
					}
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: list sessions: %w", err)
	}
	return ids, nil
}
