// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	hostname   TEXT NOT NULL,
	username   TEXT NOT NULL,
	port       INTEGER NOT NULL DEFAULT 22,
	agent_path TEXT,
	created_at INTEGER NOT NULL,
	last_seen  INTEGER,
	is_active  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS remote_chats (
	chat_id              TEXT PRIMARY KEY,
	device_id            TEXT NOT NULL,
	working_directory    TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT 'Untitled',
	created_at           INTEGER NOT NULL,
	last_updated_at      INTEGER,
	message_count        INTEGER NOT NULL DEFAULT 0,
	last_message_preview TEXT
);

CREATE INDEX IF NOT EXISTS idx_remote_chats_device ON remote_chats (device_id);
`

// Config holds the parameters for opening a Registry.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Clock supplies timestamps and status derivation. Nil means the
	// real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Registry is the device and remote-chat store. It is safe for
// concurrent use.
type Registry struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the registry database.
func Open(cfg Config) (*Registry, error) {
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
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device registry: %w", err)
	}
	return &Registry{pool: pool, clock: clk, logger: logger}, nil
}

// Close releases the database.
func (r *Registry) Close() error {
	return r.pool.Close()
}

func (r *Registry) nowMillis() int64 {
	return r.clock.Now().UnixMilli()
}

// CreateDevice validates spec and registers a new active device.
func (r *Registry) CreateDevice(ctx context.Context, spec DeviceSpec) (Device, error) {
	if err := spec.Validate(); err != nil {
		return Device{}, err
	}
	port := spec.Port
	if port == 0 {
		port = DefaultPort
	}
	device := Device{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		Hostname:  spec.Hostname,
		Username:  spec.Username,
		Port:      port,
		AgentPath: spec.AgentPath,
		CreatedAt: time.UnixMilli(r.nowMillis()).UTC(),
		IsActive:  true,
		Status:    StatusUnknown,
	}

	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO devices (id, name, hostname, username, port, agent_path, created_at, is_active)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, 1)`,
			&sqlitex.ExecOptions{Args: []any{
				device.ID, device.Name, device.Hostname, device.Username,
				device.Port, device.AgentPath, device.CreatedAt.UnixMilli(),
			}})
	})
	if err != nil {
		return Device{}, fmt.Errorf("device registry: create device: %w", err)
	}
	r.logger.Info("device registered", "device_id", device.ID, "name", device.Name, "address", device.Address())
	return device, nil
}

const deviceColumns = `id, name, hostname, username, port, agent_path, created_at, last_seen, is_active`

func (r *Registry) scanDevice(stmt *sqlite.Stmt) Device {
	device := Device{
		ID:        stmt.ColumnText(0),
		Name:      stmt.ColumnText(1),
		Hostname:  stmt.ColumnText(2),
		Username:  stmt.ColumnText(3),
		Port:      stmt.ColumnInt(4),
		AgentPath: stmt.ColumnText(5),
		CreatedAt: time.UnixMilli(stmt.ColumnInt64(6)).UTC(),
		IsActive:  stmt.ColumnInt(8) != 0,
	}
	if !stmt.ColumnIsNull(7) {
		lastSeen := time.UnixMilli(stmt.ColumnInt64(7)).UTC()
		device.LastSeen = &lastSeen
	}
	device.Status = DeriveStatus(device.LastSeen, r.clock.Now())
	return device
}

// ResolveDevice returns the device with the given id, or an error
// wrapping ErrDeviceNotFound.
func (r *Registry) ResolveDevice(ctx context.Context, id string) (Device, error) {
	var (
		device Device
		found  bool
	)
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					device = r.scanDevice(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Device{}, fmt.Errorf("device registry: get device %s: %w", id, err)
	}
	if !found {
		return Device{}, deviceNotFound(id)
	}
	return device, nil
}

// ListDevices returns devices ordered by name. Inactive devices are
// included only when includeInactive is set.
func (r *Registry) ListDevices(ctx context.Context, includeInactive bool) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	var devices []Device
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				devices = append(devices, r.scanDevice(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("device registry: list devices: %w", err)
	}
	return devices, nil
}

// UpdateDevice applies the non-nil fields of update.
func (r *Registry) UpdateDevice(ctx context.Context, id string, update DeviceUpdate) (Device, error) {
	current, err := r.ResolveDevice(ctx, id)
	if err != nil {
		return Device{}, err
	}

	merged := DeviceSpec{
		Name:      current.Name,
		Hostname:  current.Hostname,
		Username:  current.Username,
		Port:      current.Port,
		AgentPath: current.AgentPath,
	}
	var (
		assignments []string
		args        []any
	)
	set := func(column string, value any) {
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}
	if update.Name != nil {
		merged.Name = *update.Name
		set("name", *update.Name)
	}
	if update.Hostname != nil {
		merged.Hostname = *update.Hostname
		set("hostname", *update.Hostname)
	}
	if update.Username != nil {
		merged.Username = *update.Username
		set("username", *update.Username)
	}
	if update.Port != nil {
		merged.Port = *update.Port
		set("port", *update.Port)
	}
	if update.AgentPath != nil {
		assignments = append(assignments, "agent_path = NULLIF(?, '')")
		args = append(args, *update.AgentPath)
	}
	if update.IsActive != nil {
		active := 0
		if *update.IsActive {
			active = 1
		}
		set("is_active", active)
	}
	if err := merged.Validate(); err != nil {
		return Device{}, err
	}
	if len(assignments) == 0 {
		return current, nil
	}

	args = append(args, id)
	err = r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`UPDATE devices SET `+strings.Join(assignments, ", ")+` WHERE id = ?`,
			&sqlitex.ExecOptions{Args: args})
	})
	if err != nil {
		return Device{}, fmt.Errorf("device registry: update device %s: %w", id, err)
	}
	return r.ResolveDevice(ctx, id)
}

// DeleteDevice removes a device and its remote chats. It reports
// whether the device existed.
func (r *Registry) DeleteDevice(ctx context.Context, id string) (deleted bool, err error) {
	err = r.pool.Do(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)

		if err = sqlitex.Execute(conn, `DELETE FROM remote_chats WHERE device_id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
		if err = sqlitex.Execute(conn, `DELETE FROM devices WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
		deleted = conn.Changes() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("device registry: delete device %s: %w", id, err)
	}
	if deleted {
		r.logger.Info("device deleted", "device_id", id)
	}
	return deleted, nil
}

// TouchLastSeen records successful contact with the device now.
func (r *Registry) TouchLastSeen(ctx context.Context, id string) error {
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE devices SET last_seen = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{r.nowMillis(), id}})
	})
	if err != nil {
		return fmt.Errorf("device registry: touch %s: %w", id, err)
	}
	return nil
}

// CreateRemoteChat records a chat created on a device. An empty name
// becomes DefaultChatName.
func (r *Registry) CreateRemoteChat(ctx context.Context, chatID, deviceID, workingDirectory, name string) (RemoteChat, error) {
	if chatID == "" || workingDirectory == "" {
		return RemoteChat{}, fmt.Errorf("device registry: remote chat requires a chat id and working directory")
	}
	if _, err := r.ResolveDevice(ctx, deviceID); err != nil {
		return RemoteChat{}, err
	}
	if name == "" {
		name = DefaultChatName
	}
	chat := RemoteChat{
		ChatID:           chatID,
		DeviceID:         deviceID,
		WorkingDirectory: workingDirectory,
		Name:             name,
		CreatedAt:        time.UnixMilli(r.nowMillis()).UTC(),
	}

	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO remote_chats (chat_id, device_id, working_directory, name, created_at, message_count)
			VALUES (?, ?, ?, ?, ?, 0)`,
			&sqlitex.ExecOptions{Args: []any{
				chat.ChatID, chat.DeviceID, chat.WorkingDirectory, chat.Name, chat.CreatedAt.UnixMilli(),
			}})
	})
	if err != nil {
		return RemoteChat{}, fmt.Errorf("device registry: create remote chat: %w", err)
	}
	r.logger.Info("remote chat created", "chat_id", chatID, "device_id", deviceID)
	return chat, nil
}

const chatColumns = `chat_id, device_id, working_directory, name, created_at, last_updated_at, message_count, last_message_preview`

func scanChat(stmt *sqlite.Stmt) RemoteChat {
	chat := RemoteChat{
		ChatID:             stmt.ColumnText(0),
		DeviceID:           stmt.ColumnText(1),
		WorkingDirectory:   stmt.ColumnText(2),
		Name:               stmt.ColumnText(3),
		CreatedAt:          time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
		MessageCount:       stmt.ColumnInt(6),
		LastMessagePreview: stmt.ColumnText(7),
	}
	if !stmt.ColumnIsNull(5) {
		updated := time.UnixMilli(stmt.ColumnInt64(5)).UTC()
		chat.LastUpdatedAt = &updated
	}
	return chat
}

// GetRemoteChat returns a remote chat, or an error wrapping
// ErrChatNotFound.
func (r *Registry) GetRemoteChat(ctx context.Context, chatID string) (RemoteChat, error) {
	var (
		chat  RemoteChat
		found bool
	)
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+chatColumns+` FROM remote_chats WHERE chat_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{chatID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					chat = scanChat(stmt)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return RemoteChat{}, fmt.Errorf("device registry: get remote chat %s: %w", chatID, err)
	}
	if !found {
		return RemoteChat{}, chatNotFound(chatID)
	}
	return chat, nil
}

// ListRemoteChats returns chats, most recently updated first. An empty
// deviceID lists chats on every device.
func (r *Registry) ListRemoteChats(ctx context.Context, deviceID string) ([]RemoteChat, error) {
	query := `SELECT ` + chatColumns + ` FROM remote_chats`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY last_updated_at DESC, created_at DESC`

	var chats []RemoteChat
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chats = append(chats, scanChat(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("device registry: list remote chats: %w", err)
	}
	return chats, nil
}

// RecordExchange bumps the message count by delta, replaces the
// preview, and stamps last_updated_at. An unknown chat id is not an
// error; the update matches nothing.
func (r *Registry) RecordExchange(ctx context.Context, chatID string, delta int, preview string) error {
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE remote_chats
			SET last_updated_at = ?, message_count = message_count + ?, last_message_preview = ?
			WHERE chat_id = ?`,
			&sqlitex.ExecOptions{Args: []any{r.nowMillis(), delta, Preview(preview), chatID}})
	})
	if err != nil {
		return fmt.Errorf("device registry: record exchange on %s: %w", chatID, err)
	}
	return nil
}

// DeleteRemoteChat removes a chat binding and reports whether it
// existed. The chat itself stays on the device.
func (r *Registry) DeleteRemoteChat(ctx context.Context, chatID string) (bool, error) {
	var deleted bool
	err := r.pool.Do(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM remote_chats WHERE chat_id = ?`,
			&sqlitex.ExecOptions{Args: []any{chatID}}); err != nil {
			return err
		}
		deleted = conn.Changes() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("device registry: delete remote chat %s: %w", chatID, err)
	}
	return deleted, nil
}

// ResolveSessionBinding returns the remote binding of a session, or
// nil when the session is local.
func (r *Registry) ResolveSessionBinding(ctx context.Context, sessionID string) (*Binding, error) {
	chat, err := r.GetRemoteChat(ctx, sessionID)
	if err != nil {
		if isChatNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Binding{
		SessionID:        sessionID,
		DeviceID:         chat.DeviceID,
		WorkingDirectory: chat.WorkingDirectory,
	}, nil
}

// GetWorkingDirectory returns the remote working directory of a
// session.
func (r *Registry) GetWorkingDirectory(ctx context.Context, sessionID string) (string, error) {
	chat, err := r.GetRemoteChat(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return chat.WorkingDirectory, nil
}
