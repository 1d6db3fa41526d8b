// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devices

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is the derived reachability of a device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

const (
	onlineWindow  = 5 * time.Minute
	unknownWindow = 60 * time.Minute
)

// DeriveStatus classifies a device by how long ago it was last seen.
// A device never seen is unknown.
func DeriveStatus(lastSeen *time.Time, now time.Time) Status {
	if lastSeen == nil {
		return StatusUnknown
	}
	age := now.Sub(*lastSeen)
	switch {
	case age < onlineWindow:
		return StatusOnline
	case age < unknownWindow:
		return StatusUnknown
	default:
		return StatusOffline
	}
}

// DefaultPort is the SSH port used when a device does not set one.
const DefaultPort = 22

// Device is a registered remote host.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	Port     int    `json:"port"`

	// AgentPath is the agent binary on the device. Empty means the
	// configured default.
	AgentPath string `json:"agent_path,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	IsActive  bool       `json:"is_active"`

	// Status is derived from LastSeen when the device is read.
	Status Status `json:"status"`
}

// Address is user@host, for logs and error messages.
func (device Device) Address() string {
	return device.Username + "@" + device.Hostname
}

// DeviceSpec describes a device to register.
type DeviceSpec struct {
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	Username  string `json:"username"`
	Port      int    `json:"port,omitempty"`
	AgentPath string `json:"agent_path,omitempty"`
}

// Validate checks field lengths and the port range. A zero Port is
// accepted and means DefaultPort.
func (spec DeviceSpec) Validate() error {
	var errs []error
	checkLength := func(field, value string, max int) {
		length := utf8.RuneCountInString(value)
		if length == 0 {
			errs = append(errs, fmt.Errorf("%s is required", field))
		} else if length > max {
			errs = append(errs, fmt.Errorf("%s exceeds %d characters", field, max))
		}
	}
	checkLength("name", spec.Name, 100)
	checkLength("hostname", spec.Hostname, 255)
	checkLength("username", spec.Username, 100)
	if spec.Port < 0 || spec.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", spec.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}

// DeviceUpdate changes selected fields. Nil fields are left alone.
type DeviceUpdate struct {
	Name      *string `json:"name,omitempty"`
	Hostname  *string `json:"hostname,omitempty"`
	Username  *string `json:"username,omitempty"`
	Port      *int    `json:"port,omitempty"`
	AgentPath *string `json:"agent_path,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

// RemoteChat binds a session id to a device and a working directory.
type RemoteChat struct {
	ChatID             string     `json:"chat_id"`
	DeviceID           string     `json:"device_id"`
	WorkingDirectory   string     `json:"working_directory"`
	Name               string     `json:"name"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUpdatedAt      *time.Time `json:"last_updated_at,omitempty"`
	MessageCount       int        `json:"message_count"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
}

// DefaultChatName is used for remote chats created without a name.
const DefaultChatName = "Untitled"

// Binding is the remote placement of a session.
type Binding struct {
	SessionID        string
	DeviceID         string
	WorkingDirectory string
}

// PreviewLength is the number of runes kept by Preview.
const PreviewLength = 100

// Preview truncates text to its first PreviewLength runes.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength])
}

var (
	// ErrDeviceNotFound is returned, wrapped as "device <id> not
	// found", for unknown device ids.
	ErrDeviceNotFound = errors.New("not found")

	// ErrChatNotFound is returned, wrapped as "remote chat <id> not
	// found", for unknown remote chat ids.
	ErrChatNotFound = errors.New("not found")

	// ErrInvalidDevice wraps DeviceSpec validation failures.
	ErrInvalidDevice = errors.New("invalid device")
)

func deviceNotFound(id string) error {
	return fmt.Errorf("device %s %w", id, ErrDeviceNotFound)
}

func chatNotFound(id string) error {
	return fmt.Errorf("remote chat %s %w", id, ErrChatNotFound)
}

func isChatNotFound(err error) bool {
	return errors.Is(err, ErrChatNotFound)
}
