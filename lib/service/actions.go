// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/codec"
	"github.com/bureau-foundation/agentrelay/lib/conversation"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/dispatch"
	"github.com/bureau-foundation/agentrelay/lib/engine"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/transcript"
)

// Jobs is the engine surface the socket exposes.
type Jobs interface {
	SubmitJob(ctx context.Context, request agentcmd.Request) (string, error)
	GetJob(jobID string) (jobstore.Job, error)
	CancelJob(jobID string) (jobstore.Job, error)
	ListJobs(sessionID string, limit int) []jobstore.Job
	Converse(ctx context.Context, request agentcmd.Request) (engine.Reply, error)
	Status() engine.Status
}

// Registry is the device registry surface the socket exposes.
type Registry interface {
	CreateDevice(ctx context.Context, spec devices.DeviceSpec) (devices.Device, error)
	ListDevices(ctx context.Context, includeInactive bool) ([]devices.Device, error)
	ResolveDevice(ctx context.Context, id string) (devices.Device, error)
	UpdateDevice(ctx context.Context, id string, update devices.DeviceUpdate) (devices.Device, error)
	DeleteDevice(ctx context.Context, id string) (bool, error)
	CreateRemoteChat(ctx context.Context, chatID, deviceID, workingDirectory, name string) (devices.RemoteChat, error)
	ListRemoteChats(ctx context.Context, deviceID string) ([]devices.RemoteChat, error)
	DeleteRemoteChat(ctx context.Context, chatID string) (bool, error)
}

// Prober runs maintenance commands on devices. *dispatch.Remote
// implements it.
type Prober interface {
	CheckConnection(ctx context.Context, device devices.Device) error
	VerifyAgent(ctx context.Context, device devices.Device) (dispatch.AgentInfo, error)
	VerifyDirectory(ctx context.Context, device devices.Device, directory string) (bool, error)
	CreateRemoteChat(ctx context.Context, device devices.Device, directory string) (string, error)
	ListDirectory(ctx context.Context, device devices.Device, directory string) ([]dispatch.DirectoryEntry, error)
}

// Conversations is the local conversation store. *conversation.Persister
// implements it.
type Conversations interface {
	CreateSession(ctx context.Context, name string) (string, error)
	ListSessions(ctx context.Context) ([]string, error)
	LoadSession(ctx context.Context, sessionID string) (conversation.Session, error)
}

// Transcripts loads archived agent output.
type Transcripts interface {
	Load(jobID string) (transcript.Record, []byte, error)
}

// Handlers binds the socket actions to their backends. Jobs is
// required; actions whose backend is nil are not registered.
type Handlers struct {
	Jobs        Jobs
	Devices     Registry
	Probes      Prober
	Transcripts Transcripts

	Conversations Conversations
	Logger        *slog.Logger
}

// Register installs every available action on server.
func (h *Handlers) Register(server *SocketServer) {
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	server.Handle("status", h.status)
	server.Handle("submit", h.submit)
	server.Handle("get", h.get)
	server.Handle("cancel", h.cancel)
	server.Handle("list", h.list)
	server.Handle("ask", h.ask)
	if h.Transcripts != nil {
		server.Handle("transcript", h.transcript)
	}
	if h.Devices != nil {
		server.Handle("device-add", h.deviceAdd)
		server.Handle("device-list", h.deviceList)
		server.Handle("device-update", h.deviceUpdate)
		server.Handle("device-remove", h.deviceRemove)
		server.Handle("remote-chat-list", h.remoteChatList)
		server.Handle("remote-chat-remove", h.remoteChatRemove)
		if h.Probes != nil {
			server.Handle("device-check", h.deviceCheck)
			server.Handle("directory-list", h.directoryList)
			server.Handle("remote-chat-create", h.remoteChatCreate)
		}
	}
	if h.Conversations != nil {
		server.Handle("session-create", h.sessionCreate)
		server.Handle("session-list", h.sessionList)
		server.Handle("session-show", h.sessionShow)
	}
}

// decode unmarshals the request fields into target.
func decode(raw []byte, target any) error {
	if err := codec.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("missing required field: %s", name)
	}
	return nil
}

func (h *Handlers) status(ctx context.Context, raw []byte) (any, error) {
	return h.Jobs.Status(), nil
}

// PromptRequest is the body of "submit" and "ask".
type PromptRequest struct {
	SessionID string `cbor:"session_id"`
	Prompt    string `cbor:"prompt"`
	Model     string `cbor:"model,omitempty"`
}

func (request PromptRequest) agentRequest() agentcmd.Request {
	return agentcmd.Request{SessionID: request.SessionID, Prompt: request.Prompt, Model: request.Model}
}

// SubmitResponse is the data of a "submit" reply.
type SubmitResponse struct {
	JobID string `cbor:"job_id"`
}

func (h *Handlers) submit(ctx context.Context, raw []byte) (any, error) {
	var request PromptRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	jobID, err := h.Jobs.SubmitJob(ctx, request.agentRequest())
	if err != nil {
		return nil, err
	}
	return SubmitResponse{JobID: jobID}, nil
}

func (h *Handlers) ask(ctx context.Context, raw []byte) (any, error) {
	var request PromptRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return h.Jobs.Converse(ctx, request.agentRequest())
}

// JobRequest names a job.
type JobRequest struct {
	JobID string `cbor:"job_id"`
}

func (h *Handlers) get(ctx context.Context, raw []byte) (any, error) {
	var request JobRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("job_id", request.JobID); err != nil {
		return nil, err
	}
	return h.Jobs.GetJob(request.JobID)
}

func (h *Handlers) cancel(ctx context.Context, raw []byte) (any, error) {
	var request JobRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("job_id", request.JobID); err != nil {
		return nil, err
	}
	return h.Jobs.CancelJob(request.JobID)
}

// ListRequest is the body of "list". A limit of zero or less means the
// engine default.
type ListRequest struct {
	SessionID string `cbor:"session_id"`
	Limit     int    `cbor:"limit,omitempty"`
}

func (h *Handlers) list(ctx context.Context, raw []byte) (any, error) {
	var request ListRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("session_id", request.SessionID); err != nil {
		return nil, err
	}
	jobs := h.Jobs.ListJobs(request.SessionID, request.Limit)
	if jobs == nil {
		jobs = []jobstore.Job{}
	}
	return jobs, nil
}

// TranscriptResponse is the data of a "transcript" reply.
type TranscriptResponse struct {
	Record transcript.Record `cbor:"record"`
	Raw    []byte            `cbor:"raw"`
}

func (h *Handlers) transcript(ctx context.Context, raw []byte) (any, error) {
	var request JobRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("job_id", request.JobID); err != nil {
		return nil, err
	}
	record, stream, err := h.Transcripts.Load(request.JobID)
	if err != nil {
		return nil, err
	}
	return TranscriptResponse{Record: record, Raw: stream}, nil
}

func (h *Handlers) deviceAdd(ctx context.Context, raw []byte) (any, error) {
	var spec devices.DeviceSpec
	if err := decode(raw, &spec); err != nil {
		return nil, err
	}
	return h.Devices.CreateDevice(ctx, spec)
}

// DeviceListRequest is the body of "device-list".
type DeviceListRequest struct {
	IncludeInactive bool `cbor:"include_inactive,omitempty"`
}

func (h *Handlers) deviceList(ctx context.Context, raw []byte) (any, error) {
	var request DeviceListRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	list, err := h.Devices.ListDevices(ctx, request.IncludeInactive)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []devices.Device{}
	}
	return list, nil
}

// DeviceRequest names a device.
type DeviceRequest struct {
	DeviceID string `cbor:"device_id"`
}

// DeviceUpdateRequest is the body of "device-update": the device id
// plus the fields to change.
type DeviceUpdateRequest struct {
	DeviceID string `cbor:"device_id"`
	devices.DeviceUpdate
}

func (h *Handlers) deviceUpdate(ctx context.Context, raw []byte) (any, error) {
	var request DeviceUpdateRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("device_id", request.DeviceID); err != nil {
		return nil, err
	}
	device, err := h.Devices.UpdateDevice(ctx, request.DeviceID, request.DeviceUpdate)
	if err != nil {
		return nil, err
	}
	h.Logger.Info("device updated", "device_id", device.ID)
	return device, nil
}

// DeviceRemoveResponse is the data of a "device-remove" reply.
type DeviceRemoveResponse struct {
	Deleted bool `cbor:"deleted"`
}

func (h *Handlers) deviceRemove(ctx context.Context, raw []byte) (any, error) {
	var request DeviceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("device_id", request.DeviceID); err != nil {
		return nil, err
	}
	deleted, err := h.Devices.DeleteDevice(ctx, request.DeviceID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, fmt.Errorf("device %s %w", request.DeviceID, devices.ErrDeviceNotFound)
	}
	return DeviceRemoveResponse{Deleted: true}, nil
}

// DeviceCheckResponse is the data of a "device-check" reply. A failed
// probe is reported in Error rather than as a request failure.
type DeviceCheckResponse struct {
	Device    devices.Device      `cbor:"device"`
	Connected bool                `cbor:"connected"`
	Agent     *dispatch.AgentInfo `cbor:"agent,omitempty"`
	Error     string              `cbor:"error,omitempty"`
}

func (h *Handlers) deviceCheck(ctx context.Context, raw []byte) (any, error) {
	var request DeviceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("device_id", request.DeviceID); err != nil {
		return nil, err
	}
	device, err := h.Devices.ResolveDevice(ctx, request.DeviceID)
	if err != nil {
		return nil, err
	}

	response := DeviceCheckResponse{Device: device}
	if err := h.Probes.CheckConnection(ctx, device); err != nil {
		h.Logger.Info("device check failed", "device_id", device.ID, "error", err)
		response.Error = err.Error()
		return response, nil
	}
	response.Connected = true

	agent, err := h.Probes.VerifyAgent(ctx, device)
	if err != nil {
		response.Error = fmt.Sprintf("agent not usable at %s: %v", agent.Path, err)
	} else {
		response.Agent = &agent
	}

	// Re-read for the refreshed last-seen time and status.
	if refreshed, err := h.Devices.ResolveDevice(ctx, device.ID); err == nil {
		response.Device = refreshed
	}
	return response, nil
}

// RemoteChatCreateRequest is the body of "remote-chat-create".
type RemoteChatCreateRequest struct {
	DeviceID         string `cbor:"device_id"`
	WorkingDirectory string `cbor:"working_directory"`
	Name             string `cbor:"name,omitempty"`
}

// errDirectoryMissing is returned when the working directory does not
// exist on the device.
var errDirectoryMissing = errors.New("directory not found on device")

func (h *Handlers) remoteChatCreate(ctx context.Context, raw []byte) (any, error) {
	var request RemoteChatCreateRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("device_id", request.DeviceID); err != nil {
		return nil, err
	}
	if err := requireField("working_directory", request.WorkingDirectory); err != nil {
		return nil, err
	}
	device, err := h.Devices.ResolveDevice(ctx, request.DeviceID)
	if err != nil {
		return nil, err
	}

	exists, err := h.Probes.VerifyDirectory(ctx, device, request.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", request.WorkingDirectory, errDirectoryMissing)
	}

	chatID, err := h.Probes.CreateRemoteChat(ctx, device, request.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	chat, err := h.Devices.CreateRemoteChat(ctx, chatID, device.ID, request.WorkingDirectory, request.Name)
	if err != nil {
		return nil, err
	}
	h.Logger.Info("remote session created", "session_id", chatID, "device_id", device.ID)
	return chat, nil
}

// RemoteChatListRequest is the body of "remote-chat-list". An empty
// DeviceID lists chats on every device.
type RemoteChatListRequest struct {
	DeviceID string `cbor:"device_id,omitempty"`
}

func (h *Handlers) remoteChatList(ctx context.Context, raw []byte) (any, error) {
	var request RemoteChatListRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	chats, err := h.Devices.ListRemoteChats(ctx, request.DeviceID)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []devices.RemoteChat{}
	}
	return chats, nil
}

// DirectoryListRequest is the body of "directory-list". An empty
// Directory lists the remote home directory.
type DirectoryListRequest struct {
	DeviceID  string `cbor:"device_id"`
	Directory string `cbor:"directory,omitempty"`
}

func (h *Handlers) directoryList(ctx context.Context, raw []byte) (any, error) {
	var request DirectoryListRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("device_id", request.DeviceID); err != nil {
		return nil, err
	}
	if request.Directory == "" {
		request.Directory = "~"
	}
	device, err := h.Devices.ResolveDevice(ctx, request.DeviceID)
	if err != nil {
		return nil, err
	}
	entries, err := h.Probes.ListDirectory(ctx, device, request.Directory)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []dispatch.DirectoryEntry{}
	}
	return entries, nil
}

// RemoteChatRemoveRequest is the body of "remote-chat-remove".
type RemoteChatRemoveRequest struct {
	ChatID string `cbor:"chat_id"`
}

func (h *Handlers) remoteChatRemove(ctx context.Context, raw []byte) (any, error) {
	var request RemoteChatRemoveRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("chat_id", request.ChatID); err != nil {
		return nil, err
	}
	deleted, err := h.Devices.DeleteRemoteChat(ctx, request.ChatID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, fmt.Errorf("remote chat %s %w", request.ChatID, devices.ErrChatNotFound)
	}
	return DeviceRemoveResponse{Deleted: true}, nil
}

// SessionCreateRequest is the body of "session-create".
type SessionCreateRequest struct {
	Name string `cbor:"name,omitempty"`
}

// SessionRequest names a local session.
type SessionRequest struct {
	SessionID string `cbor:"session_id"`
}

func (h *Handlers) sessionCreate(ctx context.Context, raw []byte) (any, error) {
	var request SessionCreateRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	sessionID, err := h.Conversations.CreateSession(ctx, request.Name)
	if err != nil {
		return nil, err
	}
	return SessionRequest{SessionID: sessionID}, nil
}

func (h *Handlers) sessionList(ctx context.Context, raw []byte) (any, error) {
	ids, err := h.Conversations.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// SessionTurn is one stored turn of a "session-show" reply.
type SessionTurn struct {
	BubbleID string            `cbor:"bubble_id"`
	Role     conversation.Role `cbor:"role"`
	Text     string            `cbor:"text"`
	Thinking string            `cbor:"thinking,omitempty"`
}

// SessionResponse is the data of a "session-show" reply.
type SessionResponse struct {
	SessionID string        `cbor:"session_id"`
	Name      string        `cbor:"name"`
	Turns     []SessionTurn `cbor:"turns"`
	Missing   []string      `cbor:"missing,omitempty"`
}

func (h *Handlers) sessionShow(ctx context.Context, raw []byte) (any, error) {
	var request SessionRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireField("session_id", request.SessionID); err != nil {
		return nil, err
	}
	session, err := h.Conversations.LoadSession(ctx, request.SessionID)
	if err != nil {
		return nil, err
	}
	response := SessionResponse{SessionID: session.ID, Name: session.Name, Turns: []SessionTurn{}, Missing: session.Missing}
	for _, turn := range session.Turns {
		response.Turns = append(response.Turns, SessionTurn{
			BubbleID: turn.BubbleID, Role: turn.Role, Text: turn.Text, Thinking: turn.Thinking,
		})
	}
	return response, nil
}
