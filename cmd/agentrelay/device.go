// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/dispatch"
	"github.com/bureau-foundation/agentrelay/lib/service"
)

// probeCallTimeout covers the ssh connect timeout plus the agent
// version probe.
const probeCallTimeout = time.Minute

func (a *app) deviceCommand() *cli.Command {
	return &cli.Command{
		Name:    "device",
		Summary: "Register and probe remote devices",
		Subcommands: []*cli.Command{
			a.deviceAddCommand(),
			a.deviceListCommand(),
			a.deviceUpdateCommand(),
			a.deviceCheckCommand(),
			a.deviceLsCommand(),
			a.deviceRemoveCommand(),
		},
	}
}

func (a *app) deviceAddCommand() *cli.Command {
	var spec devices.DeviceSpec
	return &cli.Command{
		Name:    "add",
		Summary: "Register a device reachable over ssh",
		Usage:   "agentrelay device add --name <name> --host <hostname> --user <username> [flags]",
		Examples: []string{
			"agentrelay device add --name buildbox --host build.internal --user ci --port 2222",
		},
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&spec.Name, "name", "", "display name")
			flagSet.StringVar(&spec.Hostname, "host", "", "hostname or address")
			flagSet.StringVar(&spec.Username, "user", "", "ssh user")
			flagSet.IntVar(&spec.Port, "port", devices.DefaultPort, "ssh port")
			flagSet.StringVar(&spec.AgentPath, "agent-path", "", "agent binary on the device (default: the service's remote default)")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay device add --name <name> --host <hostname> --user <username>"); err != nil {
				return err
			}
			if err := spec.Validate(); err != nil {
				return err
			}
			var device devices.Device
			if err := a.conn.call(ctx, "device-add", map[string]any{
				"name":       spec.Name,
				"hostname":   spec.Hostname,
				"username":   spec.Username,
				"port":       spec.Port,
				"agent_path": spec.AgentPath,
			}, &device); err != nil {
				return err
			}
			if done, err := a.out.Emit(device); done {
				return err
			}
			a.out.Printf("%s\n", device.ID)
			return nil
		},
	}
}

func (a *app) deviceListCommand() *cli.Command {
	var includeInactive bool
	return &cli.Command{
		Name:    "list",
		Summary: "List registered devices",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&includeInactive, "all", false, "include inactive devices")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay device list [--all]"); err != nil {
				return err
			}
			var list []devices.Device
			if err := a.conn.call(ctx, "device-list", map[string]any{"include_inactive": includeInactive}, &list); err != nil {
				return err
			}
			if done, err := a.out.Emit(list); done {
				return err
			}
			rows := make([][]string, len(list))
			for i, device := range list {
				rows[i] = []string{
					device.ID,
					device.Name,
					device.Address() + ":" + strconv.Itoa(device.Port),
					string(device.Status),
					formatTime(device.LastSeen),
				}
			}
			return a.out.Table([]string{"id", "name", "address", "status", "last seen"}, rows)
		},
	}
}

func (a *app) deviceUpdateCommand() *cli.Command {
	var (
		parsed *pflag.FlagSet
		spec   devices.DeviceSpec
		active bool
	)
	return &cli.Command{
		Name:    "update",
		Summary: "Change the connection settings of a device",
		Usage:   "agentrelay device update [flags] <device-id>",
		Examples: []string{
			"agentrelay device update --port 2200 0b6d...",
			"agentrelay device update --active=false 0b6d...",
		},
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			parsed = flagSet
			flagSet.StringVar(&spec.Name, "name", "", "display name")
			flagSet.StringVar(&spec.Hostname, "host", "", "hostname or address")
			flagSet.StringVar(&spec.Username, "user", "", "ssh user")
			flagSet.IntVar(&spec.Port, "port", devices.DefaultPort, "ssh port")
			flagSet.StringVar(&spec.AgentPath, "agent-path", "", "agent binary on the device (empty restores the default)")
			flagSet.BoolVar(&active, "active", true, "whether the device is listed and usable")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay device update [flags] <device-id>"); err != nil {
				return err
			}
			fields := map[string]any{"device_id": args[0]}
			changed := map[string]struct {
				key   string
				value any
			}{
				"name":       {"name", spec.Name},
				"host":       {"hostname", spec.Hostname},
				"user":       {"username", spec.Username},
				"port":       {"port", spec.Port},
				"agent-path": {"agent_path", spec.AgentPath},
				"active":     {"is_active", active},
			}
			for flag, field := range changed {
				if parsed.Changed(flag) {
					fields[field.key] = field.value
				}
			}
			if len(fields) == 1 {
				return fmt.Errorf("nothing to update: pass at least one of --name, --host, --user, --port, --agent-path or --active")
			}

			var device devices.Device
			if err := a.conn.call(ctx, "device-update", fields, &device); err != nil {
				return err
			}
			if done, err := a.out.Emit(device); done {
				return err
			}
			return a.out.Fields(
				[2]string{"id", device.ID},
				[2]string{"name", device.Name},
				[2]string{"address", device.Address() + ":" + strconv.Itoa(device.Port)},
				[2]string{"agent path", device.AgentPath},
				[2]string{"active", strconv.FormatBool(device.IsActive)},
			)
		},
	}
}

func (a *app) deviceLsCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Summary: "List a directory on a device",
		Usage:   "agentrelay device ls [flags] <device-id> [directory]",
		Examples: []string{
			"agentrelay device ls 0b6d... /srv/checkouts",
		},
		Flags: a.withTimeout(probeCallTimeout, nil),
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: agentrelay device ls <device-id> [directory]")
			}
			fields := map[string]any{"device_id": args[0]}
			if len(args) == 2 {
				fields["directory"] = args[1]
			}
			var entries []dispatch.DirectoryEntry
			if err := a.conn.call(ctx, "directory-list", fields, &entries); err != nil {
				return err
			}
			if done, err := a.out.Emit(entries); done {
				return err
			}
			rows := make([][]string, len(entries))
			for i, entry := range entries {
				name := entry.Name
				if entry.IsDirectory {
					name += "/"
				}
				rows[i] = []string{entry.Permissions, name}
			}
			return a.out.Table([]string{"mode", "name"}, rows)
		},
	}
}

func (a *app) deviceCheckCommand() *cli.Command {
	return &cli.Command{
		Name:    "check",
		Summary: "Test ssh connectivity and the agent binary on a device",
		Usage:   "agentrelay device check [flags] <device-id>",
		Flags:   a.withTimeout(probeCallTimeout, nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay device check <device-id>"); err != nil {
				return err
			}
			var response service.DeviceCheckResponse
			if err := a.conn.call(ctx, "device-check", map[string]any{"device_id": args[0]}, &response); err != nil {
				return err
			}
			if done, err := a.out.Emit(response); done {
				if err == nil && !response.Connected {
					err = &cli.ExitError{Code: 1}
				}
				return err
			}
			connected := "no"
			if response.Connected {
				connected = "yes"
			}
			var agent string
			if response.Agent != nil {
				agent = response.Agent.Path + " " + response.Agent.Version
			}
			if err := a.out.Fields(
				[2]string{"device", response.Device.Name + " (" + response.Device.Address() + ")"},
				[2]string{"connected", connected},
				[2]string{"status", string(response.Device.Status)},
				[2]string{"agent", agent},
				[2]string{"error", response.Error},
			); err != nil {
				return err
			}
			if !response.Connected {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func (a *app) deviceRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:    "remove",
		Summary: "Delete a device and its remote sessions",
		Usage:   "agentrelay device remove [flags] <device-id>",
		Flags:   a.withFlags(nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay device remove <device-id>"); err != nil {
				return err
			}
			var response service.DeviceRemoveResponse
			if err := a.conn.call(ctx, "device-remove", map[string]any{"device_id": args[0]}, &response); err != nil {
				return err
			}
			if done, err := a.out.Emit(response); done {
				return err
			}
			a.out.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func (a *app) chatCommand() *cli.Command {
	return &cli.Command{
		Name:    "chat",
		Summary: "Bind sessions to working directories on remote devices",
		Subcommands: []*cli.Command{
			a.chatCreateCommand(),
			a.chatListCommand(),
			a.chatRemoveCommand(),
		},
	}
}

func (a *app) chatCreateCommand() *cli.Command {
	var name string
	return &cli.Command{
		Name:    "create",
		Summary: "Create an agent chat on a device and print its session id",
		Usage:   "agentrelay chat create [flags] <device-id> <working-directory>",
		Examples: []string{
			"agentrelay chat create --name api-refactor 0b6d... /srv/checkouts/api",
		},
		Flags: a.withTimeout(probeCallTimeout, func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&name, "name", "", "chat name (default: "+devices.DefaultChatName+")")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 2, "agentrelay chat create <device-id> <working-directory>"); err != nil {
				return err
			}
			var chat devices.RemoteChat
			if err := a.conn.call(ctx, "remote-chat-create", map[string]any{
				"device_id":         args[0],
				"working_directory": args[1],
				"name":              name,
			}, &chat); err != nil {
				return err
			}
			if done, err := a.out.Emit(chat); done {
				return err
			}
			a.out.Printf("%s\n", chat.ChatID)
			return nil
		},
	}
}

func (a *app) chatListCommand() *cli.Command {
	var deviceID string
	return &cli.Command{
		Name:    "list",
		Summary: "List remote sessions",
		Flags: a.withFlags(func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&deviceID, "device", "", "only sessions on this device")
		}),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 0, "agentrelay chat list [--device <device-id>]"); err != nil {
				return err
			}
			var chats []devices.RemoteChat
			if err := a.conn.call(ctx, "remote-chat-list", map[string]any{"device_id": deviceID}, &chats); err != nil {
				return err
			}
			if done, err := a.out.Emit(chats); done {
				return err
			}
			rows := make([][]string, len(chats))
			for i, chat := range chats {
				rows[i] = []string{
					chat.ChatID,
					chat.Name,
					chat.DeviceID,
					chat.WorkingDirectory,
					strconv.Itoa(chat.MessageCount),
					chat.LastMessagePreview,
				}
			}
			return a.out.Table([]string{"session", "name", "device", "directory", "messages", "last message"}, rows)
		},
	}
}

func (a *app) chatRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:    "remove",
		Summary: "Forget a remote session binding",
		Usage:   "agentrelay chat remove [flags] <session-id>",
		Flags:   a.withFlags(nil),
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "agentrelay chat remove <session-id>"); err != nil {
				return err
			}
			var response service.DeviceRemoveResponse
			if err := a.conn.call(ctx, "remote-chat-remove", map[string]any{"chat_id": args[0]}, &response); err != nil {
				return err
			}
			if done, err := a.out.Emit(response); done {
				return err
			}
			a.out.Printf("removed %s\n", args[0])
			return nil
		},
	}
}
