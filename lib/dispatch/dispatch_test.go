// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/streamjson"
	"github.com/bureau-foundation/agentrelay/lib/testutil"
)

const okStream = `{"type":"assistant","message":{"content":[{"type":"text","text":"thinking aloud"}]}}
{"type":"result","subtype":"success","result":"ok"}`

// fakeAgent writes a script that records its arguments and working
// directory next to itself and prints okStream.
func fakeAgent(t *testing.T) (path, argsFile, pwdFile string) {
	t.Helper()
	directory := t.TempDir()
	argsFile = filepath.Join(directory, "args")
	pwdFile = filepath.Join(directory, "pwd")
	body := fmt.Sprintf("printf '%%s\\n' \"$@\" > %s\npwd > %s\ncat <<'STREAM'\n%s\nSTREAM\n",
		agentcmd.ShellQuote(argsFile), agentcmd.ShellQuote(pwdFile), okStream)
	return testutil.WriteScript(t, "agent", body), argsFile, pwdFile
}

// fakeSSH writes an ssh stand-in that records its arguments and runs
// the final argument with sh, as sshd would.
func fakeSSH(t *testing.T) (path, argsFile string) {
	t.Helper()
	argsFile = filepath.Join(t.TempDir(), "ssh-args")
	body := fmt.Sprintf("printf '%%s\\n' \"$@\" > %s\nfor last; do :; done\nexec sh -c \"$last\"\n",
		agentcmd.ShellQuote(argsFile))
	return testutil.WriteScript(t, "ssh", body), argsFile
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

type recordedExchange struct {
	chatID  string
	delta   int
	preview string
}

type fakeRecorder struct {
	mu        sync.Mutex
	touched   []string
	exchanges []recordedExchange
}

func (f *fakeRecorder) TouchLastSeen(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, deviceID)
	return nil
}

func (f *fakeRecorder) RecordExchange(_ context.Context, chatID string, delta int, preview string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, recordedExchange{chatID, delta, preview})
	return nil
}

func TestLocalDispatchSuccess(t *testing.T) {
	t.Parallel()
	agent, argsFile, _ := fakeAgent(t)
	local := NewLocal(LocalConfig{Binary: agent})

	result, err := local.Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "session-1", Prompt: "Say 'ok'"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Model != agentcmd.DefaultModel {
		t.Errorf("Model = %q, want %q", result.Model, agentcmd.DefaultModel)
	}
	if result.DeviceID != "" {
		t.Errorf("DeviceID = %q, want empty for local", result.DeviceID)
	}

	output, _ := streamjson.Parse(result.Stdout)
	if output.Text != "ok" {
		t.Errorf("parsed Text = %q, want ok", output.Text)
	}

	want := []string{"--print", "--force", "--model", agentcmd.DefaultModel, "--output-format", "stream-json", "--resume", "session-1", "Say 'ok'"}
	if got := readLines(t, argsFile); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("agent args = %q, want %q", got, want)
	}
}

func TestLocalDispatchWorkingDirectory(t *testing.T) {
	t.Parallel()
	agent, _, pwdFile := fakeAgent(t)
	directory := t.TempDir()
	local := NewLocal(LocalConfig{Binary: agent, WorkingDirectory: directory})

	if _, err := local.Dispatch(context.Background(), Call{Request: agentcmd.Request{SessionID: "s", Prompt: "p"}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(directory)
	if got := readLines(t, pwdFile)[0]; got != directory && got != resolved {
		t.Errorf("agent ran in %q, want %q", got, directory)
	}
}

func TestLocalDispatchNonZeroExit(t *testing.T) {
	t.Parallel()
	agent := testutil.WriteScript(t, "agent", "echo 'not authenticated' >&2\nexit 3\n")
	local := NewLocal(LocalConfig{Binary: agent})

	_, err := local.Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "s", Prompt: "secret prompt text"},
	})
	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *FailureError", err)
	}
	if failure.ExitCode != 3 || failure.Stderr != "not authenticated" || failure.Device != nil {
		t.Errorf("FailureError = %+v", failure)
	}
	if strings.Contains(err.Error(), "secret prompt text") || strings.Contains(err.Error(), agent) {
		t.Errorf("error leaks the command line: %q", err)
	}
}

func TestLocalDispatchTimeoutKillsProcessGroup(t *testing.T) {
	t.Parallel()
	marker := filepath.Join(t.TempDir(), "survived")
	agent := testutil.WriteScript(t, "agent",
		fmt.Sprintf("(sleep 3; touch %s) &\nsleep 30\n", agentcmd.ShellQuote(marker)))
	local := NewLocal(LocalConfig{Binary: agent})

	started := time.Now()
	_, err := local.Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "s", Prompt: "p"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var timeout *TimeoutError
	if !errors.As(err, &timeout) || timeout.Timeout != 200*time.Millisecond {
		t.Errorf("TimeoutError = %+v", timeout)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("Dispatch took %s after timeout", elapsed)
	}

	time.Sleep(4 * time.Second)
	if _, err := os.Stat(marker); err == nil {
		t.Error("background child outlived the timeout")
	}
}

func TestLocalDispatchMissingBinary(t *testing.T) {
	t.Parallel()
	local := NewLocal(LocalConfig{Binary: filepath.Join(t.TempDir(), "no-such-agent")})

	_, err := local.Dispatch(context.Background(), Call{Request: agentcmd.Request{SessionID: "s", Prompt: "p"}})
	var failure *FailureError
	if !errors.As(err, &failure) || failure.ExitCode != -1 {
		t.Fatalf("err = %v, want FailureError with exit -1", err)
	}
}

func TestLocalDispatchValidatesBeforeRunning(t *testing.T) {
	t.Parallel()
	agent, argsFile, _ := fakeAgent(t)
	local := NewLocal(LocalConfig{Binary: agent})

	_, err := local.Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "s", Prompt: "p", Model: "gpt-1"},
	})
	if !errors.Is(err, agentcmd.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
	if _, statErr := os.Stat(argsFile); statErr == nil {
		t.Error("agent ran despite the validation error")
	}
}

func testDevice(agentPath string) devices.Device {
	return devices.Device{
		ID:        "dev-1",
		Name:      "builder",
		Hostname:  "builder.lan",
		Username:  "dev",
		Port:      2222,
		AgentPath: agentPath,
	}
}

func newTestRemote(t *testing.T, ssh string, recorder ExchangeRecorder) *Remote {
	t.Helper()
	remote, err := NewRemote(RemoteConfig{
		SSHBinary:      ssh,
		ConnectTimeout: 10 * time.Second,
		Recorder:       recorder,
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	return remote
}

func TestRemoteDispatchSuccess(t *testing.T) {
	t.Parallel()
	agent, agentArgs, pwdFile := fakeAgent(t)
	ssh, sshArgs := fakeSSH(t)
	recorder := &fakeRecorder{}
	remote := newTestRemote(t, ssh, recorder)
	workdir := t.TempDir()

	prompt := `$(touch pwned); echo "it's" && false`
	result, err := remote.Bind(testDevice(agent), workdir).Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "chat-7", Prompt: prompt, Model: "gpt-5"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.DeviceID != "dev-1" || result.Model != "gpt-5" {
		t.Errorf("Result = %+v", result)
	}

	args := readLines(t, sshArgs)
	wantPrefix := []string{
		"-o", "ConnectTimeout=10",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-p", "2222",
		"dev@builder.lan",
	}
	if strings.Join(args[:len(wantPrefix)], "|") != strings.Join(wantPrefix, "|") {
		t.Errorf("ssh args = %q, want prefix %q", args, wantPrefix)
	}
	if !strings.HasPrefix(args[len(wantPrefix)], "cd ") {
		t.Errorf("remote command = %q, want a cd prefix", args[len(wantPrefix)])
	}

	if got := readLines(t, agentArgs); got[len(got)-1] != prompt {
		t.Errorf("prompt arrived as %q, want %q", got[len(got)-1], prompt)
	}
	if _, err := os.Stat(filepath.Join(workdir, "pwned")); err == nil {
		t.Error("prompt was interpreted by the remote shell")
	}
	resolved, _ := filepath.EvalSymlinks(workdir)
	if got := readLines(t, pwdFile)[0]; got != workdir && got != resolved {
		t.Errorf("agent ran in %q, want %q", got, workdir)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.touched) != 1 || recorder.touched[0] != "dev-1" {
		t.Errorf("touched = %v, want [dev-1]", recorder.touched)
	}
	if len(recorder.exchanges) != 1 || recorder.exchanges[0] != (recordedExchange{"chat-7", 2, "ok"}) {
		t.Errorf("exchanges = %+v, want one {chat-7 2 ok}", recorder.exchanges)
	}
}

func TestRemoteDispatchKnownHostsAndPolicy(t *testing.T) {
	t.Parallel()
	remote, err := NewRemote(RemoteConfig{
		HostKeyPolicy:  HostKeyStrict,
		KnownHostsFile: "/etc/agentrelay/known_hosts",
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	argv := remote.sshArgv(devices.Device{Hostname: "h", Username: "u"}, "true")
	joined := strings.Join(argv, " ")
	for _, want := range []string{"ssh ", "StrictHostKeyChecking=yes", "UserKnownHostsFile=/etc/agentrelay/known_hosts", "-p 22 ", "u@h true"} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}

	if _, err := NewRemote(RemoteConfig{HostKeyPolicy: "sometimes"}); err == nil {
		t.Error("NewRemote accepted an unknown host key policy")
	}
}

func TestRemoteDispatchSSHFailure(t *testing.T) {
	t.Parallel()
	ssh := testutil.WriteScript(t, "ssh", "echo 'dev@builder.lan: Permission denied (publickey).' >&2\nexit 255\n")
	recorder := &fakeRecorder{}
	remote := newTestRemote(t, ssh, recorder)

	_, err := remote.Bind(testDevice("/opt/agent"), "/srv").Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "chat-7", Prompt: "classified prompt"},
	})
	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *FailureError", err)
	}
	if failure.ExitCode != 255 || failure.Device == nil || failure.Device.ID != "dev-1" {
		t.Errorf("FailureError = %+v", failure)
	}
	message := err.Error()
	for _, want := range []string{"builder", "dev-1", "ssh connection failed", "Permission denied"} {
		if !strings.Contains(message, want) {
			t.Errorf("error %q missing %q", message, want)
		}
	}
	if strings.Contains(message, "classified prompt") || strings.Contains(message, "/opt/agent") {
		t.Errorf("error leaks the command line: %q", message)
	}
	if len(recorder.touched) != 0 || len(recorder.exchanges) != 0 {
		t.Error("failure recorded device activity")
	}
}

func TestRemoteDispatchTimeout(t *testing.T) {
	t.Parallel()
	ssh := testutil.WriteScript(t, "ssh", "sleep 30\n")
	remote, err := NewRemote(RemoteConfig{
		SSHBinary:      ssh,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	_, err = remote.Bind(testDevice(""), "/srv").Dispatch(context.Background(), Call{
		Request: agentcmd.Request{SessionID: "s", Prompt: "p"},
		Timeout: 100 * time.Millisecond,
	})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	// The bound is the larger of call+connect and the command timeout.
	if timeout.Timeout != 1100*time.Millisecond {
		t.Errorf("Timeout = %s, want 1.1s", timeout.Timeout)
	}
	if timeout.Device == nil || timeout.Device.Name != "builder" {
		t.Errorf("Device = %+v, want builder", timeout.Device)
	}
}

func TestProbes(t *testing.T) {
	t.Parallel()
	agent := testutil.WriteScript(t, "agent", `case "$1" in
--version) echo "2026.03.01-abc" ;;
create-chat) echo "  new-chat-id  " ;;
*) exit 9 ;;
esac
`)
	ssh, _ := fakeSSH(t)
	recorder := &fakeRecorder{}
	remote := newTestRemote(t, ssh, recorder)
	device := testDevice(agent)
	ctx := context.Background()

	if err := remote.CheckConnection(ctx, device); err != nil {
		t.Fatalf("CheckConnection: %v", err)
	}
	if len(recorder.touched) != 1 {
		t.Errorf("CheckConnection touched %d times, want 1", len(recorder.touched))
	}

	info, err := remote.VerifyAgent(ctx, device)
	if err != nil || info.Version != "2026.03.01-abc" || info.Path != agent {
		t.Errorf("VerifyAgent = %+v, %v", info, err)
	}

	existing := t.TempDir()
	if ok, err := remote.VerifyDirectory(ctx, device, existing); err != nil || !ok {
		t.Errorf("VerifyDirectory(existing) = %v, %v; want true", ok, err)
	}
	if ok, err := remote.VerifyDirectory(ctx, device, filepath.Join(existing, "it's missing")); err != nil || ok {
		t.Errorf("VerifyDirectory(missing) = %v, %v; want false", ok, err)
	}

	chatID, err := remote.CreateRemoteChat(ctx, device, existing)
	if err != nil || chatID != "new-chat-id" {
		t.Errorf("CreateRemoteChat = %q, %v; want new-chat-id", chatID, err)
	}

	if err := os.WriteFile(filepath.Join(existing, "with space.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(existing, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	entries, err := remote.ListDirectory(ctx, device, existing)
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	found := map[string]bool{}
	for _, entry := range entries {
		found[entry.Name] = entry.IsDirectory
	}
	if isDir, ok := found["sub"]; !ok || !isDir {
		t.Errorf("entries %v missing directory sub", entries)
	}
	if isDir, ok := found["with space.txt"]; !ok || isDir {
		t.Errorf("entries %v missing file 'with space.txt'", entries)
	}
	if _, ok := found["."]; ok {
		t.Error("listing includes .")
	}
}

func TestCheckConnectionRequiresMarker(t *testing.T) {
	t.Parallel()
	ssh := testutil.WriteScript(t, "ssh", "echo 'motd only'\n")
	recorder := &fakeRecorder{}
	remote := newTestRemote(t, ssh, recorder)

	err := remote.CheckConnection(context.Background(), testDevice(""))
	if !errors.Is(err, ErrProbeFailed) {
		t.Errorf("err = %v, want ErrProbeFailed", err)
	}
	if len(recorder.touched) != 0 {
		t.Error("failed probe touched last seen")
	}
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	listing := `total 16
drwxr-xr-x  4 dev dev 4096 Mar  1 09:00 .
drwxr-xr-x 20 dev dev 4096 Mar  1 08:00 ..
-rw-r--r--  1 dev dev   12 Mar  1 09:00 go.mod
drwxr-xr-x  2 dev dev 4096 Mar  1 09:00 my   dir
`
	entries := parseListing(listing)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Name != "go.mod" || entries[0].IsDirectory || entries[0].Permissions != "-rw-r--r--" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "my   dir" || !entries[1].IsDirectory {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestFailureErrorStartFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("exec: no such file")
	err := &FailureError{ExitCode: -1, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("FailureError does not unwrap to its cause")
	}
	if got := err.Error(); got != "agent failed to start: exec: no such file" {
		t.Errorf("Error() = %q", got)
	}
}
