package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"linewire/internal/testsupport"
)

type cliTestEnv struct {
	daemon      *testsupport.Daemon
	socketPath  string
	configPath  string
	journalPath string
}

// setupCLITestEnv starts a scripted daemon that echoes every request's
// "payload" field back as the response data, and writes a config file whose
// paths all live under the test's temp directory.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	daemon := testsupport.StartDaemon(t, func(req map[string]any) []string {
		id, _ := req["id"].(string)
		if id == "" {
			return nil
		}
		payload := "{}"
		if p, ok := req["payload"].(string); ok {
			payload = fmt.Sprintf("{%q:%q}", "echo", p)
		}
		return []string{fmt.Sprintf(`{"id":%q,"data":%s}`, id, payload)}
	})

	journalPath := filepath.Join(base, "journal.db")
	configPath := filepath.Join(homeDir, ".config", "linewire", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(
		"[daemon]\nsocket_path = %q\nrequest_timeout = 5\n\n[journal]\npath = %q\n",
		daemon.Path(),
		journalPath,
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{
		daemon:      daemon,
		socketPath:  daemon.Path(),
		configPath:  configPath,
		journalPath: journalPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
