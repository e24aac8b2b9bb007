package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskflow/cmd/taskflow/cmd"
	"taskflow/internal/session"
)

// defaultTestConfig is the minimal config used by test constructors to ensure isolation.
const defaultTestConfig = "# test config\noutput_format: text\ncache:\n  write_delay_ms: 1\n"

// TestUser is the identity pre-signed-in by NewCLITest.
var TestUser = session.UserIdentity{ID: "user-1", Email: "test@example.com"}

// CLITest runs CLI commands in isolation against a fake backend and a
// mock keyring, with a pre-authenticated user.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	tmpDir     string
	configPath string

	Gateway *FakeGateway
	Keyring *session.MockKeyring
}

// NewCLITest creates a CLI test helper signed in as TestUser.
func NewCLITest(t *testing.T) *CLITest {
	c := NewCLITestSignedOut(t)
	user := TestUser
	c.cfg.User = &user
	return c
}

// NewCLITestSignedOut creates a CLI test helper with no session. Auth
// commands talk to whatever remote the config points at; point it at a
// test server with SetRemote.
func NewCLITestSignedOut(t *testing.T) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(defaultTestConfig), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	gw := NewFakeGateway()
	kr := session.NewMockKeyring()

	cfg := &cmd.Config{
		NoPrompt:   true,
		ConfigPath: configPath,
		CachePath:  filepath.Join(tmpDir, "snapshots.db"),
		LogPath:    filepath.Join(tmpDir, "notifications.log"),
		Keyring:    kr,
		Gateway:    gw,
	}

	return &CLITest{
		t:          t,
		cfg:        cfg,
		tmpDir:     tmpDir,
		configPath: configPath,
		Gateway:    gw,
		Keyring:    kr,
	}
}

// Config returns the test configuration.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// CachePath returns the path to the snapshot cache.
func (c *CLITest) CachePath() string {
	return c.cfg.CachePath
}

// SetRemote points the config at a live test server.
func (c *CLITest) SetRemote(baseURL, anonKey string) {
	c.t.Helper()
	c.SetConfigValue("remote", "\n  base_url: "+baseURL+"\n  anon_key: "+anonKey)
}

// SetConfigValue appends a configuration key-value pair to the test
// config file.
func (c *CLITest) SetConfigValue(key, value string) {
	c.t.Helper()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.t.Fatalf("failed to read config file: %v", err)
	}

	newConfig := string(data) + key + ": " + value + "\n"
	if err := os.WriteFile(c.configPath, []byte(newConfig), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetPasswordInput feeds the given lines to password prompts.
func (c *CLITest) SetPasswordInput(lines ...string) {
	c.cfg.PasswordInput = strings.NewReader(strings.Join(lines, "\n") + "\n")
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		t.Errorf("expected result code %q but output is empty", expectedCode)
		return
	}
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)
