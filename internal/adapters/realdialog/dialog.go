// Package realdialog provides a TUI-based DialogProvider using charmbracelet/huh.
//
// The MCP server talks JSON-RPC over its own stdin/stdout, so the form cannot
// use them. Instead the provider:
//  1. Encrypts the prefill to a temp file (AES-256-GCM, 0600)
//  2. Writes a self-deleting wrapper script (0700) exporting the file path and key
//  3. Opens a terminal window running `synology-mcp form` through the wrapper
//  4. Polls for a done marker, then decrypts the result
//
// A password typed into the form is stored in the OS keyring by the helper
// and never crosses back to the server process.
package realdialog

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/security"
)

const (
	envFormFile = "SYNOLOGY_MCP_FORM_FILE"
	envFormKey  = "SYNOLOGY_MCP_FORM_KEY"

	doneOK = "ok"
)

// Launcher opens a terminal running script. The returned func, when non-nil,
// closes the window.
type Launcher func(script string) (func(), error)

// Provider implements ports.DialogProvider by launching a TUI form in a separate terminal.
type Provider struct {
	launch       Launcher
	executable   func() (string, error)
	timeout      time.Duration
	pollInterval time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithLauncher replaces the terminal launcher.
func WithLauncher(l Launcher) Option {
	return func(p *Provider) {
		p.launch = l
	}
}

// WithExecutable sets how the helper binary is located.
func WithExecutable(fn func() (string, error)) Option {
	return func(p *Provider) {
		p.executable = fn
	}
}

// WithTimeout bounds how long the user has to submit the form.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithPollInterval sets how often the done marker is checked.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// New returns a new TUI dialog provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		launch:       launchTerminal,
		executable:   os.Executable,
		timeout:      5 * time.Minute,
		pollInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EndpointConfigForm launches the endpoint form in a new terminal window.
func (p *Provider) EndpointConfigForm(prefill ports.EndpointFormData) (ports.EndpointFormData, error) {
	key, err := generateKey()
	if err != nil {
		return prefill, err
	}

	tmpPath, err := writeEncryptedPrefill(prefill, key)
	if err != nil {
		return prefill, err
	}
	defer os.Remove(tmpPath)

	donePath := tmpPath + ".done"
	defer os.Remove(donePath)

	selfPath, err := p.executable()
	if err != nil {
		return prefill, fmt.Errorf("find executable: %w", err)
	}
	wrapperPath, err := writeWrapperScript(selfPath, tmpPath, key)
	if err != nil {
		return prefill, err
	}
	defer os.Remove(wrapperPath)

	closeTerminal, err := p.launch(wrapperPath)
	if err != nil {
		return prefill, fmt.Errorf("launch terminal: %w", err)
	}
	if closeTerminal != nil {
		defer closeTerminal()
	}

	if err := waitForDone(donePath, p.timeout, p.pollInterval); err != nil {
		return prefill, err
	}

	return readEncryptedResult(tmpPath, key)
}

// writeEncryptedPrefill marshals and encrypts prefill data to a temp file.
func writeEncryptedPrefill(prefill ports.EndpointFormData, key string) (string, error) {
	prefillJSON, err := json.Marshal(prefill)
	if err != nil {
		return "", fmt.Errorf("marshal prefill: %w", err)
	}

	encrypted, err := seal(prefillJSON, key)
	security.WipeBytes(prefillJSON)
	if err != nil {
		return "", fmt.Errorf("encrypt prefill: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "synology-mcp-form-*.enc")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer tmpFile.Close()

	if err := os.Chmod(tmpPath, 0600); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(encrypted); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return tmpPath, nil
}

// writeWrapperScript creates a self-deleting shell script that runs the
// form helper subcommand.
func writeWrapperScript(selfPath, tmpPath, key string) (string, error) {
	content := fmt.Sprintf("#!/bin/sh\nrm -f \"$0\"\nexport %s='%s'\nexport %s='%s'\nexec '%s' form\n",
		envFormFile, tmpPath,
		envFormKey, key,
		selfPath,
	)

	f, err := os.CreateTemp("", "synology-mcp-wrapper-*.sh")
	if err != nil {
		return "", fmt.Errorf("create wrapper: %w", err)
	}
	wrapperPath := f.Name()

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write wrapper: %w", err)
	}
	f.Close()

	if err := os.Chmod(wrapperPath, 0700); err != nil {
		return "", fmt.Errorf("chmod wrapper: %w", err)
	}
	return wrapperPath, nil
}

// waitForDone polls for the done marker. Any content other than "ok" is the
// helper's error message.
func waitForDone(donePath string, timeout, interval time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("form timed out after %s", timeout)
		case <-ticker.C:
			data, err := os.ReadFile(donePath)
			if err != nil {
				continue
			}
			if msg := strings.TrimSpace(string(data)); msg != doneOK {
				return fmt.Errorf("form helper: %s", msg)
			}
			return nil
		}
	}
}

// readEncryptedResult reads and decrypts the form result from the temp file.
func readEncryptedResult(tmpPath, key string) (ports.EndpointFormData, error) {
	var zero ports.EndpointFormData

	encResult, err := os.ReadFile(tmpPath)
	if err != nil {
		return zero, fmt.Errorf("read result: %w", err)
	}

	decResult, err := open(encResult, key)
	if err != nil {
		return zero, fmt.Errorf("decrypt result: %w", err)
	}
	defer security.WipeBytes(decResult)

	var result ports.EndpointFormData
	if err := json.Unmarshal(decResult, &result); err != nil {
		return zero, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}

// launchTerminal opens a new terminal window running the given script.
func launchTerminal(scriptPath string) (func(), error) {
	switch runtime.GOOS {
	case "darwin":
		return launchTerminalDarwin(scriptPath)
	case "linux":
		return launchTerminalLinux(scriptPath)
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// launchTerminalDarwin opens a Terminal.app window via osascript and returns
// a func that closes it by id.
func launchTerminalDarwin(scriptPath string) (func(), error) {
	appleScript := fmt.Sprintf(`tell application "Terminal"
	activate
	do script "%s"
	return id of front window
end tell`, scriptPath)

	out, err := exec.Command("osascript", "-e", appleScript).Output()
	if err != nil {
		return nil, err
	}
	windowID := strings.TrimSpace(string(out))

	return func() {
		// Let the wrapper exit first so Terminal does not ask to confirm.
		time.Sleep(500 * time.Millisecond)
		closeScript := fmt.Sprintf(`tell application "Terminal"
	close (every window whose id is %s)
end tell`, windowID)
		_ = exec.Command("osascript", "-e", closeScript).Run()
	}, nil
}

// linuxTerminals are tried in order; they close when the script exits.
var linuxTerminals = []struct {
	name string
	flag string
}{
	{"x-terminal-emulator", "-e"},
	{"gnome-terminal", "--"},
	{"konsole", "-e"},
	{"xfce4-terminal", "-e"},
	{"xterm", "-e"},
}

func launchTerminalLinux(scriptPath string) (func(), error) {
	tried := make([]string, 0, len(linuxTerminals))
	for _, t := range linuxTerminals {
		tried = append(tried, t.name)
		binPath, err := exec.LookPath(t.name)
		if err != nil {
			continue
		}
		if err := exec.Command(binPath, t.flag, scriptPath).Start(); err != nil {
			continue
		}
		return nil, nil
	}
	return nil, fmt.Errorf("no terminal emulator found; tried: %s", strings.Join(tried, ", "))
}
