package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/session"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakeclock"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakedialog"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakefs"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakelock"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakenas"
)

var testTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	testUser     = "admin"
	testPassword = "secret"
	statePath    = "/state/state.yaml"
)

// memoryPasswords is an in-memory PasswordStore.
type memoryPasswords struct {
	mu     sync.Mutex
	stored map[string]string
	err    error
}

func newMemoryPasswords() *memoryPasswords {
	return &memoryPasswords{stored: make(map[string]string)}
}

func (m *memoryPasswords) GetEndpointPassword(endpoint, user string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	pw, ok := m.stored[user+"@"+endpoint]
	if !ok {
		return nil, nil
	}
	return []byte(pw), nil
}

func (m *memoryPasswords) StoreEndpointPassword(endpoint, user string, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stored[user+"@"+endpoint] = string(password)
	return nil
}

func (m *memoryPasswords) get(endpoint, user string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw, ok := m.stored[user+"@"+endpoint]
	return pw, ok
}

// testEnv bundles a server with the fakes behind it.
type testEnv struct {
	srv       *Server
	nas       *fakenas.Server
	fs        *fakefs.FS
	dialog    *fakedialog.Provider
	passwords *memoryPasswords
	env       map[string]string
}

func newTestNAS(t *testing.T) *fakenas.Server {
	t.Helper()
	nas := fakenas.New(t)
	nas.AddAccount(testUser, testPassword)
	nas.RequireLogin()
	return nas
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...ServerOption) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	te := &testEnv{
		nas:       newTestNAS(t),
		fs:        fakefs.New(),
		dialog:    fakedialog.New(),
		passwords: newMemoryPasswords(),
		env:       map[string]string{},
	}
	store := session.NewStateStore(
		session.WithFileSystem(te.fs),
		session.WithFileLocker(fakelock.New()),
		session.WithStorePath(statePath),
	)
	base := []ServerOption{
		WithFileSystem(te.fs),
		WithClock(fakeclock.NewAutoAdvance(testTime)),
		WithDialogProvider(te.dialog),
		WithPasswordStore(te.passwords),
		WithStateStore(store),
		WithHTTPClientFactory(func(string) *http.Client { return te.nas.Client() }),
		WithGetenv(func(k string) string { return te.env[k] }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	te.srv = NewServer(cfg, append(base, opts...)...)
	return te
}

// endpointConfig returns a config with one endpoint named "home" pointing
// at nas.
func endpointConfig(nas *fakenas.Server, mutate ...func(*config.EndpointConfig)) *config.Config {
	cfg := config.DefaultConfig()
	ep := config.EndpointConfig{
		Name:        "home",
		URL:         nas.URL(),
		Username:    testUser,
		PasswordEnv: "HOME_NAS_PASSWORD",
	}
	for _, fn := range mutate {
		fn(&ep)
	}
	cfg.Endpoints = []config.EndpointConfig{ep}
	cfg.DefaultEndpoint = "home"
	return cfg
}

// login logs te's server in to its fake NAS with explicit credentials.
func (te *testEnv) login(t *testing.T) {
	t.Helper()
	result, err := te.srv.handleLogin(t.Context(), makeRequest(map[string]any{
		"base_url": te.nas.URL(),
		"username": testUser,
		"password": testPassword,
	}))
	if err != nil {
		t.Fatalf("handleLogin() error: %v", err)
	}
	if result.IsError {
		t.Fatalf("login failed: %s", resultText(result))
	}
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}

func expectOK(t *testing.T, result *mcpgo.CallToolResult, err error) map[string]any {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	return resultJSON(t, result)
}

func expectToolError(t *testing.T, result *mcpgo.CallToolResult, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error, got: %s", resultText(result))
	}
	return resultText(result)
}

type toolHandler func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

// callOK runs h with args and decodes its successful JSON result.
func callOK(t *testing.T, h toolHandler, args map[string]any) map[string]any {
	t.Helper()
	result, err := h(t.Context(), makeRequest(args))
	return expectOK(t, result, err)
}

// callError runs h with args and returns the text of its tool error.
func callError(t *testing.T, h toolHandler, args map[string]any) string {
	t.Helper()
	result, err := h(t.Context(), makeRequest(args))
	return expectToolError(t, result, err)
}

var errKeyringLocked = errors.New("keyring locked")
