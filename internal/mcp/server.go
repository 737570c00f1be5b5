// Package mcp exposes the Synology capability modules as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/synology-mcp/internal/adapters/realclock"
	"github.com/acolita/synology-mcp/internal/adapters/realdialog"
	"github.com/acolita/synology-mcp/internal/adapters/realfs"
	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/filestation"
	"github.com/acolita/synology-mcp/internal/logging"
	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/recovery"
	"github.com/acolita/synology-mcp/internal/security"
	"github.com/acolita/synology-mcp/internal/session"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// ServerName and ServerVersion identify the server to MCP clients.
const ServerName = "synology-mcp"

// ServerVersion is overridden at build time by the binary.
var ServerVersion = "dev"

// PasswordStore looks up and keeps endpoint passwords.
type PasswordStore interface {
	GetEndpointPassword(endpoint, user string) ([]byte, error)
	StoreEndpointPassword(endpoint, user string, password []byte) error
}

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	registry  *session.Registry
	limiter   *security.AuthRateLimiter
	guard     *security.PathGuard
	analyzer  *recovery.Analyzer

	mu         sync.RWMutex
	config     *config.Config
	configPath string
	onSaved    func()

	passwords      PasswordStore
	dialogProvider ports.DialogProvider
	store          *session.StateStore
	httpClient     func(endpoint string) *http.Client
	getenv         func(string) string
	fs             ports.FileSystem
	clock          ports.Clock
	logger         *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used to save the config file.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithClock sets the clock used by sessions and task polling.
func WithClock(clock ports.Clock) ServerOption {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithDialogProvider sets the provider for interactive forms.
func WithDialogProvider(dp ports.DialogProvider) ServerOption {
	return func(s *Server) {
		s.dialogProvider = dp
	}
}

// WithConfigPath sets the config file written by synology_config_add.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithConfigSavedHook runs fn after synology_config_add saved the config,
// typically to make the watcher reload it at once.
func WithConfigSavedHook(fn func()) ServerOption {
	return func(s *Server) {
		s.onSaved = fn
	}
}

// WithPasswordStore sets where remembered passwords live.
func WithPasswordStore(ps PasswordStore) ServerOption {
	return func(s *Server) {
		s.passwords = ps
	}
}

// WithStateStore sets the persisted endpoint state.
func WithStateStore(store *session.StateStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithHTTPClientFactory replaces how the HTTP client of an endpoint is built.
func WithHTTPClientFactory(fn func(endpoint string) *http.Client) ServerOption {
	return func(s *Server) {
		s.httpClient = fn
	}
}

// WithGetenv sets the environment lookup used for password_env.
func WithGetenv(fn func(string) string) ServerOption {
	return func(s *Server) {
		s.getenv = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		analyzer:  recovery.NewAnalyzer(),
		config:    cfg,
		getenv:    os.Getenv,
		fs:        realfs.New(), // default to real filesystem
		clock:     realclock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dialogProvider == nil {
		s.dialogProvider = realdialog.New()
	}
	if s.passwords == nil {
		s.passwords = security.NewKeyringStore()
	}
	if s.store == nil {
		s.store = session.NewStateStore(session.WithStorePath(cfg.Session.StatePath))
	}

	guard, err := security.NewPathGuard(cfg.Files.ProtectedPaths)
	if err != nil {
		s.logger.Warn("invalid protected paths, using built-in list only",
			slog.String("error", err.Error()),
		)
		guard, _ = security.NewPathGuard(nil)
	}
	s.guard = guard
	s.limiter = security.NewAuthRateLimiter(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration,
		security.WithClock(s.clock),
	)

	s.registry = session.NewRegistry(
		session.WithHTTPClientFactory(s.httpClientFor),
		session.WithRateLimiter(s.limiter),
		session.WithStateStore(s.store),
		session.WithClock(s.clock),
		session.WithLogger(s.logger),
		session.WithModuleSettings(s.moduleSettings(cfg)),
	)

	s.registerTools()

	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Run logs in the auto-login endpoints, serves MCP on stdio until the client
// disconnects or a signal arrives, then logs out every session.
func (s *Server) Run(ctx context.Context) error {
	s.AutoLogin(ctx)
	defer s.Shutdown(ctx)

	s.logger.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// AutoLogin acquires a background session for every endpoint configured with
// auto_login. Failures are logged and do not stop the others.
func (s *Server) AutoLogin(ctx context.Context) int {
	cfg := s.currentConfig()
	ok := 0
	for _, ep := range cfg.Endpoints {
		if !ep.AutoLogin {
			continue
		}
		if _, err := s.loginConfigured(ctx, ep); err != nil {
			s.logger.Warn("auto-login failed",
				slog.String("endpoint", ep.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		ok++
	}
	return ok
}

// Shutdown logs out every live session.
func (s *Server) Shutdown(ctx context.Context) {
	outcomes := s.registry.ReleaseAll(ctx)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	s.logger.Info("sessions released",
		slog.Int("count", len(outcomes)),
		slog.Int("failed", failed),
	)
}

// UpdateConfig applies a new configuration at runtime. Task policy,
// protected paths, lockout settings, the preferred destination and the log
// level take effect at once; live sessions are kept.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.logger.Debug("applying config update")

	if err := s.guard.SetProtected(cfg.Files.ProtectedPaths); err != nil {
		s.logger.Warn("failed to update protected paths, keeping previous",
			slog.String("error", err.Error()),
		)
	}
	s.limiter.Configure(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)
	s.registry.Configure(s.moduleSettings(cfg))
	logging.SetLevel(cfg.Logging.Level)

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("configuration hot-reloaded successfully",
		slog.Int("endpoints", len(cfg.Endpoints)),
	)
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) moduleSettings(cfg *config.Config) session.ModuleSettings {
	return session.ModuleSettings{
		Policy: filestation.Policy{
			PollInterval:  cfg.Tasks.PollInterval,
			MoveTimeout:   cfg.Tasks.MoveTimeout,
			DeleteTimeout: cfg.Tasks.DeleteTimeout,
			SearchTimeout: cfg.Tasks.SearchTimeout,
		},
		Guard:                s.guard,
		PreferredDestination: cfg.Downloads.PreferredDestination,
	}
}

// httpClientFor builds the HTTP client of endpoint, honoring the
// tls_skip_verify setting of a matching configured endpoint.
func (s *Server) httpClientFor(endpoint string) *http.Client {
	if s.httpClient != nil {
		return s.httpClient(endpoint)
	}
	cfg := s.currentConfig()
	skip := true
	if ep, ok := cfg.Endpoint(endpoint); ok {
		skip = ep.SkipVerify()
	}
	return synoapi.NewHTTPClient(cfg.HTTP.Timeout, skip)
}
