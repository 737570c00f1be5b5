package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/security"
	"github.com/acolita/synology-mcp/internal/session"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(loginTool(), s.handleLogin)
	s.mcpServer.AddTool(logoutTool(), s.handleLogout)
	s.mcpServer.AddTool(statusTool(), s.handleStatus)

	s.registerFileTools()
	s.registerDownloadTools()
	s.registerISCSITools()
	s.registerConfigTools()
}

// Tool definitions

func loginTool() mcp.Tool {
	return mcp.NewTool("synology_login",
		mcp.WithDescription(`Authenticate with a Synology NAS and keep the session for later tool calls.

Omitted fields are taken from the configured endpoint (password from its
password_env variable or the OS keyring). Logging in again replaces the
previous session of that NAS.`),
		mcp.WithString("base_url",
			mcp.Description("NAS base URL (e.g. https://192.168.1.100:5001) or configured endpoint name"),
		),
		mcp.WithString("username",
			mcp.Description("DSM account name"),
		),
		mcp.WithString("password",
			mcp.Description("DSM password (optional when configured)"),
		),
		mcp.WithBoolean("remember",
			mcp.Description("Store the password in the OS keyring for auto-login (default: false)"),
		),
	)
}

func logoutTool() mcp.Tool {
	return mcp.NewTool("synology_logout",
		mcp.WithDescription("Log out from a Synology NAS and drop its session"),
		mcp.WithString("base_url",
			mcp.Description(descBaseURL),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("synology_status",
		mcp.WithDescription("Show configured endpoints and live sessions"),
	)
}

// Tool handlers

func (s *Server) handleLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	base := mcp.ParseString(req, "base_url", "")
	username := mcp.ParseString(req, "username", "")
	password := mcp.ParseString(req, "password", "")
	remember := mcp.ParseBoolean(req, "remember", false)

	cfg := s.currentConfig()
	ep, configured := cfg.Endpoint(base)
	if base == "" && !configured {
		return mcp.NewToolResultError("base_url is required (no default endpoint is configured)"), nil
	}

	target := base
	if configured {
		target = ep.URL
		if username == "" {
			username = ep.Username
		}
	}
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}

	explicit := password != ""
	if !explicit {
		if !configured || username != ep.Username {
			return mcp.NewToolResultError("password is required"), nil
		}
		pw, err := s.configuredPassword(ep)
		if err != nil {
			return s.toolError(err), nil
		}
		password = pw
	}

	slog.Info("logging in",
		slog.String("endpoint", target),
		slog.String("user", username),
	)

	sess, err := s.registry.Acquire(ctx, session.AcquireRequest{
		Endpoint: target,
		Credentials: synoapi.Credentials{
			Username: username,
			Password: password,
			Session:  cfg.Session.Name,
		},
		Kind:   session.KindInteractive,
		Source: session.SourceExplicit,
	})
	if err != nil {
		return s.toolError(err), nil
	}

	result := map[string]any{
		"status":     "logged_in",
		"session_id": sess.ID,
		"endpoint":   sess.Endpoint,
		"username":   sess.Username,
		"kind":       sess.Kind,
		"created_at": sess.CreatedAt,
	}
	if remember && explicit {
		pw := []byte(password)
		err := s.passwords.StoreEndpointPassword(sess.Endpoint, username, pw)
		security.WipeBytes(pw)
		if err != nil {
			slog.Warn("failed to remember password", slog.String("error", err.Error()))
			result["remembered"] = false
			result["warning"] = err.Error()
		} else {
			result["remembered"] = true
		}
	}
	return jsonResult(result)
}

func (s *Server) handleLogout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpoint := s.resolveEndpoint(mcp.ParseString(req, "base_url", ""))

	sess, err := s.registry.Release(ctx, endpoint)
	if err != nil && sess.ID == "" {
		return s.toolError(err), nil
	}

	result := map[string]any{
		"status":   "logged_out",
		"endpoint": sess.Endpoint,
	}
	if err != nil {
		// The session is dropped locally either way.
		result["warning"] = "backend logout failed: " + err.Error()
	}
	return jsonResult(result)
}

type endpointStatus struct {
	Name                 string    `json:"name"`
	URL                  string    `json:"url"`
	Username             string    `json:"username,omitempty"`
	AutoLogin            bool      `json:"auto_login"`
	Default              bool      `json:"default,omitempty"`
	LoggedIn             bool      `json:"logged_in"`
	PreferredDestination string    `json:"preferred_destination,omitempty"`
	LastLogin            time.Time `json:"last_login,omitzero"`
}

type sessionStatus struct {
	session.Status
	Age string `json:"age"`
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.currentConfig()
	live := s.registry.List()

	loggedIn := make(map[string]bool, len(live))
	sessions := make([]sessionStatus, 0, len(live))
	now := s.clock.Now()
	for _, st := range live {
		loggedIn[st.Endpoint] = true
		sessions = append(sessions, sessionStatus{
			Status: st,
			Age:    now.Sub(st.CreatedAt).Round(time.Second).String(),
		})
	}

	endpoints := make([]endpointStatus, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		canonical, _ := synoapi.CanonicalEndpoint(ep.URL)
		es := endpointStatus{
			Name:      ep.Name,
			URL:       canonical,
			Username:  ep.Username,
			AutoLogin: ep.AutoLogin,
			Default:   ep.Name == cfg.DefaultEndpoint,
			LoggedIn:  loggedIn[canonical],
		}
		if st, ok := s.store.Get(canonical); ok {
			es.PreferredDestination = st.PreferredDestination
			es.LastLogin = st.LastLogin
		}
		endpoints = append(endpoints, es)
	}

	return jsonResult(map[string]any{
		"version":       ServerVersion,
		"config_path":   s.configPath,
		"endpoints":     endpoints,
		"sessions":      sessions,
		"session_count": len(sessions),
	})
}

// Session helpers

// loginConfigured acquires a background session for a configured endpoint.
func (s *Server) loginConfigured(ctx context.Context, ep config.EndpointConfig) (session.Session, error) {
	if ep.Username == "" {
		return session.Session{}, synoapi.Validationf("session.login", "endpoint %q has no username", ep.Name)
	}
	password, err := s.configuredPassword(ep)
	if err != nil {
		return session.Session{}, err
	}
	return s.registry.Acquire(ctx, session.AcquireRequest{
		Endpoint: ep.URL,
		Credentials: synoapi.Credentials{
			Username: ep.Username,
			Password: password,
			Session:  s.currentConfig().Session.Name,
		},
		Kind:   session.KindBackground,
		Source: session.SourceAutoLogin,
	})
}

// configuredPassword finds the password of a configured endpoint: its
// password_env variable first, then the OS keyring.
func (s *Server) configuredPassword(ep config.EndpointConfig) (string, error) {
	if ep.PasswordEnv != "" {
		if pw := s.getenv(ep.PasswordEnv); pw != "" {
			return pw, nil
		}
	}
	if ep.UseKeyring {
		canonical, err := synoapi.CanonicalEndpoint(ep.URL)
		if err != nil {
			return "", err
		}
		pw, err := s.passwords.GetEndpointPassword(canonical, ep.Username)
		if err != nil {
			return "", fmt.Errorf("keyring: %w", err)
		}
		if pw != nil {
			defer security.WipeBytes(pw)
			return string(pw), nil
		}
	}
	return "", synoapi.Validationf("session.login",
		"no password for endpoint %q; pass one, set password_env or store it in the keyring", ep.Name)
}

// resolveEndpoint maps a base_url argument to an endpoint address. Names of
// configured endpoints are accepted. An empty argument selects the default
// endpoint when several sessions are live, else it is left to the registry.
func (s *Server) resolveEndpoint(base string) string {
	cfg := s.currentConfig()
	if base == "" {
		if s.registry.SessionCount() > 1 && cfg.DefaultEndpoint != "" {
			if ep, ok := cfg.Endpoint(""); ok {
				return ep.URL
			}
		}
		return ""
	}
	if ep, ok := cfg.Endpoint(base); ok {
		return ep.URL
	}
	return base
}

// modules returns the capability modules of the endpoint named by the
// request. An auto-login endpoint without a live session, for instance after
// the backend expired it, is logged in again first.
func (s *Server) modules(ctx context.Context, req mcp.CallToolRequest) (*session.Modules, error) {
	endpoint := s.resolveEndpoint(mcp.ParseString(req, "base_url", ""))
	mods, err := s.registry.Modules(endpoint)
	if err == nil || !synoapi.IsKind(err, synoapi.KindNoActiveSession) {
		return mods, err
	}

	ep, ok := s.currentConfig().Endpoint(endpoint)
	if !ok || !ep.AutoLogin {
		return nil, err
	}
	slog.Info("re-establishing auto-login session", slog.String("endpoint", ep.Name))
	if _, lerr := s.loginConfigured(ctx, ep); lerr != nil {
		return nil, fmt.Errorf("%w (auto-login failed: %v)", err, lerr)
	}
	return s.registry.Modules(ep.URL)
}

// toolError turns err into a tool error result carrying recovery hints.
func (s *Server) toolError(err error) *mcp.CallToolResult {
	var b strings.Builder
	b.WriteString(err.Error())
	if hints := s.analyzer.Hints(err); len(hints) > 0 {
		b.WriteString(hintHeader)
		for _, h := range hints {
			b.WriteString("\n- ")
			b.WriteString(h)
		}
	}
	slog.Debug("tool call failed",
		slog.String("kind", string(synoapi.KindOf(err))),
		slog.Int("code", synoapi.CodeOf(err)),
		slog.String("error", err.Error()),
	)
	return mcp.NewToolResultError(b.String())
}

// stringSlice reads an array argument. A comma-separated string is accepted
// too, since some clients flatten short lists.
func stringSlice(req mcp.CallToolRequest, key string) []string {
	var out []string
	switch v := req.GetArguments()[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, item := range strings.Split(v, ",") {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
