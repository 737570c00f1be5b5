package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

func (s *Server) registerConfigTools() {
	s.mcpServer.AddTool(configAddTool(), s.handleConfigAdd)
}

func configAddTool() mcp.Tool {
	return mcp.NewTool("synology_config_add",
		mcp.WithDescription(`Add a NAS endpoint configuration interactively.

Opens a TUI form on the user's terminal to confirm and optionally edit
endpoint details before saving. The LLM provides known fields as parameters;
the user sees a pre-filled form and can adjust values or cancel.

A password typed into the form goes straight to the OS keyring and never
passes through the LLM context.

The endpoint is immediately available after saving (config hot-reload picks up the change).

Requires a config file path (--config flag at startup).`),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Short name for the NAS (e.g., 'home', 'office')"),
		),
		mcp.WithString("base_url",
			mcp.Required(),
			mcp.Description("DSM address, e.g. https://192.168.1.100:5001"),
		),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("DSM account name"),
		),
		mcp.WithString("password_env",
			mcp.Description("Environment variable name containing the password (optional)"),
		),
		mcp.WithBoolean("auto_login",
			mcp.Description("Log in automatically at startup (default: false)"),
		),
	)
}

func (s *Server) handleConfigAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.configPath == "" {
		return mcp.NewToolResultError(
			"No config file path set. Start the server with --config flag to enable config management.",
		), nil
	}

	name := mcp.ParseString(req, "name", "")
	baseURL := mcp.ParseString(req, "base_url", "")
	username := mcp.ParseString(req, "username", "")
	passwordEnv := mcp.ParseString(req, "password_env", "")
	autoLogin := mcp.ParseBoolean(req, "auto_login", false)

	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if baseURL == "" {
		return mcp.NewToolResultError("base_url is required"), nil
	}
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}
	if _, err := synoapi.CanonicalEndpoint(baseURL); err != nil {
		return s.toolError(err), nil
	}

	if s.lookupEndpoint(name) {
		return mcp.NewToolResultError(
			fmt.Sprintf("endpoint %q already exists in config", name),
		), nil
	}

	prefill := ports.EndpointFormData{
		Name:          name,
		URL:           baseURL,
		Username:      username,
		PasswordEnv:   passwordEnv,
		AutoLogin:     autoLogin,
		TLSSkipVerify: true,
	}

	slog.Info("showing endpoint config form", slog.String("endpoint_name", name))

	result, err := s.dialogProvider.EndpointConfigForm(prefill)
	if err != nil {
		slog.Info("endpoint config form error", slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("dialog error: %v", err)), nil
	}

	if !result.Confirmed {
		slog.Info("endpoint configuration cancelled by user", slog.String("endpoint_name", name))
		return jsonResult(map[string]any{
			"status":  "cancelled",
			"message": "User cancelled the configuration",
		})
	}

	skipVerify := result.TLSSkipVerify
	newEndpoint := config.EndpointConfig{
		Name:          result.Name,
		URL:           result.URL,
		Username:      result.Username,
		PasswordEnv:   result.PasswordEnv,
		UseKeyring:    result.UseKeyring,
		AutoLogin:     result.AutoLogin,
		TLSSkipVerify: &skipVerify,
	}

	current := s.currentConfig()
	updated := *current
	updated.Endpoints = append([]config.EndpointConfig(nil), current.Endpoints...)
	if err := updated.AddEndpoint(newEndpoint); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add endpoint: %v", err)), nil
	}

	if err := config.Save(&updated, s.configPath, s.fs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save config: %v", err)), nil
	}

	s.mu.Lock()
	s.config = &updated
	s.mu.Unlock()
	if s.onSaved != nil {
		s.onSaved()
	}

	slog.Info("endpoint configuration saved",
		slog.String("endpoint_name", result.Name),
		slog.String("url", result.URL),
		slog.String("config_path", s.configPath),
	)

	return jsonResult(map[string]any{
		"status":          "saved",
		"endpoint_name":   result.Name,
		"url":             result.URL,
		"username":        result.Username,
		"password_env":    result.PasswordEnv,
		"password_stored": result.UseKeyring,
		"auto_login":      result.AutoLogin,
		"config_path":     s.configPath,
		"message":         "Endpoint added. Config will hot-reload automatically.",
	})
}

// lookupEndpoint reports whether a configured endpoint has the given name.
func (s *Server) lookupEndpoint(name string) bool {
	for _, ep := range s.currentConfig().Endpoints {
		if ep.Name == name {
			return true
		}
	}
	return false
}
