package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/logging"
	"github.com/acolita/synology-mcp/internal/session"
	"github.com/acolita/synology-mcp/internal/synoapi"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakenas"
)

const (
	apiAuth      = "SYNO.API.Auth"
	apiListShare = "SYNO.FileStation.List"
)

func replyShares(nas *fakenas.Server, names ...string) {
	shares := make([]map[string]any, 0, len(names))
	for _, n := range names {
		shares = append(shares, map[string]any{"name": n, "path": "/" + n, "isdir": true})
	}
	nas.Reply(apiListShare, "list_share", fakenas.OK(map[string]any{"shares": shares}))
}

func canonical(t *testing.T, raw string) string {
	t.Helper()
	u, err := synoapi.CanonicalEndpoint(raw)
	if err != nil {
		t.Fatalf("CanonicalEndpoint(%q): %v", raw, err)
	}
	return u
}

func TestHandleLogin_Explicit(t *testing.T) {
	te := newTestEnv(t, nil)

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{
		"base_url": te.nas.URL(),
		"username": testUser,
		"password": testPassword,
	}))
	got := expectOK(t, result, err)

	if got["status"] != "logged_in" {
		t.Errorf("status = %v, want logged_in", got["status"])
	}
	if got["endpoint"] != canonical(t, te.nas.URL()) {
		t.Errorf("endpoint = %v, want %s", got["endpoint"], canonical(t, te.nas.URL()))
	}
	if got["kind"] != string(session.KindInteractive) {
		t.Errorf("kind = %v, want interactive", got["kind"])
	}
	if id, _ := got["session_id"].(string); id == "" {
		t.Error("session_id is empty")
	}
	if _, ok := got["remembered"]; ok {
		t.Error("remembered reported without remember=true")
	}
	if n := te.srv.Registry().SessionCount(); n != 1 {
		t.Errorf("SessionCount() = %d, want 1", n)
	}
}

func TestHandleLogin_MissingFields(t *testing.T) {
	te := newTestEnv(t, nil)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no base_url", map[string]any{"username": testUser, "password": testPassword}, "base_url is required"},
		{"no username", map[string]any{"base_url": te.nas.URL(), "password": testPassword}, "username is required"},
		{"no password", map[string]any{"base_url": te.nas.URL(), "username": testUser}, "password is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := te.srv.handleLogin(context.Background(), makeRequest(tt.args))
			text := expectToolError(t, result, err)
			if !strings.Contains(text, tt.want) {
				t.Errorf("error = %q, want it to contain %q", text, tt.want)
			}
		})
	}
	if n := te.nas.Count(apiAuth, "login"); n != 0 {
		t.Errorf("login calls = %d, want 0", n)
	}
}

func TestHandleLogin_BadPassword(t *testing.T) {
	te := newTestEnv(t, nil)

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{
		"base_url": te.nas.URL(),
		"username": testUser,
		"password": "wrong",
	}))
	text := expectToolError(t, result, err)

	if !strings.Contains(text, "400") {
		t.Errorf("error should carry the DSM code: %s", text)
	}
	if !strings.Contains(text, strings.TrimSpace(hintHeader)) {
		t.Errorf("error should carry suggestions: %s", text)
	}
	if strings.Contains(text, "wrong") {
		t.Errorf("error leaks the password: %s", text)
	}
	if n := te.srv.Registry().SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0", n)
	}
}

func TestHandleLogin_ConfiguredEndpoint(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	for _, args := range []map[string]any{
		{"base_url": "home"},
		{},
	} {
		result, err := te.srv.handleLogin(context.Background(), makeRequest(args))
		got := expectOK(t, result, err)
		if got["endpoint"] != canonical(t, nas.URL()) {
			t.Errorf("args %v: endpoint = %v, want %s", args, got["endpoint"], canonical(t, nas.URL()))
		}
		if got["username"] != testUser {
			t.Errorf("args %v: username = %v, want %s", args, got["username"], testUser)
		}
	}
	if n := nas.Count(apiAuth, "login"); n != 2 {
		t.Errorf("login calls = %d, want 2", n)
	}
}

func TestHandleLogin_KeyringPassword(t *testing.T) {
	nas := newTestNAS(t)
	cfg := endpointConfig(nas, func(ep *config.EndpointConfig) {
		ep.PasswordEnv = ""
		ep.UseKeyring = true
	})
	te := newTestEnv(t, cfg)
	te.passwords.stored[testUser+"@"+canonical(t, nas.URL())] = testPassword

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{"base_url": "home"}))
	expectOK(t, result, err)
}

func TestHandleLogin_KeyringError(t *testing.T) {
	nas := newTestNAS(t)
	cfg := endpointConfig(nas, func(ep *config.EndpointConfig) {
		ep.PasswordEnv = ""
		ep.UseKeyring = true
	})
	te := newTestEnv(t, cfg)
	te.passwords.err = errKeyringLocked

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{"base_url": "home"}))
	text := expectToolError(t, result, err)
	if !strings.Contains(text, "keyring locked") {
		t.Errorf("error = %q, want the keyring cause", text)
	}
}

func TestHandleLogin_NoConfiguredPassword(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas))

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{"base_url": "home"}))
	text := expectToolError(t, result, err)
	if !strings.Contains(text, "no password for endpoint") {
		t.Errorf("error = %q", text)
	}
	if n := nas.Count(apiAuth, "login"); n != 0 {
		t.Errorf("login calls = %d, want 0", n)
	}
}

func TestHandleLogin_OtherUserNeedsPassword(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{
		"base_url": "home",
		"username": "guest",
	}))
	text := expectToolError(t, result, err)
	if !strings.Contains(text, "password is required") {
		t.Errorf("error = %q", text)
	}
}

func TestHandleLogin_Remember(t *testing.T) {
	te := newTestEnv(t, nil)

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{
		"base_url": te.nas.URL(),
		"username": testUser,
		"password": testPassword,
		"remember": true,
	}))
	got := expectOK(t, result, err)

	if got["remembered"] != true {
		t.Errorf("remembered = %v, want true", got["remembered"])
	}
	pw, ok := te.passwords.get(canonical(t, te.nas.URL()), testUser)
	if !ok || pw != testPassword {
		t.Errorf("stored password = %q (%v), want %q", pw, ok, testPassword)
	}
}

func TestHandleLogin_RememberFailureKeepsSession(t *testing.T) {
	te := newTestEnv(t, nil)
	te.passwords.err = errKeyringLocked

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{
		"base_url": te.nas.URL(),
		"username": testUser,
		"password": testPassword,
		"remember": true,
	}))
	got := expectOK(t, result, err)

	if got["remembered"] != false {
		t.Errorf("remembered = %v, want false", got["remembered"])
	}
	if w, _ := got["warning"].(string); !strings.Contains(w, "keyring locked") {
		t.Errorf("warning = %q", w)
	}
	if n := te.srv.Registry().SessionCount(); n != 1 {
		t.Errorf("SessionCount() = %d, want 1", n)
	}
}

func TestHandleLogout(t *testing.T) {
	te := newTestEnv(t, nil)
	te.login(t)

	result, err := te.srv.handleLogout(context.Background(), makeRequest(nil))
	got := expectOK(t, result, err)

	if got["status"] != "logged_out" {
		t.Errorf("status = %v, want logged_out", got["status"])
	}
	if got["endpoint"] != canonical(t, te.nas.URL()) {
		t.Errorf("endpoint = %v", got["endpoint"])
	}
	if _, ok := got["warning"]; ok {
		t.Errorf("unexpected warning: %v", got["warning"])
	}
	if n := te.nas.Count(apiAuth, "logout"); n != 1 {
		t.Errorf("logout calls = %d, want 1", n)
	}
	if te.nas.Live("sid-1") {
		t.Error("backend session still live")
	}
	if n := te.srv.Registry().SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0", n)
	}
}

func TestHandleLogout_BackendFailureStillDropsSession(t *testing.T) {
	te := newTestEnv(t, nil)
	te.login(t)
	te.nas.Reply(apiAuth, "logout", fakenas.Fail(105))

	result, err := te.srv.handleLogout(context.Background(), makeRequest(map[string]any{"base_url": te.nas.URL()}))
	got := expectOK(t, result, err)

	if w, _ := got["warning"].(string); !strings.Contains(w, "backend logout failed") {
		t.Errorf("warning = %q", w)
	}
	if n := te.srv.Registry().SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0", n)
	}
}

func TestHandleLogout_NoSession(t *testing.T) {
	te := newTestEnv(t, nil)

	result, err := te.srv.handleLogout(context.Background(), makeRequest(nil))
	text := expectToolError(t, result, err)
	if !strings.Contains(text, string(synoapi.KindNoActiveSession)) {
		t.Errorf("error = %q", text)
	}
}

func TestHandleStatus(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas, func(ep *config.EndpointConfig) { ep.AutoLogin = true }),
		WithConfigPath("/etc/synology-mcp/config.yaml"))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	result, err := te.srv.handleLogin(context.Background(), makeRequest(map[string]any{"base_url": "home"}))
	expectOK(t, result, err)

	result, err = te.srv.handleStatus(context.Background(), makeRequest(nil))
	got := expectOK(t, result, err)

	if got["config_path"] != "/etc/synology-mcp/config.yaml" {
		t.Errorf("config_path = %v", got["config_path"])
	}
	if got["session_count"] != float64(1) {
		t.Errorf("session_count = %v, want 1", got["session_count"])
	}

	endpoints, _ := got["endpoints"].([]any)
	if len(endpoints) != 1 {
		t.Fatalf("endpoints = %v, want one", got["endpoints"])
	}
	ep := endpoints[0].(map[string]any)
	if ep["name"] != "home" || ep["logged_in"] != true || ep["default"] != true || ep["auto_login"] != true {
		t.Errorf("endpoint status = %v", ep)
	}
	if ep["url"] != canonical(t, nas.URL()) {
		t.Errorf("url = %v, want canonical %s", ep["url"], canonical(t, nas.URL()))
	}
	if _, ok := ep["last_login"]; !ok {
		t.Error("last_login missing from the state store")
	}

	sessions, _ := got["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %v, want one", got["sessions"])
	}
	sess := sessions[0].(map[string]any)
	if _, ok := sess["age"]; !ok {
		t.Errorf("session status has no age: %v", sess)
	}
	if _, ok := sess["token"]; ok {
		t.Error("session status leaks the token")
	}
}

func TestAutoLogin(t *testing.T) {
	nas := newTestNAS(t)
	cfg := endpointConfig(nas, func(ep *config.EndpointConfig) { ep.AutoLogin = true })
	cfg.Endpoints = append(cfg.Endpoints,
		config.EndpointConfig{Name: "office", URL: "https://office.example:5001", Username: testUser, AutoLogin: true},
		config.EndpointConfig{Name: "manual", URL: "https://manual.example:5001", Username: testUser},
	)
	te := newTestEnv(t, cfg)
	te.env["HOME_NAS_PASSWORD"] = testPassword

	if n := te.srv.AutoLogin(context.Background()); n != 1 {
		t.Errorf("AutoLogin() = %d, want 1", n)
	}

	sess, err := te.srv.Registry().Current(nas.URL())
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if sess.Kind != session.KindBackground || sess.Source != session.SourceAutoLogin {
		t.Errorf("session kind/source = %s/%s", sess.Kind, sess.Source)
	}
}

func TestModules_LoginOnDemand(t *testing.T) {
	nas := newTestNAS(t)
	replyShares(nas, "video")
	te := newTestEnv(t, endpointConfig(nas, func(ep *config.EndpointConfig) { ep.AutoLogin = true }))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	result, err := te.srv.handleListShares(context.Background(), makeRequest(nil))
	got := expectOK(t, result, err)
	if got["total"] != float64(1) {
		t.Errorf("total = %v, want 1", got["total"])
	}
	if n := nas.Count(apiAuth, "login"); n != 1 {
		t.Errorf("login calls = %d, want 1", n)
	}
}

func TestModules_ExpiredSessionIsReestablished(t *testing.T) {
	nas := newTestNAS(t)
	replyShares(nas, "video")
	te := newTestEnv(t, endpointConfig(nas, func(ep *config.EndpointConfig) { ep.AutoLogin = true }))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	callOK(t, te.srv.handleListShares, nil)
	nas.Expire("sid-1")

	// The expired session fails once and is dropped.
	text := callError(t, te.srv.handleListShares, nil)
	if !strings.Contains(text, "119") {
		t.Errorf("error = %q, want the session expiry code", text)
	}
	if n := te.srv.Registry().SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0 after expiry", n)
	}

	callOK(t, te.srv.handleListShares, nil)
	if n := nas.Count(apiAuth, "login"); n != 2 {
		t.Errorf("login calls = %d, want 2", n)
	}
}

func TestModules_NoSessionWithoutAutoLogin(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas))
	te.env["HOME_NAS_PASSWORD"] = testPassword

	text := callError(t, te.srv.handleListShares, nil)
	if !strings.Contains(text, string(synoapi.KindNoActiveSession)) {
		t.Errorf("error = %q", text)
	}
	if n := nas.Count(apiAuth, "login"); n != 0 {
		t.Errorf("login calls = %d, want 0", n)
	}
}

func TestModules_AutoLoginFailureIsReported(t *testing.T) {
	nas := newTestNAS(t)
	te := newTestEnv(t, endpointConfig(nas, func(ep *config.EndpointConfig) { ep.AutoLogin = true }))

	text := callError(t, te.srv.handleListShares, nil)
	if !strings.Contains(text, "auto-login failed") {
		t.Errorf("error = %q", text)
	}
}

func TestResolveEndpoint_DefaultWhenSeveralSessions(t *testing.T) {
	home := newTestNAS(t)
	office := newTestNAS(t)
	replyShares(home, "home-share")
	replyShares(office, "office-share")

	cfg := endpointConfig(home)
	cfg.Endpoints = append(cfg.Endpoints, config.EndpointConfig{Name: "office", URL: office.URL(), Username: testUser})
	te := newTestEnv(t, cfg)

	for _, nas := range []*fakenas.Server{home, office} {
		callOK(t, te.srv.handleLogin, map[string]any{
			"base_url": nas.URL(),
			"username": testUser,
			"password": testPassword,
		})
	}

	got := callOK(t, te.srv.handleListShares, nil)
	shares, _ := got["shares"].([]any)
	if len(shares) != 1 || shares[0].(map[string]any)["name"] != "home-share" {
		t.Errorf("shares without base_url = %v, want the default endpoint's", got["shares"])
	}

	got = callOK(t, te.srv.handleListShares, map[string]any{"base_url": "office"})
	shares, _ = got["shares"].([]any)
	if len(shares) != 1 || shares[0].(map[string]any)["name"] != "office-share" {
		t.Errorf("shares by endpoint name = %v", got["shares"])
	}
}

func TestShutdown_ReleasesSessions(t *testing.T) {
	te := newTestEnv(t, nil)
	te.login(t)

	te.srv.Shutdown(context.Background())

	if n := te.srv.Registry().SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0", n)
	}
	if n := te.nas.Count(apiAuth, "logout"); n != 1 {
		t.Errorf("logout calls = %d, want 1", n)
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Cleanup(func() { logging.SetLevel("info") })
	te := newTestEnv(t, nil)
	te.login(t)

	cfg := config.DefaultConfig()
	cfg.Files.ProtectedPaths = []string{"/video/keep/**"}
	cfg.Logging.Level = "debug"
	te.srv.UpdateConfig(cfg)

	if got := te.srv.currentConfig(); got != cfg {
		t.Error("currentConfig() does not return the new config")
	}
	if logging.Level().String() != "DEBUG" {
		t.Errorf("log level = %s, want DEBUG", logging.Level())
	}

	text := callError(t, te.srv.handleDelete, map[string]any{"path": "/video/keep/a.mkv"})
	if !strings.Contains(text, "protected") {
		t.Errorf("error = %q", text)
	}
	if n := len(te.nas.CallsTo("SYNO.FileStation.Delete", "start")); n != 0 {
		t.Errorf("delete start calls = %d, want 0", n)
	}
}
