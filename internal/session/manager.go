// Package session keeps one authenticated DSM session per endpoint and the
// capability modules bound to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/acolita/synology-mcp/internal/adapters/realclock"
	"github.com/acolita/synology-mcp/internal/downloadstation"
	"github.com/acolita/synology-mcp/internal/filestation"
	"github.com/acolita/synology-mcp/internal/iscsi"
	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/security"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

const logoutTimeout = 10 * time.Second

// Kind distinguishes interactive sessions from background ones.
type Kind string

const (
	KindInteractive Kind = "interactive"
	KindBackground  Kind = "background"
)

// Source records where the credentials of a session came from.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceAutoLogin Source = "auto_login"
)

// Session is one authenticated relationship to an endpoint.
type Session struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Token     string    `json:"-"`
	Username  string    `json:"username"`
	Kind      Kind      `json:"kind"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is a Session as reported to callers.
type Status struct {
	Session
	ModulesCached bool `json:"modules_cached"`
}

// Modules are the capability modules bound to one session token.
type Modules struct {
	Files     *filestation.Module
	Downloads *downloadstation.Module
	ISCSI     *iscsi.Module
}

// ModuleSettings configure newly built capability modules.
type ModuleSettings struct {
	Policy               filestation.Policy
	Guard                *security.PathGuard
	PreferredDestination string
}

// AcquireRequest describes a login.
type AcquireRequest struct {
	Endpoint    string
	Credentials synoapi.Credentials
	Kind        Kind
	Source      Source
}

// ReleaseOutcome is the result of logging out one endpoint during a sweep.
type ReleaseOutcome struct {
	Endpoint string `json:"endpoint"`
	Err      error  `json:"-"`
}

type entry struct {
	session     Session
	sessionName string
	client      *synoapi.Client
	modules     *Modules
}

// Registry owns the mapping from endpoint to session. Every mutation of the
// mapping and of the cached modules happens under mu, so a caller never
// receives modules bound to a token that has been replaced.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	settings ModuleSettings

	httpClient func(endpoint string) *http.Client
	limiter    *security.AuthRateLimiter
	store      *StateStore
	clock      ports.Clock
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHTTPClientFactory sets how the HTTP client of an endpoint is built.
func WithHTTPClientFactory(fn func(endpoint string) *http.Client) RegistryOption {
	return func(r *Registry) {
		r.httpClient = fn
	}
}

// WithRateLimiter enables login lockout after repeated failures.
func WithRateLimiter(l *security.AuthRateLimiter) RegistryOption {
	return func(r *Registry) {
		r.limiter = l
	}
}

// WithStateStore persists per-endpoint state.
func WithStateStore(s *StateStore) RegistryOption {
	return func(r *Registry) {
		r.store = s
	}
}

// WithClock sets the clock for session timestamps and task polling.
func WithClock(clock ports.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithModuleSettings sets the initial module settings.
func WithModuleSettings(s ModuleSettings) RegistryOption {
	return func(r *Registry) {
		r.settings = s
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		settings: ModuleSettings{Policy: filestation.DefaultPolicy()},
		clock:    realclock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = func(string) *http.Client {
			return synoapi.NewHTTPClient(30*time.Second, true)
		}
	}
	return r
}

// Configure replaces the module settings. Cached modules are dropped so the
// next Modules call builds them with the new settings.
func (r *Registry) Configure(s ModuleSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	for _, e := range r.sessions {
		e.modules = nil
	}
}

// Acquire logs in to an endpoint and stores the session, replacing any prior
// session of that endpoint together with its cached modules. The replaced
// token is logged out best-effort.
func (r *Registry) Acquire(ctx context.Context, req AcquireRequest) (Session, error) {
	endpoint, err := synoapi.CanonicalEndpoint(req.Endpoint)
	if err != nil {
		return Session{}, err
	}
	user := req.Credentials.Username

	if r.limiter != nil {
		if locked, remaining := r.limiter.IsLocked(endpoint, user); locked {
			return Session{}, &synoapi.Error{
				Kind:   synoapi.KindAuthLocked,
				Op:     "session.acquire",
				Detail: fmt.Sprintf("too many failed logins for %s, retry in %s", user, remaining.Round(time.Second)),
			}
		}
	}

	hc := r.httpClient(endpoint)
	anon := synoapi.NewClient(endpoint, "", synoapi.WithHTTPClient(hc), synoapi.WithLogger(r.logger))
	token, err := anon.Login(ctx, req.Credentials)
	if err != nil {
		if r.limiter != nil && synoapi.IsKind(err, synoapi.KindBackend) && synoapi.IsAuthFailureCode(synoapi.CodeOf(err)) {
			r.limiter.RecordFailure(endpoint, user)
		}
		return Session{}, fmt.Errorf("login to %s: %w", endpoint, err)
	}
	if r.limiter != nil {
		r.limiter.RecordSuccess(endpoint, user)
	}

	kind := req.Kind
	if kind == "" {
		kind = KindInteractive
	}
	source := req.Source
	if source == "" {
		source = SourceExplicit
	}
	sess := Session{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		Token:     token,
		Username:  user,
		Kind:      kind,
		Source:    source,
		CreatedAt: r.clock.Now(),
	}
	client := synoapi.NewClient(endpoint, token,
		synoapi.WithHTTPClient(hc),
		synoapi.WithLogger(r.logger),
		synoapi.WithSessionGoneHook(func(sid string, code int) {
			r.invalidate(endpoint, sid, code)
		}),
	)

	r.mu.Lock()
	old := r.sessions[endpoint]
	r.sessions[endpoint] = &entry{session: sess, sessionName: req.Credentials.Session, client: client}
	r.mu.Unlock()

	r.logger.Info("session acquired",
		slog.String("endpoint", endpoint),
		slog.String("session_id", sess.ID),
		slog.String("kind", string(kind)),
		slog.String("source", string(source)),
	)

	if old != nil && old.session.Token != token {
		r.logout(ctx, old)
	}
	if r.store != nil {
		r.store.Update(endpoint, func(st *EndpointState) {
			st.Username = user
			st.Kind = kind
			st.LastLogin = sess.CreatedAt
		})
	}
	return sess, nil
}

// resolveLocked maps a possibly empty endpoint to a stored entry. An empty
// endpoint selects the only live session.
func (r *Registry) resolveLocked(endpoint string) (*entry, error) {
	if endpoint == "" {
		switch len(r.sessions) {
		case 0:
			return nil, &synoapi.Error{Kind: synoapi.KindNoActiveSession, Op: "session", Detail: "not logged in to any endpoint"}
		case 1:
			for _, e := range r.sessions {
				return e, nil
			}
		default:
			return nil, &synoapi.Error{Kind: synoapi.KindValidation, Op: "session", Detail: "several endpoints are logged in; name one"}
		}
	}

	canonical, err := synoapi.CanonicalEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	e, ok := r.sessions[canonical]
	if !ok {
		return nil, &synoapi.Error{Kind: synoapi.KindNoActiveSession, Op: "session", Detail: "no active session for " + canonical}
	}
	return e, nil
}

// Current returns the live session of endpoint.
func (r *Registry) Current(endpoint string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.resolveLocked(endpoint)
	if err != nil {
		return Session{}, err
	}
	return e.session, nil
}

// Modules returns the capability modules bound to the live session of
// endpoint, building them on first use.
func (r *Registry) Modules(endpoint string) (*Modules, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.resolveLocked(endpoint)
	if err != nil {
		return nil, err
	}
	if e.modules == nil {
		e.modules = r.buildModulesLocked(e)
	}
	return e.modules, nil
}

func (r *Registry) buildModulesLocked(e *entry) *Modules {
	endpoint := e.session.Endpoint
	logger := r.logger.With(slog.String("endpoint", endpoint))

	files := filestation.New(e.client,
		filestation.WithPolicy(r.settings.Policy),
		filestation.WithPathGuard(r.settings.Guard),
		filestation.WithClock(r.clock),
		filestation.WithLogger(logger),
	)

	preferred := r.settings.PreferredDestination
	if r.store != nil {
		if st, ok := r.store.Get(endpoint); ok && st.PreferredDestination != "" {
			preferred = st.PreferredDestination
		}
	}
	dsOpts := []downloadstation.Option{
		downloadstation.WithPreferredDestination(preferred),
		downloadstation.WithLogger(logger),
	}
	if r.store != nil {
		store := r.store
		dsOpts = append(dsOpts, downloadstation.WithPreferredChangeHook(func(dest string) {
			store.Update(endpoint, func(st *EndpointState) { st.PreferredDestination = dest })
		}))
	}

	return &Modules{
		Files:     files,
		Downloads: downloadstation.New(e.client, files, dsOpts...),
		ISCSI:     iscsi.New(e.client, iscsi.WithLogger(logger)),
	}
}

// Release removes the session of endpoint and its modules, then logs it
// out. The session is gone even when the logout fails; a backend reply that
// the session already expired counts as success.
func (r *Registry) Release(ctx context.Context, endpoint string) (Session, error) {
	r.mu.Lock()
	e, err := r.resolveLocked(endpoint)
	if err == nil {
		delete(r.sessions, e.session.Endpoint)
	}
	r.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	if err := e.client.Logout(ctx, e.sessionName); err != nil {
		return e.session, err
	}
	r.logger.Info("session released", slog.String("endpoint", e.session.Endpoint))
	return e.session, nil
}

// ReleaseAll logs out every session concurrently. One failure never stops
// the sweep; every endpoint gets an outcome.
func (r *Registry) ReleaseAll(ctx context.Context) []ReleaseOutcome {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].session.Endpoint < entries[j].session.Endpoint })
	outcomes := make([]ReleaseOutcome, len(entries))

	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
			defer cancel()
			err := e.client.Logout(logoutCtx, e.sessionName)
			if err != nil {
				r.logger.Warn("logout during shutdown failed",
					slog.String("endpoint", e.session.Endpoint),
					slog.String("error", err.Error()),
				)
			}
			outcomes[i] = ReleaseOutcome{Endpoint: e.session.Endpoint, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// List returns every live session ordered by endpoint.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, Status{Session: e.session, ModulesCached: e.modules != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// invalidate drops the session of endpoint if it still carries sid. It runs
// when a call reports that the token expired.
func (r *Registry) invalidate(endpoint, sid string, code int) {
	r.mu.Lock()
	e, ok := r.sessions[endpoint]
	if ok && e.session.Token == sid {
		delete(r.sessions, endpoint)
	}
	r.mu.Unlock()

	if ok && e.session.Token == sid {
		r.logger.Warn("session expired on backend",
			slog.String("endpoint", endpoint),
			slog.Int("code", code),
			slog.String("reason", synoapi.Describe("", code)),
		)
	}
}

// logout ends a replaced session without failing the caller.
func (r *Registry) logout(ctx context.Context, e *entry) {
	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	if err := e.client.Logout(logoutCtx, e.sessionName); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("failed to log out replaced session",
			slog.String("endpoint", e.session.Endpoint),
			slog.String("error", err.Error()),
		)
	}
}
