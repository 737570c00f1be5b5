// Package downloadstation manages download tasks through the
// SYNO.DownloadStation2 task API, falling back to the prior task API version
// on firmware that lacks the current one.
package downloadstation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/acolita/synology-mcp/internal/filestation"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

var (
	taskFamily = synoapi.Family{API: "SYNO.DownloadStation2.Task", Version: 2}
	infoFamily = synoapi.Family{API: "SYNO.DownloadStation.Info", Version: 2, CGI: "DownloadStation/info.cgi"}
	statFamily = synoapi.Family{API: "SYNO.DownloadStation.Statistic", Version: 1, CGI: "DownloadStation/statistic.cgi"}
)

const (
	legacyTaskVersion = 1

	// DefaultListLimit is the page size used when none is given.
	DefaultListLimit = 100

	// DefaultDestination is the preferred destination of a new module.
	DefaultDestination = "downloads"

	statisticsFallbackNote = "Calculated from active tasks"
)

// commonDestinations are probed, in order, after the preferred destination.
var commonDestinations = []string{"video", "music", "software", "documents", "photos", "backup"}

// Files is the file capability the module needs for destination probes.
type Files interface {
	DirExists(ctx context.Context, path string) bool
	List(ctx context.Context, dir string, withDetails bool) ([]filestation.Entry, error)
}

// Module is the download capability bound to one session.
type Module struct {
	caller synoapi.Caller
	files  Files
	logger *slog.Logger

	mu        sync.RWMutex
	preferred string
	onChange  func(string)
}

// Option configures a Module.
type Option func(*Module)

// WithPreferredDestination seeds the preferred destination.
func WithPreferredDestination(dest string) Option {
	return func(m *Module) {
		if dest = normalizeDestination(dest); dest != "" {
			m.preferred = dest
		}
	}
}

// WithPreferredChangeHook registers fn to run after SetDefaultDestination
// accepts a new destination.
func WithPreferredChangeHook(fn func(dest string)) Option {
	return func(m *Module) {
		m.onChange = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		m.logger = logger
	}
}

// New creates a download module. files answers destination probes.
func New(caller synoapi.Caller, files Files, opts ...Option) *Module {
	m := &Module{
		caller:    caller,
		files:     files,
		logger:    slog.Default(),
		preferred: DefaultDestination,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalizeDestination turns a destination into the share-relative form the
// task API expects: no leading or trailing slash, NFC.
func normalizeDestination(dest string) string {
	if strings.TrimSpace(dest) == "" {
		return ""
	}
	return strings.TrimPrefix(filestation.CanonicalPath(strings.TrimSpace(dest)), "/")
}

// Info returns package information. A failed call yields a degraded payload
// carrying the failure in Note rather than an error.
func (m *Module) Info(ctx context.Context) Info {
	var out struct {
		Version       int    `json:"version"`
		VersionString string `json:"version_string"`
		IsManager     bool   `json:"is_manager"`
		Hostname      string `json:"hostname"`
	}
	if err := synoapi.CallInto(ctx, m.caller, infoFamily.Op("getinfo", synoapi.VerbQuery, nil), &out); err != nil {
		m.logger.Debug("download station info unavailable", slog.String("error", err.Error()))
		return Info{
			VersionString: "Download Station Available",
			IsManager:     true,
			Hostname:      "Synology NAS",
			Note:          "Limited info: " + err.Error(),
		}
	}
	if out.Hostname == "" {
		out.Hostname = "Synology NAS"
	}
	return Info{
		Version:       out.Version,
		VersionString: out.VersionString,
		IsManager:     out.IsManager,
		Hostname:      out.Hostname,
	}
}

// ListTasks returns one page of tasks. limit <= 0 means DefaultListLimit.
func (m *Module) ListTasks(ctx context.Context, offset, limit int) (TaskList, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	d := taskFamily.Op("list", synoapi.VerbQuery, synoapi.Params{
		"offset":     fmt.Sprint(offset),
		"limit":      fmt.Sprint(limit),
		"additional": "detail,transfer",
	})
	version := d.Version
	data, err := m.caller.Call(ctx, d)
	if err != nil && synoapi.IsFallbackCode(err) {
		m.logger.Warn("task list API unavailable, retrying prior version",
			slog.Int("code", synoapi.CodeOf(err)),
			slog.Int("version", legacyTaskVersion),
		)
		legacy := taskFamily.Op("list", synoapi.VerbQuery, synoapi.Params{
			"offset": fmt.Sprint(offset),
			"limit":  fmt.Sprint(limit),
		}).WithVersion(legacyTaskVersion)
		version = legacyTaskVersion
		data, err = m.caller.Call(ctx, legacy)
	}
	if err != nil {
		return TaskList{}, fmt.Errorf("list download tasks: %w", err)
	}

	var out struct {
		Total  *int       `json:"total"`
		Offset *int       `json:"offset"`
		Tasks  []wireTask `json:"tasks"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return TaskList{}, synoapi.TransportErr(d.Op(), fmt.Errorf("decode payload: %w", err))
	}

	list := TaskList{Offset: offset, Tasks: make([]Task, 0, len(out.Tasks)), APIVersion: version}
	for _, t := range out.Tasks {
		list.Tasks = append(list.Tasks, t.task())
	}
	list.Total = len(list.Tasks)
	if out.Total != nil {
		list.Total = *out.Total
	}
	if out.Offset != nil {
		list.Offset = *out.Offset
	}
	return list, nil
}

// CreateTask submits a URL download. The destination must already exist; a
// missing destination fails with KindDestinationMissing and lists the common
// destinations that do exist.
func (m *Module) CreateTask(ctx context.Context, req CreateRequest) (CreateResult, error) {
	uri := strings.TrimSpace(req.URI)
	if uri == "" {
		return CreateResult{}, synoapi.Validationf("downloadstation.create_task", "uri cannot be empty")
	}
	dest := normalizeDestination(req.Destination)
	if dest == "" {
		dest = m.Preferred()
	}

	if !m.files.DirExists(ctx, "/"+dest) {
		return CreateResult{}, m.destinationMissing(ctx, "downloadstation.create_task", dest)
	}

	params := synoapi.Params{
		"type":        "url",
		"destination": dest,
		"create_list": "true",
		"url":         synoapi.JSONArray(uri),
	}
	addCredentials(params, req)
	d := taskFamily.Op("create", synoapi.VerbForm, params)
	version := d.Version

	data, err := m.caller.Call(ctx, d)
	if err != nil && synoapi.IsFallbackCode(err) {
		m.logger.Warn("task create API unavailable, retrying prior version",
			slog.Int("code", synoapi.CodeOf(err)),
			slog.Int("version", legacyTaskVersion),
		)
		legacyParams := synoapi.Params{
			"uri":         uri,
			"destination": dest,
		}
		addCredentials(legacyParams, req)
		version = legacyTaskVersion
		data, err = m.caller.Call(ctx, taskFamily.Op("create", synoapi.VerbForm, legacyParams).WithVersion(legacyTaskVersion))
	}
	if err != nil {
		return CreateResult{}, fmt.Errorf("create download task: %w", err)
	}

	res := CreateResult{URI: uri, Destination: dest, APIVersion: version}
	var out struct {
		TaskID []string `json:"task_id"`
		ListID []string `json:"list_id"`
	}
	if json.Unmarshal(data, &out) == nil {
		res.TaskIDs = out.TaskID
		res.ListIDs = out.ListID
	}
	m.logger.Info("download task created",
		slog.String("destination", dest),
		slog.Int("api_version", version),
	)
	return res, nil
}

func addCredentials(params synoapi.Params, req CreateRequest) {
	if req.Username != "" {
		params["username"] = req.Username
	}
	if req.Password != "" {
		params["password"] = req.Password
	}
}

// PauseTasks pauses the given tasks.
func (m *Module) PauseTasks(ctx context.Context, ids []string) (ActionResult, error) {
	return m.taskAction(ctx, "pause", ids, nil)
}

// ResumeTasks resumes the given tasks.
func (m *Module) ResumeTasks(ctx context.Context, ids []string) (ActionResult, error) {
	return m.taskAction(ctx, "resume", ids, nil)
}

// DeleteTasks deletes the given tasks. forceComplete keeps the downloaded
// data of unfinished tasks.
func (m *Module) DeleteTasks(ctx context.Context, ids []string, forceComplete bool) (ActionResult, error) {
	return m.taskAction(ctx, "delete", ids, synoapi.Params{"force_complete": synoapi.Bool(forceComplete)})
}

func (m *Module) taskAction(ctx context.Context, action string, ids []string, extra synoapi.Params) (ActionResult, error) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return ActionResult{}, synoapi.Validationf("downloadstation."+action+"_tasks", "at least one task id is required")
	}

	params := synoapi.Params{"id": taskFamily.Encode(clean...)}
	for k, v := range extra {
		params[k] = v
	}
	data, err := m.caller.Call(ctx, taskFamily.Op(action, synoapi.VerbQuery, params))
	if err != nil {
		return ActionResult{}, fmt.Errorf("%s download tasks: %w", action, err)
	}

	res := ActionResult{Action: action, IDs: clean}
	var items []struct {
		ID    string `json:"id"`
		Error int    `json:"error"`
	}
	if json.Unmarshal(data, &items) == nil {
		for _, it := range items {
			if it.Error != 0 {
				res.Failed = append(res.Failed, synoapi.ItemError{Code: it.Error, Path: it.ID})
			}
		}
	}
	return res, nil
}

// Statistics returns the aggregate transfer rate. When the statistics API is
// unavailable the rate is summed over the first page of tasks.
func (m *Module) Statistics(ctx context.Context) (Statistics, error) {
	var out Statistics
	err := synoapi.CallInto(ctx, m.caller, statFamily.Op("getinfo", synoapi.VerbQuery, nil), &out)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return Statistics{}, err
	}
	m.logger.Debug("statistics API unavailable, summing task speeds", slog.String("error", err.Error()))

	list, listErr := m.ListTasks(ctx, 0, DefaultListLimit)
	if listErr != nil {
		return Statistics{}, fmt.Errorf("statistics unavailable: %w", listErr)
	}
	stats := Statistics{Note: statisticsFallbackNote}
	for _, t := range list.Tasks {
		stats.SpeedDownload += t.SpeedDownload
		stats.SpeedUpload += t.SpeedUpload
	}
	return stats, nil
}

// Preferred returns the cached preferred destination.
func (m *Module) Preferred() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preferred
}

// DefaultDestination returns the preferred destination when it exists, else
// the first existing common destination, else the preferred one unchanged.
func (m *Module) DefaultDestination(ctx context.Context) string {
	preferred := m.Preferred()
	if m.files.DirExists(ctx, "/"+preferred) {
		return preferred
	}
	for _, dest := range commonDestinations {
		if dest == preferred {
			continue
		}
		if m.files.DirExists(ctx, "/"+dest) {
			m.logger.Warn("preferred destination missing, using fallback",
				slog.String("preferred", preferred),
				slog.String("destination", dest),
			)
			return dest
		}
	}
	return preferred
}

// SetDefaultDestination validates dest and caches it as the preferred
// destination.
func (m *Module) SetDefaultDestination(ctx context.Context, dest string) (string, error) {
	dest = normalizeDestination(dest)
	if dest == "" {
		return "", synoapi.Validationf("downloadstation.set_default_destination", "destination cannot be empty")
	}
	if !m.files.DirExists(ctx, "/"+dest) {
		return "", m.destinationMissing(ctx, "downloadstation.set_default_destination", dest)
	}

	m.mu.Lock()
	m.preferred = dest
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(dest)
	}
	return dest, nil
}

// ListDownloadedFiles lists the content of dest, or of the default
// destination when dest is empty.
func (m *Module) ListDownloadedFiles(ctx context.Context, dest string) (DownloadedFiles, error) {
	dest = normalizeDestination(dest)
	if dest == "" {
		dest = m.DefaultDestination(ctx)
	}
	files, err := m.files.List(ctx, "/"+dest, false)
	if err != nil {
		return DownloadedFiles{}, fmt.Errorf("list downloaded files in %s: %w", dest, err)
	}
	return DownloadedFiles{Destination: dest, Files: files}, nil
}

// destinationMissing builds the DestinationMissing error for dest with the
// existing common destinations as suggestions.
func (m *Module) destinationMissing(ctx context.Context, op, dest string) error {
	candidates := append([]string{m.Preferred()}, commonDestinations...)
	seen := map[string]bool{dest: true}
	suggestions := []string{}
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		if m.files.DirExists(ctx, "/"+c) {
			suggestions = append(suggestions, c)
		}
	}

	detail := fmt.Sprintf("destination folder '%s' does not exist on the NAS", dest)
	if len(suggestions) > 0 {
		detail += "; available folders: " + strings.Join(suggestions, ", ")
	} else {
		detail += "; create it in File Station first"
	}
	return &synoapi.Error{
		Kind:        synoapi.KindDestinationMissing,
		Op:          op,
		Detail:      detail,
		Suggestions: suggestions,
	}
}
