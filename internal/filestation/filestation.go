// Package filestation implements file operations on a NAS through the
// SYNO.FileStation API families.
package filestation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"


	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/security"
	"github.com/acolita/synology-mcp/internal/synoapi"
	"github.com/acolita/synology-mcp/internal/task"
)

var (
	listFamily         = synoapi.Family{API: "SYNO.FileStation.List", Version: 2}
	searchFamily       = synoapi.Family{API: "SYNO.FileStation.Search", Version: 2}
	renameFamily       = synoapi.Family{API: "SYNO.FileStation.Rename", Version: 2, Encoding: synoapi.EncodeJSONArray}
	copyMoveFamily     = synoapi.Family{API: "SYNO.FileStation.CopyMove", Version: 3}
	deleteFamily       = synoapi.Family{API: "SYNO.FileStation.Delete", Version: 2, Encoding: synoapi.EncodeJSONArray}
	createFolderFamily = synoapi.Family{API: "SYNO.FileStation.CreateFolder", Version: 2}
	uploadFamily       = synoapi.Family{API: "SYNO.FileStation.Upload", Version: 2}
	downloadFamily     = synoapi.Family{API: "SYNO.FileStation.Download", Version: 2}
)

const detailFields = "time,size,owner,perm"

const (
	// DefaultReadLimit caps ReadFile when no limit is given.
	DefaultReadLimit = 1 << 20
	// MaxReadLimit is the largest limit ReadFile honours.
	MaxReadLimit = 64 << 20
)

// Caller is the transport the module needs.
type Caller interface {
	synoapi.Caller
	Download(ctx context.Context, d synoapi.Descriptor, limit int64) ([]byte, bool, error)
}

// Policy holds the polling policy of the asynchronous operations.
type Policy struct {
	PollInterval  time.Duration
	MoveTimeout   time.Duration
	DeleteTimeout time.Duration
	SearchTimeout time.Duration
}

// DefaultPolicy returns the stock polling policy.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:  task.DefaultInterval,
		MoveTimeout:   task.DefaultMoveTimeout,
		DeleteTimeout: task.DefaultDeleteTimeout,
		SearchTimeout: task.DefaultSearchTimeout,
	}
}

// Module is the file capability bound to one session.
type Module struct {
	caller Caller
	driver *task.Driver
	guard  *security.PathGuard
	policy Policy
	clock  ports.Clock
	logger *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithPolicy sets the polling policy.
func WithPolicy(p Policy) Option {
	return func(m *Module) {
		m.policy = p
	}
}

// WithPathGuard sets the guard consulted before deletions.
func WithPathGuard(g *security.PathGuard) Option {
	return func(m *Module) {
		m.guard = g
	}
}

// WithClock sets the clock of the task driver.
func WithClock(clock ports.Clock) Option {
	return func(m *Module) {
		m.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		m.logger = logger
	}
}

// New creates a file module issuing calls through caller.
func New(caller Caller, opts ...Option) *Module {
	m := &Module{
		caller: caller,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.guard == nil {
		m.guard, _ = security.NewPathGuard(nil)
	}
	driverOpts := []task.Option{task.WithLogger(m.logger)}
	if m.clock != nil {
		driverOpts = append(driverOpts, task.WithClock(m.clock))
	}
	m.driver = task.NewDriver(caller, driverOpts...)
	return m
}

// ListShares lists the shared folders.
func (m *Module) ListShares(ctx context.Context) ([]Share, error) {
	var out struct {
		Shares []struct {
			Name       string `json:"name"`
			Path       string `json:"path"`
			Desc       string `json:"desc"`
			IsWritable bool   `json:"iswritable"`
		} `json:"shares"`
	}
	if err := synoapi.CallInto(ctx, m.caller, listFamily.Op("list_share", synoapi.VerbQuery, nil), &out); err != nil {
		return nil, err
	}

	shares := make([]Share, 0, len(out.Shares))
	for _, s := range out.Shares {
		shares = append(shares, Share{Name: s.Name, Path: s.Path, Description: s.Desc, Writable: s.IsWritable})
	}
	return shares, nil
}

// List lists a directory. withDetails requests times, size, owner and
// permissions.
func (m *Module) List(ctx context.Context, dir string, withDetails bool) ([]Entry, error) {
	params := synoapi.Params{"folder_path": CanonicalPath(dir)}
	if withDetails {
		params["additional"] = detailFields
	}

	var out struct {
		Files []wireFile `json:"files"`
	}
	if err := synoapi.CallInto(ctx, m.caller, listFamily.Op("list", synoapi.VerbQuery, params), &out); err != nil {
		return nil, err
	}
	return entries(out.Files), nil
}

// GetInfo returns the metadata of one file or directory.
func (m *Module) GetInfo(ctx context.Context, p string) (Entry, error) {
	p = CanonicalPath(p)

	var out struct {
		Files []wireFile `json:"files"`
	}
	d := listFamily.Op("getinfo", synoapi.VerbQuery, synoapi.Params{
		"path":       p,
		"additional": detailFields,
	})
	if err := synoapi.CallInto(ctx, m.caller, d, &out); err != nil {
		return Entry{}, err
	}
	// Missing paths come back as a record carrying only an error code.
	if len(out.Files) == 0 || out.Files[0].Code != 0 {
		return Entry{}, synoapi.NotFoundf("filestation.get_info", "file not found: %s", p)
	}
	return out.Files[0].entry(), nil
}

// DirExists reports whether p names an existing directory. Any failure to
// find out counts as absence.
func (m *Module) DirExists(ctx context.Context, p string) bool {
	info, err := m.GetInfo(ctx, p)
	if err != nil {
		m.logger.Debug("directory probe failed",
			slog.String("path", CanonicalPath(p)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return info.IsDir()
}

// Search finds entries under dir whose names match pattern. It polls until
// the backend search finishes unless the policy bounds it.
func (m *Module) Search(ctx context.Context, dir, pattern string) ([]Entry, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, synoapi.Validationf("filestation.search", "pattern cannot be empty")
	}

	res, err := m.driver.Run(ctx, task.Job{
		Kind: "search",
		Start: searchFamily.Op("start", synoapi.VerbQuery, synoapi.Params{
			"folder_path": CanonicalPath(dir),
			"pattern":     pattern,
		}),
		Status: func(id string) synoapi.Descriptor {
			return searchFamily.Op("list", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Stop: func(id string) synoapi.Descriptor {
			return searchFamily.Op("stop", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Semantics: task.ListAsStatus,
		Interval:  m.policy.PollInterval,
		Timeout:   m.policy.SearchTimeout,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Files []wireFile `json:"files"`
	}
	if err := decodeInto(searchFamily.Op("list", synoapi.VerbQuery, nil), res.Data, &out); err != nil {
		return nil, err
	}
	return entries(out.Files), nil
}

// Rename gives the entry at p a new name in the same directory.
func (m *Module) Rename(ctx context.Context, p, newName string) (RenameResult, error) {
	p = CanonicalPath(p)
	if p == "/" {
		return RenameResult{}, synoapi.Validationf("filestation.rename", "cannot rename root")
	}
	name, err := CleanName("filestation.rename", newName)
	if err != nil {
		return RenameResult{}, err
	}

	d := renameFamily.Op("rename", synoapi.VerbQuery, synoapi.Params{
		"path": renameFamily.Encode(p),
		"name": renameFamily.Encode(name),
	})
	if _, err := m.caller.Call(ctx, d); err != nil {
		return RenameResult{}, err
	}

	return RenameResult{
		OldPath: p,
		NewPath: path.Join(path.Dir(p), name),
		OldName: path.Base(p),
		NewName: name,
	}, nil
}

// Move moves the entry at src into the folder dst.
func (m *Module) Move(ctx context.Context, src, dst string, overwrite bool) (MoveResult, error) {
	src = CanonicalPath(src)
	dst = CanonicalPath(dst)
	if src == "/" {
		return MoveResult{}, synoapi.Validationf("filestation.move", "invalid source path")
	}
	if dst == "/" {
		return MoveResult{}, synoapi.Validationf("filestation.move", "invalid destination path")
	}

	res, err := m.driver.Run(ctx, task.Job{
		Kind: "move",
		Start: copyMoveFamily.Op("start", synoapi.VerbQuery, synoapi.Params{
			"path":             src,
			"dest_folder_path": dst,
			"overwrite":        synoapi.Bool(overwrite),
			"remove_src":       "true",
		}),
		Status: func(id string) synoapi.Descriptor {
			return copyMoveFamily.Op("status", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Stop: func(id string) synoapi.Descriptor {
			return copyMoveFamily.Op("stop", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Semantics: task.StatusMethod,
		Interval:  m.policy.PollInterval,
		Timeout:   m.policy.MoveTimeout,
	})
	if err != nil {
		return MoveResult{}, err
	}

	return MoveResult{
		SourcePath:      src,
		DestinationPath: path.Join(dst, path.Base(src)),
		TaskID:          res.Handle.ID,
	}, nil
}

// Delete removes the entry at p. Directories are removed recursively; when
// the type cannot be determined the entry is deleted as a file.
func (m *Module) Delete(ctx context.Context, p string) (DeleteResult, error) {
	p = CanonicalPath(p)
	if ok, reason := m.guard.IsAllowed(p); !ok {
		return DeleteResult{}, synoapi.Validationf("filestation.delete", "%s", reason)
	}

	recursive := false
	if info, err := m.GetInfo(ctx, p); err == nil {
		recursive = info.IsDir()
	} else {
		m.logger.Debug("delete type probe failed, deleting as file",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}

	res, err := m.driver.Run(ctx, task.Job{
		Kind: "delete",
		Start: deleteFamily.Op("start", synoapi.VerbQuery, synoapi.Params{
			"path":              deleteFamily.Encode(p),
			"accurate_progress": "true",
			"recursive":         synoapi.Bool(recursive),
		}),
		Status: func(id string) synoapi.Descriptor {
			return deleteFamily.Op("status", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Stop: func(id string) synoapi.Descriptor {
			return deleteFamily.Op("stop", synoapi.VerbQuery, synoapi.Params{"taskid": id})
		},
		Semantics: task.StatusMethod,
		Interval:  m.policy.PollInterval,
		Timeout:   m.policy.DeleteTimeout,
	})
	if err != nil {
		return DeleteResult{}, err
	}

	itemType := TypeFile
	if recursive {
		itemType = TypeDirectory
	}
	return DeleteResult{
		Path:      p,
		Name:      path.Base(p),
		Type:      itemType,
		Recursive: recursive,
		TaskID:    res.Handle.ID,
	}, nil
}

// CreateFile uploads content as the file p, creating missing parents.
func (m *Module) CreateFile(ctx context.Context, p, content string, overwrite bool) (CreateFileResult, error) {
	p = CanonicalPath(p)
	if p == "/" {
		return CreateFileResult{}, synoapi.Validationf("filestation.create_file", "invalid file path")
	}
	dir, name := path.Dir(p), path.Base(p)

	d := uploadFamily.Op("upload", synoapi.VerbMultipart, synoapi.Params{
		"path":           dir,
		"create_parents": "true",
		"overwrite":      synoapi.Bool(overwrite),
	})
	d.Upload = &synoapi.Upload{
		Field:       "file",
		Filename:    name,
		ContentType: "text/plain",
		Body:        strings.NewReader(content),
	}
	if _, err := m.caller.Call(ctx, d); err != nil {
		return CreateFileResult{}, err
	}

	return CreateFileResult{
		Path:      p,
		Filename:  name,
		Directory: dir,
		Size:      len(content),
	}, nil
}

// CreateDirectory creates the folder name under parent.
func (m *Module) CreateDirectory(ctx context.Context, parent, name string, forceParent bool) (CreateDirectoryResult, error) {
	parent = CanonicalPath(parent)
	name, err := CleanName("filestation.create_directory", name)
	if err != nil {
		return CreateDirectoryResult{}, err
	}

	var out struct {
		Folders []wireFile `json:"folders"`
	}
	d := createFolderFamily.Op("create", synoapi.VerbForm, synoapi.Params{
		"folder_path":  parent,
		"name":         name,
		"force_parent": synoapi.Bool(forceParent),
	})
	if err := synoapi.CallInto(ctx, m.caller, d, &out); err != nil {
		return CreateDirectoryResult{}, err
	}
	if len(out.Folders) == 0 {
		return CreateDirectoryResult{}, &synoapi.Error{
			Kind:   synoapi.KindBackend,
			Op:     d.Op(),
			Detail: "no folder data returned",
		}
	}

	created := out.Folders[0]
	full := created.Path
	if full == "" {
		full = path.Join(parent, name)
	}
	return CreateDirectoryResult{
		FolderPath:  parent,
		Name:        name,
		FullPath:    full,
		IsDirectory: created.IsDir,
		ForceParent: forceParent,
	}, nil
}

// ReadFile downloads at most limit bytes of the file p; limit <= 0 means
// DefaultReadLimit and larger limits are clamped to MaxReadLimit.
func (m *Module) ReadFile(ctx context.Context, p string, limit int64) (Content, error) {
	p = CanonicalPath(p)
	switch {
	case limit <= 0:
		limit = DefaultReadLimit
	case limit > MaxReadLimit:
		limit = MaxReadLimit
	}

	d := downloadFamily.Op("download", synoapi.VerbQuery, synoapi.Params{
		"path": p,
		"mode": "download",
	})
	data, truncated, err := m.caller.Download(ctx, d, limit)
	if err != nil {
		return Content{}, err
	}
	return Content{
		Path:      p,
		Content:   string(data),
		Size:      len(data),
		Truncated: truncated,
	}, nil
}

func decodeInto(d synoapi.Descriptor, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return synoapi.TransportErr(d.Op(), fmt.Errorf("decode payload: %w", err))
	}
	return nil
}
