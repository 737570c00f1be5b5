// Package fakefs provides an in-memory ports.FileSystem for config and
// state-store tests.
//
// Unlike os.WriteFile helpers that create parents on demand, WriteFile
// requires the parent directory to exist, so callers that forget MkdirAll
// fail here the way they would on disk. Individual operations can be made
// to fail with Fail.
package fakefs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acolita/synology-mcp/internal/ports"
)

// Op names a FileSystem operation for Fail and Ops.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpMkdir  Op = "mkdir"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

type entry struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// FS is an in-memory filesystem. The zero value is not usable; call New.
type FS struct {
	mu       sync.Mutex
	files    map[string]entry
	dirs     map[string]bool
	home     string
	env      map[string]string
	failures map[string]error
	ops      []string
}

// New returns a filesystem holding only "/" and "/tmp".
func New() *FS {
	return &FS{
		files:    make(map[string]entry),
		dirs:     map[string]bool{"/": true, "/tmp": true},
		home:     "/home/test",
		env:      make(map[string]string),
		failures: make(map[string]error),
	}
}

// Fail makes every later op on name return err. A nil err clears it.
func (f *FS) Fail(op Op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := failKey(op, filepath.Clean(name))
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

// Ops returns the mutating operations performed so far, formatted as
// "write /a", "rename /a /b", "mkdir /d" and "remove /a".
func (f *FS) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func failKey(op Op, name string) string { return string(op) + " " + name }

// check must be called with f.mu held.
func (f *FS) check(op Op, name string) error {
	if err, ok := f.failures[failKey(op, name)]; ok {
		return &fs.PathError{Op: string(op), Path: name, Err: err}
	}
	return nil
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.check(OpRead, name); err != nil {
		return nil, err
	}
	e, ok := f.files[name]
	if !ok {
		if f.dirs[name] {
			return nil, &fs.PathError{Op: "read", Path: name, Err: fmt.Errorf("is a directory")}
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), e.data...), nil
}

func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.check(OpWrite, name); err != nil {
		return err
	}
	if !f.dirs[filepath.Dir(name)] {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if f.dirs[name] {
		return &fs.PathError{Op: "open", Path: name, Err: fmt.Errorf("is a directory")}
	}
	f.files[name] = entry{data: append([]byte(nil), data...), mode: perm, modTime: time.Now()}
	f.ops = append(f.ops, "write "+name)
	return nil
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if f.dirs[name] {
		return fileInfo{name: filepath.Base(name), mode: fs.ModeDir | 0755, dir: true}, nil
	}
	e, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fileInfo{name: filepath.Base(name), size: int64(len(e.data)), mode: e.mode, modTime: e.modTime}, nil
}

func (f *FS) MkdirAll(path string, _ fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = filepath.Clean(path)
	if err := f.check(OpMkdir, path); err != nil {
		return err
	}
	for p := path; ; p = filepath.Dir(p) {
		if _, isFile := f.files[p]; isFile {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fmt.Errorf("not a directory")}
		}
		if p == "/" || p == "." {
			break
		}
	}
	for p := path; !f.dirs[p]; p = filepath.Dir(p) {
		f.dirs[p] = true
	}
	f.ops = append(f.ops, "mkdir "+path)
	return nil
}

func (f *FS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err := f.check(OpRemove, name); err != nil {
		return err
	}
	switch {
	case f.hasFile(name):
		delete(f.files, name)
	case f.dirs[name]:
		for p := range f.files {
			if strings.HasPrefix(p, name+"/") {
				return &fs.PathError{Op: "remove", Path: name, Err: fmt.Errorf("directory not empty")}
			}
		}
		delete(f.dirs, name)
	default:
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	f.ops = append(f.ops, "remove "+name)
	return nil
}

// Rename replaces newpath with oldpath atomically, as rename(2) does for
// files in the same directory.
func (f *FS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldpath, newpath = filepath.Clean(oldpath), filepath.Clean(newpath)
	if err := f.check(OpRename, oldpath); err != nil {
		return err
	}
	e, ok := f.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	if !f.dirs[filepath.Dir(newpath)] {
		return &fs.PathError{Op: "rename", Path: newpath, Err: fs.ErrNotExist}
	}
	f.files[newpath] = e
	delete(f.files, oldpath)
	f.ops = append(f.ops, "rename "+oldpath+" "+newpath)
	return nil
}

func (f *FS) UserHomeDir() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.home, nil
}

func (f *FS) Getenv(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.env[key]
}

func (f *FS) hasFile(name string) bool {
	_, ok := f.files[name]
	return ok
}

// AddFile seeds a file and its parent directories without recording an op.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	for p := filepath.Dir(name); !f.dirs[p]; p = filepath.Dir(p) {
		f.dirs[p] = true
	}
	f.files[name] = entry{data: append([]byte(nil), data...), mode: mode, modTime: time.Now()}
}

// SetHomeDir sets the directory UserHomeDir reports.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.home = dir
}

// SetEnv sets a variable visible through Getenv.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Files returns every file path, sorted.
func (f *FS) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	dir     bool
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }

var _ ports.FileSystem = (*FS)(nil)
