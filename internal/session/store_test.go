package session

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/acolita/synology-mcp/internal/testing/fakes/fakefs"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakelock"
)

func newTestStore(fs *fakefs.FS, lock *fakelock.Locker, path string) *StateStore {
	return NewStateStore(WithFileSystem(fs), WithFileLocker(lock), WithStorePath(path))
}

func TestStateStore_UpdateAndGet(t *testing.T) {
	fs := fakefs.New()
	lock := fakelock.New()
	store := newTestStore(fs, lock, "/tmp/state.yaml")

	login := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.Update("https://nas:5001", func(st *EndpointState) {
		st.Username = "admin"
		st.Kind = KindInteractive
		st.LastLogin = login
	})

	st, ok := store.Get("https://nas:5001")
	if !ok {
		t.Fatal("expected state for endpoint")
	}
	if st.Endpoint != "https://nas:5001" {
		t.Errorf("Endpoint = %q, want %q", st.Endpoint, "https://nas:5001")
	}
	if st.Username != "admin" {
		t.Errorf("Username = %q, want %q", st.Username, "admin")
	}
	if !st.LastLogin.Equal(login) {
		t.Errorf("LastLogin = %v, want %v", st.LastLogin, login)
	}
	if got := lock.Acquisitions("/tmp/state.yaml"); got != 1 {
		t.Errorf("lock acquisitions = %d, want 1", got)
	}
}

func TestStateStore_GetMissing(t *testing.T) {
	store := newTestStore(fakefs.New(), fakelock.New(), "/tmp/state.yaml")
	if _, ok := store.Get("https://nowhere"); ok {
		t.Error("expected no state for unknown endpoint")
	}
}

func TestStateStore_Persistence(t *testing.T) {
	fs := fakefs.New()
	lock := fakelock.New()
	path := "/tmp/state.yaml"

	store1 := newTestStore(fs, lock, path)
	store1.Update("https://b", func(st *EndpointState) { st.PreferredDestination = "video" })
	store1.Update("https://a", func(st *EndpointState) { st.Username = "ops" })

	store2 := newTestStore(fs, lock, path)
	st, ok := store2.Get("https://b")
	if !ok {
		t.Fatal("state should persist across store instances")
	}
	if st.PreferredDestination != "video" {
		t.Errorf("PreferredDestination = %q, want %q", st.PreferredDestination, "video")
	}

	all := store2.All()
	if len(all) != 2 || all[0].Endpoint != "https://a" || all[1].Endpoint != "https://b" {
		t.Errorf("All() = %+v, want endpoints a then b", all)
	}

	for _, f := range fs.Files() {
		if strings.HasSuffix(f, ".tmp") {
			t.Errorf("temporary file %s left behind", f)
		}
	}
}

func TestStateStore_Delete(t *testing.T) {
	fs := fakefs.New()
	store := newTestStore(fs, fakelock.New(), "/tmp/state.yaml")
	store.Update("https://nas", func(st *EndpointState) { st.Username = "admin" })
	store.Delete("https://nas")

	if _, ok := store.Get("https://nas"); ok {
		t.Error("state should not exist after delete")
	}
	if _, ok := newTestStore(fs, fakelock.New(), "/tmp/state.yaml").Get("https://nas"); ok {
		t.Error("deleted state should not be reloaded")
	}
}

func TestStateStore_LoadExistingData(t *testing.T) {
	fs := fakefs.New()
	existing := `endpoints:
  - endpoint: https://nas:5001
    username: deploy
    preferred_destination: media
`
	fs.AddFile("/tmp/state.yaml", []byte(existing), 0600)

	st, ok := newTestStore(fs, fakelock.New(), "/tmp/state.yaml").Get("https://nas:5001")
	if !ok {
		t.Fatal("expected to load existing state from file")
	}
	if st.Username != "deploy" || st.PreferredDestination != "media" {
		t.Errorf("state = %+v", st)
	}
}

func TestStateStore_InvalidYAML(t *testing.T) {
	fs := fakefs.New()
	fs.AddFile("/tmp/state.yaml", []byte("endpoints: [unterminated"), 0600)

	store := newTestStore(fs, fakelock.New(), "/tmp/state.yaml")
	if got := len(store.All()); got != 0 {
		t.Errorf("expected empty store after invalid file, got %d entries", got)
	}
}

func TestStateStore_LockFailureKeepsMemoryState(t *testing.T) {
	fs := fakefs.New()
	lock := fakelock.New()
	lock.Err = errors.New("locked elsewhere")

	store := newTestStore(fs, lock, "/tmp/state.yaml")
	store.Update("https://nas", func(st *EndpointState) { st.Username = "admin" })

	if _, ok := store.Get("https://nas"); !ok {
		t.Error("in-memory state should survive a failed write")
	}
	if _, err := fs.ReadFile("/tmp/state.yaml"); err == nil {
		t.Error("nothing should be written without the lock")
	}
}

func TestStateStore_DefaultPath(t *testing.T) {
	fs := fakefs.New()
	fs.SetHomeDir("/home/test")

	store := NewStateStore(WithFileSystem(fs), WithFileLocker(fakelock.New()))
	if want := "/home/test/.cache/synology-mcp/state.yaml"; store.Path() != want {
		t.Errorf("Path() = %q, want %q", store.Path(), want)
	}
}

func TestStateStore_CreatesStateDirectory(t *testing.T) {
	fs := fakefs.New()
	store := newTestStore(fs, fakelock.New(), "/var/lib/synology-mcp/state.yaml")
	store.Update("https://nas", func(st *EndpointState) { st.Username = "admin" })

	if _, err := fs.ReadFile("/var/lib/synology-mcp/state.yaml"); err != nil {
		t.Fatalf("state not written: %v", err)
	}
	want := []string{
		"mkdir /var/lib/synology-mcp",
		"write /var/lib/synology-mcp/state.yaml.tmp",
		"rename /var/lib/synology-mcp/state.yaml.tmp /var/lib/synology-mcp/state.yaml",
	}
	if got := fs.Ops(); !slices.Equal(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestStateStore_WriteFailureKeepsPreviousFile(t *testing.T) {
	fs := fakefs.New()
	store := newTestStore(fs, fakelock.New(), "/tmp/state.yaml")
	store.Update("https://nas", func(st *EndpointState) { st.Username = "admin" })

	fs.Fail(fakefs.OpWrite, "/tmp/state.yaml.tmp", errors.New("no space left on device"))
	store.Update("https://nas", func(st *EndpointState) { st.Username = "ops" })

	if st, _ := store.Get("https://nas"); st.Username != "ops" {
		t.Errorf("in-memory Username = %q, want ops", st.Username)
	}
	st, _ := newTestStore(fs, fakelock.New(), "/tmp/state.yaml").Get("https://nas")
	if st.Username != "admin" {
		t.Errorf("on-disk Username = %q, want the previous value admin", st.Username)
	}
}

func TestStateStore_RenameFailureRemovesTempFile(t *testing.T) {
	fs := fakefs.New()
	fs.Fail(fakefs.OpRename, "/tmp/state.yaml.tmp", errors.New("cross-device link"))

	store := newTestStore(fs, fakelock.New(), "/tmp/state.yaml")
	store.Update("https://nas", func(st *EndpointState) { st.Username = "admin" })

	if _, ok := store.Get("https://nas"); !ok {
		t.Error("in-memory state should survive a failed rename")
	}
	if files := fs.Files(); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}
