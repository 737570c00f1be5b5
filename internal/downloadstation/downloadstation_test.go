package downloadstation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/synology-mcp/internal/filestation"
	"github.com/acolita/synology-mcp/internal/synoapi"
	"github.com/acolita/synology-mcp/internal/testing/fakes/fakenas"
)

const (
	apiTask = "SYNO.DownloadStation2.Task"
	apiInfo = "SYNO.DownloadStation.Info"
	apiStat = "SYNO.DownloadStation.Statistic"
)

// fakeFiles answers directory probes from a fixed set.
type fakeFiles struct {
	mu      sync.Mutex
	dirs    map[string]bool
	probes  []string
	listed  []string
	entries []filestation.Entry
	listErr error
}

func newFakeFiles(dirs ...string) *fakeFiles {
	f := &fakeFiles{dirs: make(map[string]bool)}
	for _, d := range dirs {
		f.dirs[d] = true
	}
	return f
}

func (f *fakeFiles) DirExists(_ context.Context, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, path)
	return f.dirs[path]
}

func (f *fakeFiles) List(_ context.Context, dir string, _ bool) ([]filestation.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, dir)
	return f.entries, f.listErr
}

func newTestModule(nas *fakenas.Server, files Files, opts ...Option) *Module {
	client := synoapi.NewClient(nas.URL(), "sid-1", synoapi.WithHTTPClient(nas.Client()))
	return New(client, files, opts...)
}

func suggestionsOf(t *testing.T, err error) []string {
	t.Helper()
	var apiErr *synoapi.Error
	require.True(t, errors.As(err, &apiErr), "expected *synoapi.Error, got %v", err)
	require.Equal(t, synoapi.KindDestinationMissing, apiErr.Kind)
	return apiErr.Suggestions
}

func TestInfo(t *testing.T) {
	nas := fakenas.New(t)
	nas.Reply(apiInfo, "getinfo", fakenas.OK(map[string]any{
		"version": 4021, "version_string": "4.0.2-4021", "is_manager": true, "hostname": "nas",
	}))

	info := newTestModule(nas, newFakeFiles()).Info(context.Background())
	assert.Equal(t, Info{Version: 4021, VersionString: "4.0.2-4021", IsManager: true, Hostname: "nas"}, info)

	call := nas.CallsTo(apiInfo, "getinfo")[0]
	assert.Equal(t, "DownloadStation/info.cgi", call.Script)
	assert.Equal(t, 2, call.Version)
}

func TestInfo_Degraded(t *testing.T) {
	nas := fakenas.New(t)
	nas.Reply(apiInfo, "getinfo", fakenas.Fail(105))

	info := newTestModule(nas, newFakeFiles()).Info(context.Background())
	assert.True(t, info.IsManager)
	assert.Equal(t, "Download Station Available", info.VersionString)
	assert.Contains(t, info.Note, "Limited info")
}

func TestListTasks(t *testing.T) {
	nas := fakenas.New(t)
	nas.HandleVersion(apiTask, 2, "list", func(fakenas.Call) fakenas.Response {
		return fakenas.OK(map[string]any{
			"total":  1,
			"offset": 0,
			"tasks": []map[string]any{{
				"id":     "dbid_1",
				"type":   "https",
				"title":  "ubuntu.iso",
				"size":   1000,
				"status": 2,
				"additional": map[string]any{
					"detail":   map[string]any{"destination": "downloads", "uri": "https://x/ubuntu.iso", "total_peers": 3},
					"transfer": map[string]any{"size_downloaded": 500, "speed_download": 50, "speed_upload": 5},
				},
			}},
		})
	})

	list, err := newTestModule(nas, newFakeFiles()).ListTasks(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.APIVersion)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Tasks, 1)

	task := list.Tasks[0]
	assert.Equal(t, "dbid_1", task.ID)
	assert.Equal(t, "downloads", task.Destination)
	assert.Equal(t, 3, task.TotalPeers)
	assert.EqualValues(t, 500, task.SizeDownloaded)
	assert.EqualValues(t, 50, task.SpeedDownload)

	call := nas.CallsTo(apiTask, "list")[0]
	assert.Equal(t, "100", call.Param("limit"))
	assert.Equal(t, "0", call.Param("offset"))
	assert.Equal(t, "detail,transfer", call.Param("additional"))
}

func TestListTasks_VersionFallback(t *testing.T) {
	for _, code := range []int{102, 103, 104} {
		nas := fakenas.New(t)
		nas.HandleVersion(apiTask, 2, "list", func(fakenas.Call) fakenas.Response { return fakenas.Fail(code) })
		nas.HandleVersion(apiTask, 1, "list", func(fakenas.Call) fakenas.Response {
			return fakenas.OK(map[string]any{"tasks": []map[string]any{{"id": "legacy"}}})
		})

		list, err := newTestModule(nas, newFakeFiles()).ListTasks(context.Background(), 5, 10)
		require.NoError(t, err, "code %d", code)
		assert.Equal(t, 1, list.APIVersion)
		assert.Equal(t, 1, list.Total)
		assert.Equal(t, 5, list.Offset)
		require.Len(t, list.Tasks, 1)
		assert.Equal(t, "legacy", list.Tasks[0].ID)

		calls := nas.CallsTo(apiTask, "list")
		require.Len(t, calls, 2)
		assert.Equal(t, 1, calls[1].Version)
		assert.Equal(t, "10", calls[1].Param("limit"))
		assert.Empty(t, calls[1].Param("additional"), "the prior version receives only paging")
	}
}

func TestListTasks_NoFallbackOnOtherCodes(t *testing.T) {
	for _, code := range []int{105, 119, 400, 408} {
		nas := fakenas.New(t)
		nas.HandleVersion(apiTask, 2, "list", func(fakenas.Call) fakenas.Response { return fakenas.Fail(code) })

		_, err := newTestModule(nas, newFakeFiles()).ListTasks(context.Background(), 0, 0)
		require.Error(t, err)
		assert.Equal(t, code, synoapi.CodeOf(err))
		assert.Equal(t, 1, nas.Count(apiTask, "list"), "code %d must not trigger fallback", code)
	}
}

func TestCreateTask(t *testing.T) {
	nas := fakenas.New(t)
	nas.HandleVersion(apiTask, 2, "create", func(fakenas.Call) fakenas.Response {
		return fakenas.OK(map[string]any{"task_id": []string{"dbid_9"}, "list_id": []string{}})
	})
	files := newFakeFiles("/video/movies")

	res, err := newTestModule(nas, files).CreateTask(context.Background(), CreateRequest{
		URI:         "magnet:?xt=urn:btih:abc",
		Destination: "/video/movies/",
		Username:    "u",
		Password:    "p",
	})
	require.NoError(t, err)
	assert.Equal(t, "video/movies", res.Destination)
	assert.Equal(t, []string{"dbid_9"}, res.TaskIDs)
	assert.Equal(t, 2, res.APIVersion)

	call := nas.CallsTo(apiTask, "create")[0]
	assert.Equal(t, http.MethodPost, call.HTTPMethod)
	assert.Equal(t, "url", call.Param("type"))
	assert.Equal(t, "video/movies", call.Param("destination"))
	assert.Equal(t, "true", call.Param("create_list"))
	assert.Equal(t, "u", call.Param("username"))
	assert.Equal(t, "p", call.Param("password"))

	var urls []string
	require.NoError(t, json.Unmarshal([]byte(call.Param("url")), &urls))
	assert.Equal(t, []string{"magnet:?xt=urn:btih:abc"}, urls)
}

func TestCreateTask_VersionFallback(t *testing.T) {
	nas := fakenas.New(t)
	nas.HandleVersion(apiTask, 2, "create", func(fakenas.Call) fakenas.Response { return fakenas.Fail(103) })
	nas.HandleVersion(apiTask, 1, "create", func(fakenas.Call) fakenas.Response { return fakenas.OK(nil) })

	res, err := newTestModule(nas, newFakeFiles("/downloads")).CreateTask(context.Background(), CreateRequest{URI: "https://x/a.iso"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.APIVersion)
	assert.Equal(t, "downloads", res.Destination)

	calls := nas.CallsTo(apiTask, "create")
	require.Len(t, calls, 2)
	legacy := calls[1]
	assert.Equal(t, 1, legacy.Version)
	assert.Equal(t, "https://x/a.iso", legacy.Param("uri"))
	assert.Equal(t, "downloads", legacy.Param("destination"))
	assert.Empty(t, legacy.Param("url"))
	assert.Empty(t, legacy.Param("username"))
}

func TestCreateTask_NoFallbackOnPermission(t *testing.T) {
	nas := fakenas.New(t)
	nas.HandleVersion(apiTask, 2, "create", func(fakenas.Call) fakenas.Response { return fakenas.Fail(105) })

	_, err := newTestModule(nas, newFakeFiles("/downloads")).CreateTask(context.Background(), CreateRequest{URI: "https://x/a.iso"})
	require.Error(t, err)
	assert.Equal(t, 105, synoapi.CodeOf(err))
	assert.Equal(t, 1, nas.Count(apiTask, "create"))
}

func TestCreateTask_DestinationMissing(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		dest     string
		want     []string
	}{
		{"nothing exists", nil, "", []string{}},
		{"only video exists", []string{"/video"}, "", []string{"video"}},
		{"explicit missing destination", []string{"/downloads", "/music"}, "movies", []string{"downloads", "music"}},
		{"missing destination is not suggested", []string{"/music"}, "video", []string{"music"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nas := fakenas.New(t)
			_, err := newTestModule(nas, newFakeFiles(tt.existing...)).CreateTask(context.Background(), CreateRequest{
				URI:         "https://x/a.iso",
				Destination: tt.dest,
			})
			assert.Equal(t, tt.want, suggestionsOf(t, err))
			assert.Zero(t, nas.Count(apiTask, "create"), "no task is submitted to a missing destination")
		})
	}
}

func TestCreateTask_EmptyURI(t *testing.T) {
	nas := fakenas.New(t)
	files := newFakeFiles("/downloads")
	_, err := newTestModule(nas, files).CreateTask(context.Background(), CreateRequest{URI: "  "})
	assert.True(t, synoapi.IsKind(err, synoapi.KindValidation))
	assert.Empty(t, files.probes)
	assert.Empty(t, nas.Calls())
}

func TestTaskActions(t *testing.T) {
	nas := fakenas.New(t)
	nas.Reply(apiTask, "pause", fakenas.OK([]map[string]any{{"id": "a", "error": 0}, {"id": "b", "error": 544}}))
	nas.Reply(apiTask, "resume", fakenas.OK(nil))
	nas.Reply(apiTask, "delete", fakenas.OK(nil))

	m := newTestModule(nas, newFakeFiles())
	ctx := context.Background()

	res, err := m.PauseTasks(ctx, []string{"a", " b ", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.IDs)
	assert.Equal(t, []synoapi.ItemError{{Code: 544, Path: "b"}}, res.Failed)
	assert.Equal(t, "a,b", nas.CallsTo(apiTask, "pause")[0].Param("id"))

	_, err = m.ResumeTasks(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "a", nas.CallsTo(apiTask, "resume")[0].Param("id"))

	_, err = m.DeleteTasks(ctx, []string{"a", "b"}, true)
	require.NoError(t, err)
	del := nas.CallsTo(apiTask, "delete")[0]
	assert.Equal(t, "a,b", del.Param("id"))
	assert.Equal(t, "true", del.Param("force_complete"))

	_, err = m.ResumeTasks(ctx, nil)
	assert.True(t, synoapi.IsKind(err, synoapi.KindValidation))
}

func TestStatistics(t *testing.T) {
	nas := fakenas.New(t)
	nas.Reply(apiStat, "getinfo", fakenas.OK(map[string]any{"speed_download": 100, "speed_upload": 10}))

	stats, err := newTestModule(nas, newFakeFiles()).Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Statistics{SpeedDownload: 100, SpeedUpload: 10}, stats)
	assert.Equal(t, "DownloadStation/statistic.cgi", nas.CallsTo(apiStat, "getinfo")[0].Script)
}

func TestStatistics_SumsTasksWhenUnavailable(t *testing.T) {
	nas := fakenas.New(t)
	nas.Reply(apiStat, "getinfo", fakenas.Fail(102))
	nas.Reply(apiTask, "list", fakenas.OK(map[string]any{"tasks": []map[string]any{
		{"id": "a", "additional": map[string]any{"transfer": map[string]any{"speed_download": 30, "speed_upload": 1}}},
		{"id": "b", "additional": map[string]any{"transfer": map[string]any{"speed_download": 20, "speed_upload": 2}}},
	}}))

	stats, err := newTestModule(nas, newFakeFiles()).Statistics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 50, stats.SpeedDownload)
	assert.EqualValues(t, 3, stats.SpeedUpload)
	assert.Equal(t, "Calculated from active tasks", stats.Note)
}

func TestDefaultDestination(t *testing.T) {
	nas := fakenas.New(t)

	m := newTestModule(nas, newFakeFiles("/downloads", "/video"))
	assert.Equal(t, "downloads", m.DefaultDestination(context.Background()))

	m = newTestModule(nas, newFakeFiles("/music", "/video"))
	assert.Equal(t, "video", m.DefaultDestination(context.Background()), "first existing common destination wins")

	m = newTestModule(nas, newFakeFiles())
	assert.Equal(t, "downloads", m.DefaultDestination(context.Background()))

	m = newTestModule(nas, newFakeFiles("/media"), WithPreferredDestination("/media/"))
	assert.Equal(t, "media", m.DefaultDestination(context.Background()))
}

func TestSetDefaultDestination(t *testing.T) {
	nas := fakenas.New(t)
	var persisted []string
	m := newTestModule(nas, newFakeFiles("/video", "/music"), WithPreferredChangeHook(func(d string) {
		persisted = append(persisted, d)
	}))

	got, err := m.SetDefaultDestination(context.Background(), "/video/")
	require.NoError(t, err)
	assert.Equal(t, "video", got)
	assert.Equal(t, "video", m.Preferred())
	assert.Equal(t, []string{"video"}, persisted)

	_, err = m.SetDefaultDestination(context.Background(), "missing")
	assert.Equal(t, []string{"video", "music"}, suggestionsOf(t, err))
	assert.Equal(t, "video", m.Preferred(), "a missing destination is never cached")
	assert.Len(t, persisted, 1)

	_, err = m.SetDefaultDestination(context.Background(), " ")
	assert.True(t, synoapi.IsKind(err, synoapi.KindValidation))
}

func TestListDownloadedFiles(t *testing.T) {
	nas := fakenas.New(t)
	files := newFakeFiles("/video")
	files.entries = []filestation.Entry{{Name: "a.mkv", Path: "/video/a.mkv", Type: filestation.TypeFile}}

	got, err := newTestModule(nas, files).ListDownloadedFiles(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "video", got.Destination, "the default destination self-heals")
	assert.Len(t, got.Files, 1)
	assert.Equal(t, []string{"/video"}, files.listed)

	files.listErr = synoapi.NotFoundf("filestation.list", "gone")
	_, err = newTestModule(nas, files).ListDownloadedFiles(context.Background(), "docs")
	assert.True(t, synoapi.IsKind(err, synoapi.KindNotFound))
}
