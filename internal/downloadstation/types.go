package downloadstation

import (
	"github.com/acolita/synology-mcp/internal/filestation"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// Info describes the Download Station package.
type Info struct {
	Version       int    `json:"version"`
	VersionString string `json:"version_string"`
	IsManager     bool   `json:"is_manager"`
	Hostname      string `json:"hostname"`
	// Note is set when the info call failed and the payload is degraded.
	Note string `json:"note,omitempty"`
}

// Task is one download task flattened from its detail and transfer blocks.
type Task struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Username      string         `json:"username"`
	Title         string         `json:"title"`
	Size          int64          `json:"size"`
	Status        any            `json:"status"`
	StatusExtra   map[string]any `json:"status_extra,omitempty"`
	CreateTime    int64          `json:"create_time,omitempty"`
	StartedTime   int64          `json:"started_time,omitempty"`
	CompletedTime int64          `json:"completed_time,omitempty"`

	Destination       string `json:"destination,omitempty"`
	URI               string `json:"uri,omitempty"`
	Priority          any    `json:"priority,omitempty"`
	TotalPeers        int    `json:"total_peers,omitempty"`
	ConnectedSeeders  int    `json:"connected_seeders,omitempty"`
	ConnectedLeechers int    `json:"connected_leechers,omitempty"`

	SizeDownloaded int64 `json:"size_downloaded,omitempty"`
	SizeUploaded   int64 `json:"size_uploaded,omitempty"`
	SpeedDownload  int64 `json:"speed_download,omitempty"`
	SpeedUpload    int64 `json:"speed_upload,omitempty"`
}

// TaskList is one page of tasks.
type TaskList struct {
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Tasks  []Task `json:"tasks"`
	// APIVersion is the task API version that answered.
	APIVersion int `json:"api_version"`
}

// CreateRequest describes a new download.
type CreateRequest struct {
	URI string
	// Destination is a shared folder path such as "video/movies"; empty
	// means the preferred destination.
	Destination string
	Username    string
	Password    string
}

// CreateResult describes a submitted download.
type CreateResult struct {
	URI         string   `json:"uri"`
	Destination string   `json:"destination"`
	TaskIDs     []string `json:"task_id,omitempty"`
	ListIDs     []string `json:"list_id,omitempty"`
	APIVersion  int      `json:"api_version"`
}

// ActionResult reports a pause, resume or delete over a set of tasks.
type ActionResult struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
	// Failed lists per-task failures; Path carries the task id.
	Failed []synoapi.ItemError `json:"failed,omitempty"`
}

// Statistics is the aggregate transfer rate in bytes per second.
type Statistics struct {
	SpeedDownload      int64  `json:"speed_download"`
	SpeedUpload        int64  `json:"speed_upload"`
	EmuleSpeedDownload int64  `json:"emule_speed_download,omitempty"`
	EmuleSpeedUpload   int64  `json:"emule_speed_upload,omitempty"`
	Note               string `json:"note,omitempty"`
}

// DownloadedFiles is the content of a destination folder.
type DownloadedFiles struct {
	Destination string              `json:"destination"`
	Files       []filestation.Entry `json:"files"`
}

type wireTask struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Username      string         `json:"username"`
	Title         string         `json:"title"`
	Size          int64          `json:"size"`
	Status        any            `json:"status"`
	StatusExtra   map[string]any `json:"status_extra"`
	CreateTime    int64          `json:"create_time"`
	StartedTime   int64          `json:"started_time"`
	CompletedTime int64          `json:"completed_time"`
	Additional    *struct {
		Detail *struct {
			Destination       string `json:"destination"`
			URI               string `json:"uri"`
			Priority          any    `json:"priority"`
			TotalPeers        int    `json:"total_peers"`
			ConnectedSeeders  int    `json:"connected_seeders"`
			ConnectedLeechers int    `json:"connected_leechers"`
		} `json:"detail"`
		Transfer *struct {
			SizeDownloaded int64 `json:"size_downloaded"`
			SizeUploaded   int64 `json:"size_uploaded"`
			SpeedDownload  int64 `json:"speed_download"`
			SpeedUpload    int64 `json:"speed_upload"`
		} `json:"transfer"`
	} `json:"additional"`
}

func (w wireTask) task() Task {
	t := Task{
		ID:            w.ID,
		Type:          w.Type,
		Username:      w.Username,
		Title:         w.Title,
		Size:          w.Size,
		Status:        w.Status,
		StatusExtra:   w.StatusExtra,
		CreateTime:    w.CreateTime,
		StartedTime:   w.StartedTime,
		CompletedTime: w.CompletedTime,
	}
	if w.Additional == nil {
		return t
	}
	if d := w.Additional.Detail; d != nil {
		t.Destination = d.Destination
		t.URI = d.URI
		t.Priority = d.Priority
		t.TotalPeers = d.TotalPeers
		t.ConnectedSeeders = d.ConnectedSeeders
		t.ConnectedLeechers = d.ConnectedLeechers
	}
	if tr := w.Additional.Transfer; tr != nil {
		t.SizeDownloaded = tr.SizeDownloaded
		t.SizeUploaded = tr.SizeUploaded
		t.SpeedDownload = tr.SpeedDownload
		t.SpeedUpload = tr.SpeedUpload
	}
	return t
}
