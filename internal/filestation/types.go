package filestation

// Share is a shared folder.
type Share struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Writable    bool   `json:"is_writable"`
}

// Entry is a file or directory.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Created     int64  `json:"created,omitempty"`
	Modified    int64  `json:"modified,omitempty"`
	Accessed    int64  `json:"accessed,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"group,omitempty"`
	Permissions *int   `json:"permissions,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

// Entry types.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// RenameResult describes a completed rename.
type RenameResult struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// MoveResult describes a completed move.
type MoveResult struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	TaskID          string `json:"task_id"`
}

// DeleteResult describes a completed delete.
type DeleteResult struct {
	Path      string `json:"path"`
	Name      string `json:"item_name"`
	Type      string `json:"item_type"`
	Recursive bool   `json:"recursive"`
	TaskID    string `json:"task_id"`
}

// CreateFileResult describes an uploaded file.
type CreateFileResult struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Directory string `json:"directory"`
	Size      int    `json:"size"`
}

// CreateDirectoryResult describes a created folder.
type CreateDirectoryResult struct {
	FolderPath  string `json:"folder_path"`
	Name        string `json:"name"`
	FullPath    string `json:"full_path"`
	IsDirectory bool   `json:"is_directory"`
	ForceParent bool   `json:"force_parent"`
}

// Content is the (possibly truncated) content of a file.
type Content struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int    `json:"size"`
	Truncated bool   `json:"truncated"`
}

// wireFile is a file record as returned by List, Search and getinfo.
type wireFile struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	IsDir      bool   `json:"isdir"`
	Size       int64  `json:"size"`
	Code       int    `json:"code"`
	Additional *struct {
		Size *int64 `json:"size"`
		Time *struct {
			Atime  int64 `json:"atime"`
			Mtime  int64 `json:"mtime"`
			Crtime int64 `json:"crtime"`
		} `json:"time"`
		Owner *struct {
			User  string `json:"user"`
			Group string `json:"group"`
		} `json:"owner"`
		Perm *struct {
			Posix *int `json:"posix"`
		} `json:"perm"`
	} `json:"additional"`
}

func (w wireFile) entry() Entry {
	e := Entry{
		Name: w.Name,
		Path: w.Path,
		Type: TypeFile,
		Size: w.Size,
	}
	if w.IsDir {
		e.Type = TypeDirectory
	}
	a := w.Additional
	if a == nil {
		return e
	}
	if a.Size != nil {
		e.Size = *a.Size
	}
	if a.Time != nil {
		e.Created = a.Time.Crtime
		e.Modified = a.Time.Mtime
		e.Accessed = a.Time.Atime
	}
	if a.Owner != nil {
		e.Owner = a.Owner.User
		e.Group = a.Owner.Group
	}
	if a.Perm != nil {
		e.Permissions = a.Perm.Posix
	}
	return e
}

func entries(files []wireFile) []Entry {
	out := make([]Entry, 0, len(files))
	for _, f := range files {
		out = append(out, f.entry())
	}
	return out
}
