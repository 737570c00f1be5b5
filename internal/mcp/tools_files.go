package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/synology-mcp/internal/filestation"
)

func (s *Server) registerFileTools() {
	s.mcpServer.AddTool(listSharesTool(), s.handleListShares)
	s.mcpServer.AddTool(listDirectoryTool(), s.handleListDirectory)
	s.mcpServer.AddTool(getFileInfoTool(), s.handleGetFileInfo)
	s.mcpServer.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcpServer.AddTool(getFileContentTool(), s.handleGetFileContent)
	s.mcpServer.AddTool(renameFileTool(), s.handleRenameFile)
	s.mcpServer.AddTool(moveFileTool(), s.handleMoveFile)
	s.mcpServer.AddTool(createFileTool(), s.handleCreateFile)
	s.mcpServer.AddTool(createDirectoryTool(), s.handleCreateDirectory)
	s.mcpServer.AddTool(deleteTool(), s.handleDelete)
}

// Tool definitions

func listSharesTool() mcp.Tool {
	return mcp.NewTool("list_shares",
		mcp.WithDescription("List all shared folders on the Synology NAS"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

func listDirectoryTool() mcp.Tool {
	return mcp.NewTool("list_directory",
		mcp.WithDescription("List contents of a directory on the Synology NAS with name, type, size and timestamps"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory path to list"),
		),
		mcp.WithBoolean("details",
			mcp.Description("Include size, owner, timestamps and permissions (default: true)"),
		),
	)
}

func getFileInfoTool() mcp.Tool {
	return mcp.NewTool("get_file_info",
		mcp.WithDescription("Get detailed information about a specific file or directory"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description(descPath),
		),
	)
}

func searchFilesTool() mcp.Tool {
	return mcp.NewTool("search_files",
		mcp.WithDescription("Search recursively for files and directories matching a pattern"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory to search in"),
		),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Search pattern (wildcards like *.txt are supported)"),
		),
	)
}

func getFileContentTool() mcp.Tool {
	return mcp.NewTool("get_file_content",
		mcp.WithDescription("Read the content of a file, truncated to max_bytes"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description(descPath),
		),
		mcp.WithNumber("max_bytes",
			mcp.Description("Maximum bytes to return (default: 1048576, at most 67108864)"),
		),
	)
}

func renameFileTool() mcp.Tool {
	return mcp.NewTool("rename_file",
		mcp.WithDescription("Rename a file or directory in place"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file or directory to rename"),
		),
		mcp.WithString("new_name",
			mcp.Required(),
			mcp.Description("New name (a name only, not a path)"),
		),
	)
}

func moveFileTool() mcp.Tool {
	return mcp.NewTool("move_file",
		mcp.WithDescription("Move a file or directory into another directory"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("source_path",
			mcp.Required(),
			mcp.Description("Path of the file or directory to move"),
		),
		mcp.WithString("destination_path",
			mcp.Required(),
			mcp.Description("Directory to move it into"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Overwrite an existing item at the destination (default: false)"),
		),
	)
}

func createFileTool() mcp.Tool {
	return mcp.NewTool("create_file",
		mcp.WithDescription("Create a text file with the given content"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path of the new file"),
		),
		mcp.WithString("content",
			mcp.Description("File content (default: empty)"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Overwrite an existing file (default: false)"),
		),
	)
}

func createDirectoryTool() mcp.Tool {
	return mcp.NewTool("create_directory",
		mcp.WithDescription("Create a directory"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("folder_path",
			mcp.Required(),
			mcp.Description("Parent directory of the new directory"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the new directory"),
		),
		mcp.WithBoolean("force_parent",
			mcp.Description("Create missing parent directories (default: false)"),
		),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("delete",
		mcp.WithDescription(`Delete a file or directory. Directories are deleted recursively.

Shared folder roots, system paths and configured protected paths are refused.`),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description(descPath),
		),
	)
}

// Tool handlers

func (s *Server) handleListShares(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	shares, err := mods.Files.ListShares(ctx)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"shares": shares,
		"total":  len(shares),
	})
}

func (s *Server) handleListDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	details := mcp.ParseBoolean(req, "details", true)

	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	entries, err := mods.Files.List(ctx, path, details)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"path":    filestation.CanonicalPath(path),
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleGetFileInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	info, err := mods.Files.GetInfo(ctx, path)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(info)
}

func (s *Server) handleSearchFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	pattern := mcp.ParseString(req, "pattern", "")

	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}
	if pattern == "" {
		return mcp.NewToolResultError("pattern is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("searching files",
		slog.String("path", path),
		slog.String("pattern", pattern),
	)

	matches, err := mods.Files.Search(ctx, path, pattern)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"path":    filestation.CanonicalPath(path),
		"pattern": pattern,
		"matches": matches,
		"total":   len(matches),
	})
}

func (s *Server) handleGetFileContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	maxBytes := mcp.ParseInt64(req, "max_bytes", filestation.DefaultReadLimit)

	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}
	if maxBytes <= 0 {
		maxBytes = filestation.DefaultReadLimit
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	content, err := mods.Files.ReadFile(ctx, path, maxBytes)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(content)
}

func (s *Server) handleRenameFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	newName := mcp.ParseString(req, "new_name", "")

	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("renaming",
		slog.String("path", path),
		slog.String("new_name", newName),
	)

	result, err := mods.Files.Rename(ctx, path, newName)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleMoveFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src := mcp.ParseString(req, "source_path", "")
	dst := mcp.ParseString(req, "destination_path", "")
	overwrite := mcp.ParseBoolean(req, "overwrite", false)

	if src == "" {
		return mcp.NewToolResultError("source_path is required"), nil
	}
	if dst == "" {
		return mcp.NewToolResultError("destination_path is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("moving",
		slog.String("source", src),
		slog.String("destination", dst),
		slog.Bool("overwrite", overwrite),
	)

	result, err := mods.Files.Move(ctx, src, dst, overwrite)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCreateFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	content := mcp.ParseString(req, "content", "")
	overwrite := mcp.ParseBoolean(req, "overwrite", false)

	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := mods.Files.CreateFile(ctx, path, content, overwrite)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCreateDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folderPath := mcp.ParseString(req, "folder_path", "")
	name := mcp.ParseString(req, "name", "")
	forceParent := mcp.ParseBoolean(req, "force_parent", false)

	if folderPath == "" {
		return mcp.NewToolResultError("folder_path is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := mods.Files.CreateDirectory(ctx, folderPath, name, forceParent)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(req, "path", "")
	if path == "" {
		return mcp.NewToolResultError(errPathRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("deleting", slog.String("path", path))

	result, err := mods.Files.Delete(ctx, path)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}
