package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/synology-mcp/internal/downloadstation"
)

func (s *Server) registerDownloadTools() {
	s.mcpServer.AddTool(dsGetInfoTool(), s.handleDSGetInfo)
	s.mcpServer.AddTool(dsListTasksTool(), s.handleDSListTasks)
	s.mcpServer.AddTool(dsCreateTaskTool(), s.handleDSCreateTask)
	s.mcpServer.AddTool(dsTaskActionTool("ds_pause_tasks", "Pause one or more download tasks"), s.handleDSPauseTasks)
	s.mcpServer.AddTool(dsTaskActionTool("ds_resume_tasks", "Resume one or more paused download tasks"), s.handleDSResumeTasks)
	s.mcpServer.AddTool(dsDeleteTasksTool(), s.handleDSDeleteTasks)
	s.mcpServer.AddTool(dsGetStatisticsTool(), s.handleDSGetStatistics)
	s.mcpServer.AddTool(dsListDownloadedFilesTool(), s.handleDSListDownloadedFiles)
	s.mcpServer.AddTool(dsSetDefaultDestinationTool(), s.handleDSSetDefaultDestination)
	s.mcpServer.AddTool(dsGetDefaultDestinationTool(), s.handleDSGetDefaultDestination)
}

// Tool definitions

func dsGetInfoTool() mcp.Tool {
	return mcp.NewTool("ds_get_info",
		mcp.WithDescription("Get Download Station version and host information"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

func dsListTasksTool() mcp.Tool {
	return mcp.NewTool("ds_list_tasks",
		mcp.WithDescription("List download tasks in Download Station"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithNumber("offset",
			mcp.Description("Starting offset for pagination (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return (default: all)"),
		),
	)
}

func dsCreateTaskTool() mcp.Tool {
	return mcp.NewTool("ds_create_task",
		mcp.WithDescription(`Create a download task from a URL or magnet link.

The destination shared folder must exist. Without a destination the default
destination is used (see ds_get_default_destination).`),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("Download URL or magnet link"),
		),
		mcp.WithString("destination",
			mcp.Description("Destination folder, e.g. 'video' or 'video/movies' (optional)"),
		),
		mcp.WithString("username",
			mcp.Description("Username for protected downloads (optional)"),
		),
		mcp.WithString("password",
			mcp.Description("Password for protected downloads (optional)"),
		),
	)
}

func dsTaskActionTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithArray("task_ids",
			mcp.Required(),
			mcp.Description(descTaskIDs),
			mcp.WithStringItems(),
		),
	)
}

func dsDeleteTasksTool() mcp.Tool {
	return mcp.NewTool("ds_delete_tasks",
		mcp.WithDescription("Delete one or more download tasks"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithArray("task_ids",
			mcp.Required(),
			mcp.Description(descTaskIDs),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("force_complete",
			mcp.Description("Force deletion of completed tasks (default: false)"),
		),
	)
}

func dsGetStatisticsTool() mcp.Tool {
	return mcp.NewTool("ds_get_statistics",
		mcp.WithDescription("Get Download Station download and upload speeds"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

func dsListDownloadedFilesTool() mcp.Tool {
	return mcp.NewTool("ds_list_downloaded_files",
		mcp.WithDescription("List files in a Download Station destination folder"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("destination",
			mcp.Description("Destination folder to list (default: the default destination)"),
		),
	)
}

func dsSetDefaultDestinationTool() mcp.Tool {
	return mcp.NewTool("ds_set_default_destination",
		mcp.WithDescription("Set the destination used when ds_create_task gets none. The folder must exist."),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("destination",
			mcp.Required(),
			mcp.Description("Shared folder, e.g. 'downloads'"),
		),
	)
}

func dsGetDefaultDestinationTool() mcp.Tool {
	return mcp.NewTool("ds_get_default_destination",
		mcp.WithDescription("Show the destination used when ds_create_task gets none"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

// Tool handlers

func (s *Server) handleDSGetInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(mods.Downloads.Info(ctx))
}

func (s *Server) handleDSListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	offset := mcp.ParseInt(req, "offset", 0)
	limit := mcp.ParseInt(req, "limit", 0)

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	list, err := mods.Downloads.ListTasks(ctx, offset, limit)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(list)
}

func (s *Server) handleDSCreateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	create := downloadstation.CreateRequest{
		URI:         mcp.ParseString(req, "uri", ""),
		Destination: mcp.ParseString(req, "destination", ""),
		Username:    mcp.ParseString(req, "username", ""),
		Password:    mcp.ParseString(req, "password", ""),
	}
	if create.URI == "" {
		return mcp.NewToolResultError("uri is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("creating download task",
		slog.String("uri", create.URI),
		slog.String("destination", create.Destination),
	)

	result, err := mods.Downloads.CreateTask(ctx, create)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleDSPauseTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.taskAction(ctx, req, func(m *downloadstation.Module, ids []string) (downloadstation.ActionResult, error) {
		return m.PauseTasks(ctx, ids)
	})
}

func (s *Server) handleDSResumeTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.taskAction(ctx, req, func(m *downloadstation.Module, ids []string) (downloadstation.ActionResult, error) {
		return m.ResumeTasks(ctx, ids)
	})
}

func (s *Server) handleDSDeleteTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := mcp.ParseBoolean(req, "force_complete", false)
	return s.taskAction(ctx, req, func(m *downloadstation.Module, ids []string) (downloadstation.ActionResult, error) {
		return m.DeleteTasks(ctx, ids, force)
	})
}

func (s *Server) taskAction(ctx context.Context, req mcp.CallToolRequest,
	run func(*downloadstation.Module, []string) (downloadstation.ActionResult, error),
) (*mcp.CallToolResult, error) {
	ids := stringSlice(req, "task_ids")
	if len(ids) == 0 {
		return mcp.NewToolResultError(errTaskIDsRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := run(mods.Downloads, ids)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleDSGetStatistics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	stats, err := mods.Downloads.Statistics(ctx)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(stats)
}

func (s *Server) handleDSListDownloadedFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest := mcp.ParseString(req, "destination", "")

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	files, err := mods.Downloads.ListDownloadedFiles(ctx, dest)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(files)
}

func (s *Server) handleDSSetDefaultDestination(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dest := mcp.ParseString(req, "destination", "")
	if dest == "" {
		return mcp.NewToolResultError("destination is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	set, err := mods.Downloads.SetDefaultDestination(ctx, dest)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"status":              "updated",
		"default_destination": set,
	})
}

func (s *Server) handleDSGetDefaultDestination(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"preferred":           mods.Downloads.Preferred(),
		"default_destination": mods.Downloads.DefaultDestination(ctx),
	})
}
