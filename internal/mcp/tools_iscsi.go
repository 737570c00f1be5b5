package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerISCSITools() {
	s.mcpServer.AddTool(iscsiListLUNsTool(), s.handleISCSIListLUNs)
	s.mcpServer.AddTool(iscsiGetLUNTool(), s.handleISCSIGetLUN)
	s.mcpServer.AddTool(iscsiDeleteLUNTool(), s.handleISCSIDeleteLUN)
	s.mcpServer.AddTool(iscsiListTargetsTool(), s.handleISCSIListTargets)
	s.mcpServer.AddTool(iscsiUnmapLUNTool(), s.handleISCSIUnmapLUN)
}

// Tool definitions

func iscsiListLUNsTool() mcp.Tool {
	return mcp.NewTool("iscsi_list_luns",
		mcp.WithDescription("List iSCSI LUNs with size, usage and mapping state"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

func iscsiGetLUNTool() mcp.Tool {
	return mcp.NewTool("iscsi_get_lun",
		mcp.WithDescription("Get one iSCSI LUN with its target mappings"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("lun_uuid",
			mcp.Required(),
			mcp.Description("UUID of the LUN"),
		),
	)
}

func iscsiDeleteLUNTool() mcp.Tool {
	return mcp.NewTool("iscsi_delete_lun",
		mcp.WithDescription(`Permanently delete an iSCSI LUN and its data.

A LUN still mapped to a target is refused; unmap it first with iscsi_unmap_lun.`),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("lun_uuid",
			mcp.Required(),
			mcp.Description("UUID of the LUN"),
		),
	)
}

func iscsiListTargetsTool() mcp.Tool {
	return mcp.NewTool("iscsi_list_targets",
		mcp.WithDescription("List iSCSI targets with their mapped LUNs and sessions"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
	)
}

func iscsiUnmapLUNTool() mcp.Tool {
	return mcp.NewTool("iscsi_unmap_lun",
		mcp.WithDescription("Remove the mapping between an iSCSI LUN and a target"),
		mcp.WithString("base_url", mcp.Description(descBaseURL)),
		mcp.WithString("lun_uuid",
			mcp.Required(),
			mcp.Description("UUID of the LUN"),
		),
		mcp.WithString("target_id",
			mcp.Required(),
			mcp.Description("ID of the target to unmap from"),
		),
	)
}

// Tool handlers

func (s *Server) handleISCSIListLUNs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	luns, err := mods.ISCSI.ListLUNs(ctx)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"luns":  luns,
		"total": len(luns),
	})
}

func (s *Server) handleISCSIGetLUN(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uuid := mcp.ParseString(req, "lun_uuid", "")
	if uuid == "" {
		return mcp.NewToolResultError(errUUIDRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	lun, err := mods.ISCSI.GetLUN(ctx, uuid)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(lun)
}

func (s *Server) handleISCSIDeleteLUN(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uuid := mcp.ParseString(req, "lun_uuid", "")
	if uuid == "" {
		return mcp.NewToolResultError(errUUIDRequired), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	slog.Info("deleting LUN", slog.String("uuid", uuid))

	result, err := mods.ISCSI.DeleteLUN(ctx, uuid)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleISCSIListTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	targets, err := mods.ISCSI.ListTargets(ctx)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(map[string]any{
		"targets": targets,
		"total":   len(targets),
	})
}

func (s *Server) handleISCSIUnmapLUN(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uuid := mcp.ParseString(req, "lun_uuid", "")
	targetID := mcp.ParseString(req, "target_id", "")

	if uuid == "" {
		return mcp.NewToolResultError(errUUIDRequired), nil
	}
	if targetID == "" {
		return mcp.NewToolResultError("target_id is required"), nil
	}

	mods, err := s.modules(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}

	result, err := mods.ISCSI.UnmapLUN(ctx, uuid, targetID)
	if err != nil {
		return s.toolError(err), nil
	}
	return jsonResult(result)
}
