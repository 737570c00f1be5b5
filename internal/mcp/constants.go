package mcp

// Common parameter descriptions and error messages used across MCP tools.
const (
	// Tool parameter descriptions
	descBaseURL = "NAS base URL or configured endpoint name (optional when one endpoint is logged in)"
	descPath    = "Absolute path on the NAS, starting with a shared folder (e.g. /video/movie.mkv)"
	descTaskIDs = "Download task IDs"

	// Common error messages
	errPathRequired    = "path is required"
	errTaskIDsRequired = "task_ids is required"
	errUUIDRequired    = "lun_uuid is required"

	// Hint appended to failures that carry recovery suggestions
	hintHeader = "\n\nSuggestions:"
)
