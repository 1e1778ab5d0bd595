package mcp

import "github.com/mark3labs/mcp-go/mcp"

// filterProperties describes the "filters" object shared by the organize tools.
var filterProperties = map[string]any{
	"contains":        map[string]any{"type": "string", "description": "File name contains this text"},
	"starts_with":     map[string]any{"type": "string", "description": "File name starts with this text"},
	"ends_with":       map[string]any{"type": "string", "description": "File name (without extension) ends with this text"},
	"exact":           map[string]any{"type": "string", "description": "File name equals this text"},
	"regex":           map[string]any{"type": "string", "description": "Regular expression searched in the file name; groups feed [group1], [group2], ..."},
	"glob":            map[string]any{"type": "string", "description": "Glob (doublestar syntax); patterns with / match the path relative to the source"},
	"extensions":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Allowed extensions, without the dot"},
	"modified_after":  map[string]any{"type": "string", "description": "YYYY-MM-DD, inclusive"},
	"modified_before": map[string]any{"type": "string", "description": "YYYY-MM-DD, inclusive"},
	"created_after":   map[string]any{"type": "string", "description": "YYYY-MM-DD, inclusive"},
	"created_before":  map[string]any{"type": "string", "description": "YYYY-MM-DD, inclusive"},
	"min_size":        map[string]any{"type": "string", "description": "Minimum size, e.g. 1500, \"10 KB\", \"2MiB\""},
	"max_size":        map[string]any{"type": "string", "description": "Maximum size, same units as min_size"},
}

// organizeOptions are the arguments organize_plan and organize_run share.
func organizeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("source", mcp.Description("Directory to organize (absolute). Optional when the profile names one.")),
		mcp.WithString("destination", mcp.Description("Destination root. Defaults to the source directory.")),
		mcp.WithString("template", mcp.Description("Destination template, e.g. \"[group1]/[filename]\" or \"[type]/[YYYY]/[MM]/\". A trailing / keeps the file name.")),
		mcp.WithString("date_source", mcp.Description("Timestamp date references read"), mcp.Enum("modified", "created")),
		mcp.WithString("profile", mcp.Description("Path to a TOML, YAML or JSON profile. Explicit arguments override it.")),
		mcp.WithString("conflict_policy", mcp.Description("What to do when the destination exists"), mcp.Enum("skip", "overwrite", "rename")),
		mcp.WithString("mode", mcp.Description("Move or copy files"), mcp.Enum("move", "copy")),
		mcp.WithBoolean("recursive", mcp.Description("Descend into subdirectories")),
		mcp.WithBoolean("include_hidden", mcp.Description("Consider dotfiles")),
		mcp.WithBoolean("case_insensitive", mcp.Description("Name filters ignore case")),
		mcp.WithObject("filters", mcp.Description("All filters must match"), mcp.Properties(filterProperties)),
	}
}

var planToolDef = mcp.NewTool("organize_plan", append([]mcp.ToolOption{
	mcp.WithDescription("Preview an organization run. Scans the source, applies filters and the template, and returns every proposed move with its conflict disposition. Never touches the filesystem."),
	mcp.WithReadOnlyHintAnnotation(true),
}, organizeOptions()...)...)

var runToolDef = mcp.NewTool("organize_run", append([]mcp.ToolOption{
	mcp.WithDescription("Plan and execute an organization run, recording every applied operation in the session history so it can be undone."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("error_policy", mcp.Description("continue past failed entries, or abort at the first one"), mcp.Enum("continue", "abort")),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
}, organizeOptions()...)...)

var undoToolDef = mcp.NewTool("history_undo",
	mcp.WithDescription("Undo the most recent operation, or with batch the whole most recent run."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
	mcp.WithBoolean("batch", mcp.Description("Undo every operation of the most recent run")),
)

var redoToolDef = mcp.NewTool("history_redo",
	mcp.WithDescription("Re-apply the most recently undone operation."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
)

var listToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List the undoable and redoable operations of a session, or with sessions the stored sessions."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
	mcp.WithNumber("limit", mcp.Description("Return at most this many undoable records, newest kept")),
	mcp.WithBoolean("sessions", mcp.Description("List sessions instead of records")),
)

var clearToolDef = mcp.NewTool("history_clear",
	mcp.WithDescription("Forget every recorded operation of a session. Files are not moved back."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
	mcp.WithBoolean("forget", mcp.Description("Also drop the session from the session list")),
)

var exportToolDef = mcp.NewTool("history_export",
	mcp.WithDescription("Write a session's history to a JSONL file in ~/.chrono/exports or an allowed path."),
	mcp.WithString("session", mcp.Description("History session (default: \"default\")")),
	mcp.WithString("path", mcp.Description("Target .jsonl file (default: ~/.chrono/exports/<session>-<timestamp>.jsonl)")),
)

var importToolDef = mcp.NewTool("history_import",
	mcp.WithDescription("Load a session's history from a JSONL export."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Source .jsonl file")),
	mcp.WithString("session", mcp.Description("Target session (default: the session named in the file)")),
	mcp.WithString("mode", mcp.Description("error refuses a session with history; replace overwrites it"), mcp.Enum("error", "replace")),
)
