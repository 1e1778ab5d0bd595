// Package mcp exposes chrono operations as MCP tools over stdio.
package mcp

import (
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/chrono/internal/config"
	"github.com/hpungsan/chrono/internal/ops"
)

// Tool types. disabled_types in the config switches off every tool of a type.
const (
	TypeOrganize = "organize"
	TypeHistory  = "history"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{TypeOrganize, TypeHistory}

// tool pairs a definition with its type and handler.
type tool struct {
	typ     string
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// registry lists every tool in registration order.
var registry = []tool{
	{TypeOrganize, planToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlan }},
	{TypeOrganize, runToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleRun }},
	{TypeHistory, undoToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleUndo }},
	{TypeHistory, redoToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleRedo }},
	{TypeHistory, listToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleList }},
	{TypeHistory, clearToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleClear }},
	{TypeHistory, exportToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport }},
	{TypeHistory, importToolDef, func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport }},
}

func lookup(name string) (tool, bool) {
	for _, t := range registry {
		if t.def.Name == name {
			return t, true
		}
	}
	return tool{}, false
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(registry))
	for _, t := range registry {
		names = append(names, t.def.Name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns the names that are not tools.
func ValidateDisabledTools(names []string) []string {
	unknown := []string{}
	for _, name := range names {
		if _, ok := lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns the names that are not tool types.
func ValidateDisabledTypes(names []string) []string {
	unknown := []string{}
	for _, name := range names {
		if !slices.Contains(KnownTypes, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the type of a registered tool, or "".
func GetTypeForTool(name string) string {
	t, _ := lookup(name)
	return t.typ
}

// enabled reports whether cfg leaves t switched on.
func enabled(t tool, cfg *config.Config) bool {
	if cfg == nil {
		return true
	}
	return !slices.Contains(cfg.DisabledTypes, t.typ) && !slices.Contains(cfg.DisabledTools, t.def.Name)
}

// NewServer creates an MCP server with every enabled chrono tool registered.
func NewServer(rt *ops.Runtime, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chrono",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(rt)
	for _, t := range registry {
		if enabled(t, h.rt.Config) {
			s.AddTool(t.def, t.handler(h))
		}
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(rt *ops.Runtime, version string) error {
	return server.ServeStdio(NewServer(rt, version))
}
