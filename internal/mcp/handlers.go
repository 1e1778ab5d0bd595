package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/chrono/internal/config"
	"github.com/hpungsan/chrono/internal/engine"
	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/ops"
	"github.com/hpungsan/chrono/internal/profile"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	rt *ops.Runtime
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rt *ops.Runtime) *Handlers {
	if rt.Config == nil {
		rt.Config = config.DefaultConfig()
	}
	return &Handlers{rt: rt}
}

// Request types for each tool

// OrganizeRequest represents the arguments for organize_plan and organize_run.
type OrganizeRequest struct {
	Source          string          `json:"source,omitempty"`
	Destination     string          `json:"destination,omitempty"`
	Template        string          `json:"template,omitempty"`
	DateSource      string          `json:"date_source,omitempty"`
	Profile         string          `json:"profile,omitempty"`
	ConflictPolicy  string          `json:"conflict_policy,omitempty"`
	Mode            string          `json:"mode,omitempty"`
	ErrorPolicy     string          `json:"error_policy,omitempty"`
	Session         string          `json:"session,omitempty"`
	Recursive       bool            `json:"recursive,omitempty"`
	IncludeHidden   bool            `json:"include_hidden,omitempty"`
	CaseInsensitive bool            `json:"case_insensitive,omitempty"`
	Filters         profile.Filters `json:"filters,omitempty"`
}

// UndoRequest represents the arguments for history_undo.
type UndoRequest struct {
	Session string `json:"session,omitempty"`
	Batch   bool   `json:"batch,omitempty"`
}

// RedoRequest represents the arguments for history_redo.
type RedoRequest struct {
	Session string `json:"session,omitempty"`
}

// ListRequest represents the arguments for history_list.
type ListRequest struct {
	Session  string `json:"session,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Sessions bool   `json:"sessions,omitempty"`
}

// ClearRequest represents the arguments for history_clear.
type ClearRequest struct {
	Session string `json:"session,omitempty"`
	Forget  bool   `json:"forget,omitempty"`
}

// ExportRequest represents the arguments for history_export.
type ExportRequest struct {
	Session string `json:"session,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for history_import.
type ImportRequest struct {
	Path    string `json:"path"`
	Session string `json:"session,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

func (r OrganizeRequest) input(execute bool) ops.OrganizeInput {
	return ops.OrganizeInput{
		Source:          r.Source,
		Destination:     r.Destination,
		Template:        r.Template,
		DateSource:      r.DateSource,
		Filters:         r.Filters,
		Profile:         r.Profile,
		Policy:          r.ConflictPolicy,
		Mode:            r.Mode,
		ErrorPolicy:     r.ErrorPolicy,
		Session:         r.Session,
		Recursive:       r.Recursive,
		IncludeHidden:   r.IncludeHidden,
		CaseInsensitive: r.CaseInsensitive,
		Execute:         execute,
	}
}

// Handler implementations

// HandlePlan handles the organize_plan tool call.
func (h *Handlers) HandlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OrganizeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	in := input.input(false)
	in.Progress = progressFor(ctx, req)
	result, err := ops.Organize(ctx, h.rt, in)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRun handles the organize_run tool call.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OrganizeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	in := input.input(true)
	in.Progress = progressFor(ctx, req)
	result, err := ops.Organize(ctx, h.rt, in)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleUndo handles the history_undo tool call.
func (h *Handlers) HandleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UndoRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Undo(ctx, h.rt, ops.UndoInput{
		Session: input.Session,
		Batch:   input.Batch,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRedo handles the history_redo tool call.
func (h *Handlers) HandleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RedoRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Redo(ctx, h.rt, ops.RedoInput{Session: input.Session})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the history_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	if input.Sessions {
		result, err := ops.Sessions(ctx, h.rt)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := ops.History(ctx, h.rt, ops.HistoryInput{
		Session: input.Session,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleClear handles the history_clear tool call.
func (h *Handlers) HandleClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ClearHistory(ctx, h.rt, ops.ClearHistoryInput{
		Session: input.Session,
		Forget:  input.Forget,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the history_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ExportHistory(ctx, h.rt, ops.ExportInput{
		Session: input.Session,
		Path:    input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the history_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ImportHistory(ctx, h.rt, ops.ImportInput{
		Path:    input.Path,
		Session: input.Session,
		Mode:    ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// progressFor forwards engine progress as MCP progress notifications when the
// client asked for them with a progress token.
func progressFor(ctx context.Context, req mcp.CallToolRequest) engine.Progress {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken
	return engine.ProgressFunc(func(phase engine.Phase, current, total int, description string) {
		_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      current,
			"total":         total,
			"message":       string(phase) + ": " + description,
		})
	})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed; they may hold paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := cerrors.As(err); ok {
		msg := cErr.Message
		if cErr.Code == cerrors.ErrInternal {
			msg = "an internal error occurred"
		} else if error(cErr) != err {
			// Keep context added by wrapping.
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": msg,
			"status":  cErr.Status,
		}
		if cErr.Code != cerrors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    cerrors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
