// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes vidnotes tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/noteservice"
	"github.com/starford/vidnotes/internal/videoid"
)

const backupFormatURI = "vidnotes://backup-format"

// Server wraps the MCP server with vidnotes tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all vidnotes tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"vidnotes",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_videos",
		mcp.WithDescription("List videos that have notes, most recently changed first. "+
			"With a query, only videos whose title or notes contain it are returned."),
		mcp.WithString("query", mcp.Description("Optional case-insensitive search term")),
	), s.listVideos)

	s.mcp.AddTool(mcp.NewTool("get_notes",
		mcp.WithDescription("Get the notes of one video sorted by timestamp."),
		mcp.WithString("video_id", mcp.Required(), mcp.Description("Video id or watch/shorts URL")),
	), s.getNotes)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Add a note at a position in a video."),
		mcp.WithString("video_id", mcp.Required(), mcp.Description("Video id or watch/shorts URL")),
		mcp.WithNumber("timestamp", mcp.Required(), mcp.Description("Seconds into the video")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
		mcp.WithString("title", mcp.Description("Optional video title")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("edit_note",
		mcp.WithDescription("Replace the text of an existing note."),
		mcp.WithString("video_id", mcp.Required(), mcp.Description("Video id or watch/shorts URL")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Id of the note to edit")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New note text")),
	), s.editNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. Deleting a missing note succeeds."),
		mcp.WithString("video_id", mcp.Required(), mcp.Description("Video id or watch/shorts URL")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Id of the note to delete")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("export_backup",
		mcp.WithDescription("Export every note and metadata record as a backup document."),
	), s.exportBackup)

	s.mcp.AddTool(mcp.NewTool("import_backup",
		mcp.WithDescription("Merge a backup document into the store. "+
			"Read the "+backupFormatURI+" resource for the expected structure."),
		mcp.WithString("json", mcp.Required(), mcp.Description("Backup document as a JSON string")),
	), s.importBackup)

	// Resource: backup format contract.
	s.mcp.AddResource(
		mcp.NewResource(backupFormatURI, "Backup Format",
			mcp.WithResourceDescription("Structure and merge rules of vidnotes backup documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readBackupFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func requireVideoID(req mcp.CallToolRequest) (string, error) {
	raw, err := req.RequireString("video_id")
	if err != nil {
		return "", err
	}
	return videoid.Parse(raw)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrOperationFailed) {
		return mcp.NewToolResultError("storage unavailable: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listVideos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := ""
	if q, err := req.RequireString("query"); err == nil {
		query = q
	}
	matches := s.svc.ListVideos(ctx, query)
	if len(matches) == 0 {
		return mcp.NewToolResultText("no videos found"), nil
	}
	return jsonResult(matches)
}

func (s *Server) getNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireVideoID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.NotesFor(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(notes)
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireVideoID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ts, err := req.RequireFloat("timestamp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := ""
	if v, err := req.RequireString("title"); err == nil {
		title = v
	}

	note, err := s.svc.CreateNote(ctx, id, ts, text, title)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note)
}

func (s *Server) editNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireVideoID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, err := s.svc.EditNote(ctx, id, noteID, text, "")
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireVideoID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteNote(ctx, id, noteID); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", noteID)), nil
}

func (s *Server) exportBackup(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Export(ctx))
}

func (s *Server) importBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("json")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Import(ctx, []byte(doc))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported: %d new notes (%d notes across %d videos)",
		res.Added, res.Notes, res.Videos)), nil
}

func (s *Server) readBackupFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      backupFormatURI,
			MIMEType: "text/markdown",
			Text:     BackupFormatContract,
		},
	}, nil
}
