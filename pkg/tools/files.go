package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FilesServer is the server exposing workspace file tools.
const FilesServer = "files"

// RegisterFiles adds the file tools, confined to root, under FilesServer.
func RegisterFiles(r *Registry, root string) {
	r.Register(FilesServer, &ListFilesTool{root: root})
	r.Register(FilesServer, &ReadFileTool{root: root})
	r.Register(FilesServer, &WriteFileTool{root: root})
}

// resolve maps a tool-supplied path into root, refusing escapes.
func resolve(root string, input map[string]any) (string, error) {
	path, ok := input["path"].(string)
	if !ok {
		return "", fmt.Errorf("argument 'path' is required and must be a string")
	}
	full := filepath.Join(root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return full, nil
}

func pathSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// --- List Files Tool ---

type ListFilesTool struct{ root string }

func (t *ListFilesTool) Name() string { return "ls" }

func (t *ListFilesTool) Description() string {
	return "List files in a workspace directory. Arguments: path (string)."
}

func (t *ListFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": pathSchema("The directory path to list.")},
		"required":   []string{"path"},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, env Env, input map[string]any) (any, error) {
	path, err := resolve(t.root, input)
	if err != nil {
		return nil, err
	}

	slog.Info("Listing files", "agent", env.Agent, "path", path)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		names = append(names, e.Name()+suffix)
	}
	return names, nil
}

// --- Read File Tool ---

type ReadFileTool struct{ root string }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a workspace file. Arguments: path (string)."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": pathSchema("The file path to read.")},
		"required":   []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, env Env, input map[string]any) (any, error) {
	path, err := resolve(t.root, input)
	if err != nil {
		return nil, err
	}

	slog.Info("Reading file", "agent", env.Agent, "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// --- Write File Tool ---

type WriteFileTool struct{ root string }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a workspace file. Arguments: path (string), content (string)."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    pathSchema("The file path to write to."),
			"content": map[string]any{"type": "string", "description": "The content to write."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, env Env, input map[string]any) (any, error) {
	path, err := resolve(t.root, input)
	if err != nil {
		return nil, err
	}
	content, ok := input["content"].(string)
	if !ok {
		return nil, fmt.Errorf("argument 'content' is required and must be a string")
	}

	slog.Info("Writing file", "agent", env.Agent, "path", path, "size", len(content))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "success", nil
}
