package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 10 * time.Second
	maxShellTimeout     = 10 * time.Minute
	defaultReadLimit    = 2000
)

// RegisterBuiltinTools adds the workspace tools (read_file, write_file,
// edit_file, shell, glob) to reg.
func RegisterBuiltinTools(reg *ToolRegistry, ws *Workspace) {
	reg.Register(readFileTool(ws))
	reg.Register(writeFileTool(ws))
	reg.Register(editFileTool(ws))
	reg.Register(shellTool(ws))
	reg.Register(globTool(ws))
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func readFileTool(ws *Workspace) Tool {
	return &FuncTool{
		ToolName:        "read_file",
		ToolDescription: "Read a file from the workspace. Returns line-numbered content.",
		Schema: objectSchema([]string{"file_path"}, map[string]any{
			"file_path": prop("string", "Path to the file, relative to the workspace or absolute."),
			"offset":    prop("integer", "1-based line number to start reading from."),
			"limit":     prop("integer", "Maximum number of lines to read. Default: 2000."),
		}),
		Fn: func(_ context.Context, args map[string]any) (ToolOutput, error) {
			path, _ := GetStringArg(args, "file_path")
			if path == "" {
				return Fail("file_path is required"), nil
			}
			offset, _ := GetIntArg(args, "offset")
			limit, ok := GetIntArg(args, "limit")
			if !ok || limit <= 0 {
				limit = defaultReadLimit
			}
			content, err := ws.ReadFile(path, offset, limit)
			if err != nil {
				return ToolOutput{}, err
			}
			return OK(content), nil
		},
	}
}

func writeFileTool(ws *Workspace) Tool {
	return &FuncTool{
		ToolName:        "write_file",
		ToolDescription: "Write content to a file, creating parent directories as needed.",
		Schema: objectSchema([]string{"file_path", "content"}, map[string]any{
			"file_path": prop("string", "Path to write to."),
			"content":   prop("string", "The full file content."),
		}),
		Fn: func(_ context.Context, args map[string]any) (ToolOutput, error) {
			path, _ := GetStringArg(args, "file_path")
			if path == "" {
				return Fail("file_path is required"), nil
			}
			content, ok := GetStringArg(args, "content")
			if !ok {
				return Fail("content is required"), nil
			}
			if err := ws.WriteFile(path, content); err != nil {
				return ToolOutput{}, err
			}
			return OK(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil
		},
	}
}

func editFileTool(ws *Workspace) Tool {
	return &FuncTool{
		ToolName:        "edit_file",
		ToolDescription: "Replace an exact string in a file. old_string must be unique unless replace_all is true.",
		Schema: objectSchema([]string{"file_path", "old_string", "new_string"}, map[string]any{
			"file_path":   prop("string", "Path to the file to edit."),
			"old_string":  prop("string", "Exact text to find."),
			"new_string":  prop("string", "Replacement text."),
			"replace_all": prop("boolean", "Replace every occurrence. Default: false."),
		}),
		Fn: func(_ context.Context, args map[string]any) (ToolOutput, error) {
			path, _ := GetStringArg(args, "file_path")
			oldString, _ := GetStringArg(args, "old_string")
			if path == "" || oldString == "" {
				return Fail("file_path and old_string are required"), nil
			}
			newString, _ := GetStringArg(args, "new_string")
			replaceAll, _ := GetBoolArg(args, "replace_all")

			content, err := ws.ReadRaw(path)
			if err != nil {
				return ToolOutput{}, err
			}
			count := strings.Count(content, oldString)
			switch {
			case count == 0:
				return Fail("old_string not found in %s", path), nil
			case count > 1 && !replaceAll:
				return Fail("old_string found %d times in %s; add context or set replace_all", count, path), nil
			}

			n := 1
			if replaceAll {
				n = -1
			}
			if err := ws.WriteFile(path, strings.Replace(content, oldString, newString, n)); err != nil {
				return ToolOutput{}, err
			}
			if !replaceAll {
				count = 1
			}
			return OK(fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path)), nil
		},
	}
}

func shellTool(ws *Workspace) Tool {
	return &FuncTool{
		ToolName:        "shell",
		ToolDescription: "Run a shell command in the workspace and return its output.",
		Schema: objectSchema([]string{"command"}, map[string]any{
			"command":    prop("string", "The command to run."),
			"timeout_ms": prop("integer", "Timeout in milliseconds. Default 10000, max 600000."),
		}),
		Fn: func(ctx context.Context, args map[string]any) (ToolOutput, error) {
			command, _ := GetStringArg(args, "command")
			if strings.TrimSpace(command) == "" {
				return Fail("command is required"), nil
			}
			timeout := defaultShellTimeout
			if ms, ok := GetIntArg(args, "timeout_ms"); ok && ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
			}
			if timeout > maxShellTimeout {
				timeout = maxShellTimeout
			}

			res, err := ws.Exec(ctx, command, timeout)
			if err != nil {
				return ToolOutput{}, err
			}
			out := res.Output()
			switch {
			case res.TimedOut:
				return Fail("command timed out after %s\n%s", timeout, out), nil
			case res.ExitCode != 0:
				return Fail("exit code %d\n%s", res.ExitCode, out), nil
			}
			return OK(out), nil
		},
	}
}

func globTool(ws *Workspace) Tool {
	return &FuncTool{
		ToolName:        "glob",
		ToolDescription: "List files matching a glob pattern (supports **).",
		Schema: objectSchema([]string{"pattern"}, map[string]any{
			"pattern": prop("string", "Pattern such as **/*.go."),
			"path":    prop("string", "Directory to search in. Defaults to the workspace root."),
		}),
		Fn: func(_ context.Context, args map[string]any) (ToolOutput, error) {
			pattern, _ := GetStringArg(args, "pattern")
			if pattern == "" {
				return Fail("pattern is required"), nil
			}
			dir, _ := GetStringArg(args, "path")
			matches, err := ws.Glob(pattern, dir)
			if err != nil {
				return ToolOutput{}, err
			}
			if len(matches) == 0 {
				return OK("no files matched"), nil
			}
			return OK(strings.Join(matches, "\n")), nil
		},
	}
}
