package builtin

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/wilhg/claw/pkg/skill"
)

// MaxFileBytes caps what file_read returns.
const MaxFileBytes = 64 << 10

var errInvalidPath = errors.New("invalid path")

// Files returns the "files" skill reading from fsys. Paths are relative,
// slash separated and may not escape the sandbox.
func Files(fsys fs.FS) *skill.FuncSkill {
	return skill.NewFuncSkill("files", "Read-only access to the workspace files").
		Add(skill.Tool{
			Name:        "file_read",
			Description: "Reads a text file from the workspace",
			Parameters:  skill.Object(map[string]*skill.Schema{"path": skill.String("relative file path")}, "path"),
		}, func(_ context.Context, args map[string]any) (string, error) {
			p, err := sandboxPath(fsys, stringArg(args, "path"))
			if err != nil {
				return "", err
			}
			b, err := fs.ReadFile(fsys, p)
			if err != nil {
				return "", err
			}
			if len(b) > MaxFileBytes {
				return string(b[:MaxFileBytes]) + "\n[truncated]", nil
			}
			return string(b), nil
		}).
		Add(skill.Tool{
			Name:        "file_list",
			Description: "Lists a workspace directory",
			Parameters:  skill.Object(map[string]*skill.Schema{"path": skill.String("relative directory path, . for the root")}),
		}, func(_ context.Context, args map[string]any) (string, error) {
			p := stringArg(args, "path")
			if p == "" {
				p = "."
			}
			p, err := sandboxPath(fsys, p)
			if err != nil {
				return "", err
			}
			entries, err := fs.ReadDir(fsys, p)
			if err != nil {
				return "", err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				n := e.Name()
				if e.IsDir() {
					n += "/"
				}
				names = append(names, n)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		})
}

func sandboxPath(fsys fs.FS, p string) (string, error) {
	if fsys == nil {
		return "", errors.New("no workspace configured")
	}
	if p == "" {
		return "", errors.New("path required")
	}
	if path.IsAbs(p) || path.Clean(p) != p || strings.Contains(p, "..") || !fs.ValidPath(p) {
		return "", errInvalidPath
	}
	return p, nil
}
