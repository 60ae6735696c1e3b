package ops

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// FSOps returns the filesystem pack. Every entry consults the capability
// gate before touching the disk; denial surfaces ErrCapability.
func FSOps() []Op {
	return []Op{
		NewHandler("read_file", "read a file under the I/O root", opReadFile),
		NewHandler("write_file", "write or append a file under the I/O root", opWriteFile),
		NewHandler("list_files", "list directory entries, optionally filtered", opListFiles),
		NewHandler("file_exists", "check whether a path exists", opFileExists),
		NewHandler("glob", "find files matching a pattern", opGlob),
		NewHandler("file_info", "detailed file metadata", opFileInfo),
		NewHandler("mkdir", "create a directory", opMkdir),
		NewHandler("copy_file", "copy a file or directory", opCopyFile),
		NewHandler("move_file", "move or rename a file or directory", opMoveFile),
		NewHandler("delete_file", "delete a file or directory", opDeleteFile),
		NewHandler("path_join", "join path components", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			parts, _ := listParam(a, "parts")
			strs := make([]string, len(parts))
			for i, p := range parts {
				strs[i] = stringify(p)
			}
			return map[string]any{"path": filepath.Join(strs...)}, nil
		}),
		NewHandler("path_split", "split a path into components", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			path := stringParam(a, "path", "")
			dir, base := filepath.Split(path)
			dir = strings.TrimSuffix(dir, string(filepath.Separator))
			ext := filepath.Ext(base)
			parts := []any{}
			if path != "" {
				for _, p := range strings.Split(path, string(filepath.Separator)) {
					parts = append(parts, p)
				}
			}
			return map[string]any{
				"dir":   dir,
				"base":  base,
				"name":  strings.TrimSuffix(base, ext),
				"ext":   ext,
				"parts": parts,
			}, nil
		}),
		NewHandler("path_basename", "final component of a path", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			path, ok := a["path"].(string)
			if !ok {
				if a["path"] == nil {
					path = ""
				} else {
					return nil, schema.NewError(schema.ErrOp, "path_basename requires 'path' string")
				}
			}
			if path == "" {
				return "", nil
			}
			return filepath.Base(path), nil
		}),
	}
}

func opReadFile(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path, ok := a["path"].(string)
	if !ok || path == "" {
		return nil, schema.NewError(schema.ErrOp, "read_file requires 'path'")
	}
	abs, err := rt.Gate.AllowRead(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "read_file: %v", err).WithCause(err)
	}
	return map[string]any{"text": string(data)}, nil
}

func opWriteFile(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path, ok := a["path"].(string)
	if !ok || path == "" {
		return nil, schema.NewError(schema.ErrOp, "write_file requires 'path'")
	}
	abs, err := rt.Gate.AllowWrite(path)
	if err != nil {
		return nil, err
	}
	text := stringify(a["text"])

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "write_file: %v", err).WithCause(err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if boolParam(a, "append", false) {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(abs, flags, 0o644)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "write_file: %v", err).WithCause(err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "write_file: %v", err).WithCause(err)
	}
	return map[string]any{"ok": true}, nil
}

func opListFiles(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path := stringParam(a, "path", ".")
	pattern := stringParam(a, "pattern", "*")
	recursive := boolParam(a, "recursive", false)
	fileType := stringParam(a, "type", "all")

	root, err := rt.Gate.AllowRead(path)
	if err != nil {
		return nil, err
	}

	matches, err := globUnder(root, pattern, recursive)
	if err != nil {
		return map[string]any{"files": []any{}, "count": float64(0), "error": err.Error()}, nil
	}

	files := []any{}
	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr != nil {
			continue
		}
		switch fileType {
		case "file":
			if !info.Mode().IsRegular() {
				continue
			}
		case "dir":
			if !info.IsDir() {
				continue
			}
		}
		rel, relErr := filepath.Rel(root, m)
		if relErr != nil {
			rel = m
		}
		files = append(files, rel)
	}
	return map[string]any{"files": files, "count": float64(len(files))}, nil
}

func opFileExists(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path := stringParam(a, "path", "")
	abs, err := rt.Gate.AllowRead(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return map[string]any{"exists": false, "path": path}, nil
	}
	kind := "other"
	if info.Mode().IsRegular() {
		kind = "file"
	} else if info.IsDir() {
		kind = "dir"
	}
	return map[string]any{"exists": true, "type": kind, "path": path}, nil
}

func opGlob(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	pattern := stringParam(a, "pattern", "*")
	root := stringParam(a, "root", ".")
	recursive := boolParam(a, "recursive", strings.Contains(pattern, "**"))

	absRoot, err := rt.Gate.AllowRead(root)
	if err != nil {
		return nil, err
	}

	matches, globErr := globUnder(absRoot, pattern, recursive)
	if globErr != nil {
		return map[string]any{"matches": []any{}, "count": float64(0), "error": globErr.Error()}, nil
	}
	out := []any{}
	for _, m := range matches {
		rel, relErr := filepath.Rel(absRoot, m)
		if relErr != nil {
			rel = m
		}
		out = append(out, rel)
	}
	return map[string]any{"matches": out, "count": float64(len(out))}, nil
}

// globUnder matches a pattern beneath root. Recursive mode walks the tree
// and matches the pattern's final component against entry names.
func globUnder(root, pattern string, recursive bool) ([]string, error) {
	if !recursive {
		return filepath.Glob(filepath.Join(root, pattern))
	}
	namePattern := pattern
	if idx := strings.LastIndex(namePattern, "/"); idx != -1 {
		namePattern = namePattern[idx+1:]
	}
	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		ok, matchErr := filepath.Match(namePattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	return matches, err
}

func opFileInfo(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path := stringParam(a, "path", "")
	abs, err := rt.Gate.AllowRead(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return map[string]any{"exists": false, "path": path}, nil
	}
	return map[string]any{
		"exists":    true,
		"path":      path,
		"size":      float64(info.Size()),
		"modified":  float64(info.ModTime().Unix()),
		"is_file":   info.Mode().IsRegular(),
		"is_dir":    info.IsDir(),
		"extension": filepath.Ext(path),
	}, nil
}

func opMkdir(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path := stringParam(a, "path", "")
	abs, err := rt.Gate.AllowWrite(path)
	if err != nil {
		return nil, err
	}
	parents := boolParam(a, "parents", true)
	existOK := boolParam(a, "exist_ok", true)

	if _, statErr := os.Stat(abs); statErr == nil {
		if existOK {
			return map[string]any{"created": false, "path": path, "existed": true}, nil
		}
		return map[string]any{"created": false, "path": path, "error": "directory already exists"}, nil
	}

	var mkErr error
	if parents {
		mkErr = os.MkdirAll(abs, 0o755)
	} else {
		mkErr = os.Mkdir(abs, 0o755)
	}
	if mkErr != nil {
		return map[string]any{"created": false, "path": path, "error": mkErr.Error()}, nil
	}
	return map[string]any{"created": true, "path": path}, nil
}

func opCopyFile(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	source := stringParam(a, "source", "")
	destination := stringParam(a, "destination", "")
	overwrite := boolParam(a, "overwrite", false)

	src, err := rt.Gate.AllowRead(source)
	if err != nil {
		return nil, err
	}
	dst, err := rt.Gate.AllowWrite(destination)
	if err != nil {
		return nil, err
	}

	srcInfo, statErr := os.Stat(src)
	if statErr != nil {
		return map[string]any{"copied": false, "error": "source does not exist"}, nil
	}
	if _, statErr := os.Stat(dst); statErr == nil && !overwrite {
		return map[string]any{"copied": false, "error": "destination already exists"}, nil
	}

	var copyErr error
	if srcInfo.IsDir() {
		copyErr = copyDir(src, dst)
	} else {
		copyErr = copyFile(src, dst, srcInfo.Mode())
	}
	if copyErr != nil {
		return map[string]any{"copied": false, "error": copyErr.Error()}, nil
	}
	return map[string]any{"copied": true, "source": source, "destination": destination}, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode())
	})
}

func opMoveFile(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	source := stringParam(a, "source", "")
	destination := stringParam(a, "destination", "")
	overwrite := boolParam(a, "overwrite", false)

	src, err := rt.Gate.AllowWrite(source)
	if err != nil {
		return nil, err
	}
	dst, err := rt.Gate.AllowWrite(destination)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(src); statErr != nil {
		return map[string]any{"moved": false, "error": "source does not exist"}, nil
	}
	if _, statErr := os.Stat(dst); statErr == nil && !overwrite {
		return map[string]any{"moved": false, "error": "destination already exists"}, nil
	}
	if renameErr := os.Rename(src, dst); renameErr != nil {
		return map[string]any{"moved": false, "error": renameErr.Error()}, nil
	}
	return map[string]any{"moved": true, "source": source, "destination": destination}, nil
}

func opDeleteFile(_ context.Context, a map[string]any, rt *Runtime) (any, error) {
	path := stringParam(a, "path", "")
	recursive := boolParam(a, "recursive", false)

	abs, err := rt.Gate.AllowWrite(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return map[string]any{"deleted": false, "error": "path does not exist"}, nil
	}

	var rmErr error
	if info.IsDir() && recursive {
		rmErr = os.RemoveAll(abs)
	} else {
		rmErr = os.Remove(abs)
	}
	if rmErr != nil {
		return map[string]any{"deleted": false, "path": path, "error": rmErr.Error()}, nil
	}
	return map[string]any{"deleted": true, "path": path}, nil
}
