package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// overlayWorkingTree copies the uncommitted state of a local repository over
// a fresh clone of it: modified and untracked (not ignored) files are copied,
// tracked files deleted from the working tree are removed. It returns the
// number of paths touched.
func overlayWorkingTree(ctx context.Context, source, dest string) (int, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", source, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to list working tree of %s: %w: %s", source, err, strings.TrimSpace(stderr.String()))
	}

	touched := 0
	for _, rel := range strings.Split(string(out), "\x00") {
		if rel == "" {
			continue
		}
		src := filepath.Join(source, filepath.FromSlash(rel))
		dst := filepath.Join(dest, filepath.FromSlash(rel))

		info, err := os.Lstat(src)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := os.Remove(dst); err == nil {
				touched++
			} else if !errors.Is(err, fs.ErrNotExist) {
				return touched, fmt.Errorf("failed to remove %s: %w", rel, err)
			}
			continue
		case err != nil:
			return touched, err
		case info.IsDir():
			// submodule checkout
			continue
		}

		changed, err := copyIfDifferent(src, dst, info)
		if err != nil {
			return touched, fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

func copyIfDifferent(src, dst string, info fs.FileInfo) (bool, error) {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return false, err
		}
		if current, err := os.Readlink(dst); err == nil && current == target {
			return false, nil
		}
		_ = os.Remove(dst)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return false, err
		}
		return true, os.Symlink(target, dst)
	}

	want, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	if have, err := os.ReadFile(dst); err == nil && bytes.Equal(have, want) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	_ = os.Remove(dst)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(f, bytes.NewReader(want)); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
