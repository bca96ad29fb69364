// SPDX-License-Identifier: MPL-2.0

package opfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opforge/opforge/internal/issue"
)

// CopyDir copies the whole directory of op from into the directory of op
// to. The target directory must not exist yet. File names are copied
// unchanged; see RenameFiles.
func (r *Repo) CopyDir(from, to string) error {
	src, err := r.Dir(from)
	if err != nil {
		return err
	}
	dst, err := r.Dir(to)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil {
		return issue.NewErrorContext().
			WithOperation("copy op").
			WithResource(to).
			WithCategory(issue.ErrConflict).
			Wrap(fs.ErrExist).
			BuildError()
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return issue.WrapWithContext(err, "copy op", to, issue.ErrIO)
	}

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
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
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
	if err != nil {
		return issue.WrapWithContext(err, "copy op", from+" -> "+to, issue.ErrIO)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// RenameFiles renames the source, metadata and doc files inside the
// directory of op to from oldName's base name to to's. Missing files are
// skipped; the source file must exist.
func (r *Repo) RenameFiles(oldName, to string) error {
	dir, err := r.Dir(to)
	if err != nil {
		return err
	}
	if oldName == to {
		return nil
	}

	for _, ext := range []string{SourceExt, MetaExt, DocExt} {
		oldPath := filepath.Join(dir, oldName+ext)
		newPath := filepath.Join(dir, to+ext)
		err := os.Rename(oldPath, newPath)
		if errors.Is(err, fs.ErrNotExist) && ext != SourceExt {
			continue
		}
		if err != nil {
			return issue.WrapWithContext(err, "rename op files", fmt.Sprintf("%s%s -> %s%s", oldName, ext, to, ext), issue.ErrIO)
		}
	}
	return nil
}

// RemoveDir deletes the directory of op name with everything in it.
func (r *Repo) RemoveDir(name string) error {
	dir, err := r.Dir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return issue.WrapWithContext(err, "remove op", name, issue.ErrIO)
	}
	return nil
}
