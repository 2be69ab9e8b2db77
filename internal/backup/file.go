package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileRemote keeps backups in a local directory. Object ids are file names.
type FileRemote struct {
	dir string
}

func NewFileRemote(dir string) (*FileRemote, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backup dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir %s: %w", dir, err)
	}
	return &FileRemote{dir: dir}, nil
}

func (r *FileRemote) Name() string { return "file" }

func (r *FileRemote) Find(_ context.Context, name string) (string, error) {
	name = cleanName(name)
	if _, err := os.Stat(filepath.Join(r.dir, name)); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// Upload copies path into the directory through a temp file and rename.
func (r *FileRemote) Upload(ctx context.Context, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := copyCtx(ctx, tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(r.dir, cleanName(name)))
}

func (r *FileRemote) Download(ctx context.Context, id, dest string) error {
	src, err := os.Open(filepath.Join(r.dir, cleanName(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	defer src.Close()
	return writeFile(ctx, dest, src)
}

func cleanName(name string) string {
	return strings.ReplaceAll(filepath.Base(filepath.Clean("/"+name)), "..", "__")
}

// writeFile streams r into dest in fixed-size chunks.
func writeFile(ctx context.Context, dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := copyCtx(ctx, f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

const chunkSize = 4 << 20

func copyCtx(ctx context.Context, w io.Writer, r io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
