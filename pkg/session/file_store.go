package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	fileExt       = ".json"
	tmpSuffix     = ".tmp"
	corruptMarker = ".corrupt-"
)

// FileStore keeps one pretty-printed JSON document per session in a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("sessions directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the sessions directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the canonical file for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *FileStore) Load(ctx context.Context, name string) (Transcript, error) {
	if name == "" {
		return NewTranscript(""), nil
	}
	if err := ValidateName(name); err != nil {
		return Transcript{}, err
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	path := s.Path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTranscript(name), nil
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to read session %s: %w", path, err)
	}
	return decodeTranscript(name, path, data)
}

func (s *FileStore) Persist(ctx context.Context, name string, t Transcript) error {
	if name == "" {
		return nil
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	data, err := encodeTranscript(name, t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if err := s.writeAtomic(name, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, s.Path(name), err)
	}
	return nil
}

// writeAtomic writes to a temp file in the same directory, syncs it, renames
// it over the canonical file and syncs the directory.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return err
	}
	committed = true

	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the rename already happened.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := sessionNameFromFile(entry)
		if !ok {
			continue
		}

		info := Info{Name: name}
		if fi, err := entry.Info(); err == nil {
			info.SizeBytes = fi.Size()
			info.UpdatedAt = fi.ModTime().UTC()
		}

		t, err := s.Load(ctx, name)
		if err != nil {
			info.Corrupt = true
			info.Err = err
			infos = append(infos, info)
			continue
		}
		mtime := info.UpdatedAt
		info = infoFor(t, info.SizeBytes)
		info.Name = name
		if info.UpdatedAt.IsZero() {
			info.UpdatedAt = mtime
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func sessionNameFromFile(entry os.DirEntry) (string, bool) {
	if entry.IsDir() {
		return "", false
	}
	file := entry.Name()
	if !strings.HasSuffix(file, fileExt) || strings.HasPrefix(file, ".") {
		return "", false
	}
	name := strings.TrimSuffix(file, fileExt)
	if ValidateName(name) != nil {
		return "", false
	}
	return name, true
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", name, err)
	}
	return nil
}

// Quarantine moves the record for name aside as <name>.json.corrupt-<unix>
// and returns the new path. It is only used by explicit repair commands.
func (s *FileStore) Quarantine(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	src := s.Path(name)
	dst := fmt.Sprintf("%s%s%d", src, corruptMarker, s.now().Unix())
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to quarantine session %s: %w", name, err)
	}
	return dst, syncDir(s.dir)
}

func (s *FileStore) Close() error {
	return nil
}
