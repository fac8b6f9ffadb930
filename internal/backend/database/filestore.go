package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultFileListLimit = 100

// FileStore keeps every record in a single JSON array file. Each append reads
// the whole file and rewrites it through a temporary file and rename, so a
// crash never leaves a half written array. Concurrent appends from several
// processes are not serialized; the last rename wins.
type FileStore struct {
	path      string
	listLimit int
	opts      Options
}

func NewFileStore(connectionString string, opts Options) (*FileStore, error) {
	path := strings.TrimPrefix(connectionString, "file://")
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file storage requires a path")
	}

	return &FileStore{
		path:      path,
		listLimit: opts.listLimit(defaultFileListLimit),
		opts:      opts,
	}, nil
}

func (s *FileStore) Kind() string {
	return KindFile
}

// EnsureSchema creates the parent directory and an empty array file when none exists.
func (s *FileStore) EnsureSchema(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return unavailable("ensure schema", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return unavailable("ensure schema", err)
	}
	if err := s.writeAll(nil); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func (s *FileStore) Append(ctx context.Context, in ScanRecordInput) (*ScanRecord, error) {
	const op = "append"
	if err := validateInput(op, &in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	records, err := s.readAll()
	if err != nil {
		return nil, unavailable(op, err)
	}

	in.ClientID = ""
	record := &ScanRecord{
		ID:              strconv.Itoa(nextSequentialID(records)),
		ReceivedAt:      s.opts.now(),
		ScanRecordInput: in,
	}
	records = append(records, record)

	if err := s.writeAll(records); err != nil {
		return nil, unavailable(op, err)
	}
	return record, nil
}

func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]*ScanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	records, err := s.readAll()
	if err != nil {
		return nil, unavailable("list", err)
	}

	records = newestFirst(records)
	if limit = clampLimit(limit, s.listLimit); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readAll() ([]*ScanRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []*ScanRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return records, nil
}

func (s *FileStore) writeAll(records []*ScanRecord) error {
	if records == nil {
		records = []*ScanRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// nextSequentialID is one more than the largest numeric id already stored.
func nextSequentialID(records []*ScanRecord) int {
	highest := 0
	for _, record := range records {
		if id, err := strconv.Atoi(record.ID); err == nil && id > highest {
			highest = id
		}
	}
	return highest + 1
}
