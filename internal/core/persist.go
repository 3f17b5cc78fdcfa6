package core

// persist.go stores the dataset as a JSON file.
//
// File layout:
//
//	{
//	  "metadata": {"saved_at": "...", "total_records": 3, "version": "1.0"},
//	  "data": [ {...}, {...}, {...} ]
//	}
//
// Writes go to a temp file in the target directory and are renamed into
// place. With backup enabled the previous file is first copied to
// <backup dir>/data_backup_YYYYMMDD_HHMMSS.json.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileFormatVersion is written into every saved file.
const FileFormatVersion = "1.0"

const backupTimeLayout = "20060102_150405"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type fileMetadata struct {
	SavedAt      time.Time `json:"saved_at"`
	TotalRecords int       `json:"total_records"`
	Version      string    `json:"version"`
}

type fileEnvelope struct {
	Metadata fileMetadata      `json:"metadata"`
	Data     []json.RawMessage `json:"data"`
}

// SaveOptions controls backup behavior for Save.
type SaveOptions struct {
	Backup    bool
	BackupDir string
}

// SaveResult reports what Save wrote.
type SaveResult struct {
	Path       string    `json:"path"`
	BackupPath string    `json:"backup_path,omitempty"`
	Records    int       `json:"records"`
	SavedAt    time.Time `json:"saved_at"`
}

// LoadResult reports what Load read.
type LoadResult struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
	Skipped []int  `json:"skipped,omitempty"`
}

// Save writes the dataset to path.
func (d *Dataset) Save(path string, opts SaveOptions) (SaveResult, error) {
	recs := d.All()
	now := d.now()

	data, err := encodeRecords(recs, now)
	if err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{Path: path, Records: len(recs), SavedAt: now}

	if opts.Backup {
		bp, err := backupFile(path, opts.BackupDir, now)
		if err != nil {
			return SaveResult{}, err
		}
		res.BackupPath = bp
	}

	if err := writeFileAtomic(path, data); err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

// Load replaces the dataset with the contents of path. A missing file
// yields an empty dataset. Entries that fail to decode are skipped and
// their positions reported.
func (d *Dataset) Load(path string) (LoadResult, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		d.swap(nil)
		return LoadResult{Path: path}, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	recs, skipped, err := DecodeRecords(f)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load %s: %w", path, err)
	}

	now := d.now()
	for i := range recs {
		recs[i] = d.stamp(recs[i], now)
	}
	d.swap(recs)

	return LoadResult{Path: path, Records: len(recs), Skipped: skipped}, nil
}

// Export writes the dataset to dir/export_<timestamp>.json and returns the path.
func (d *Dataset) Export(dir string) (string, error) {
	now := d.now()
	data, err := encodeRecords(d.All(), now)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, "export_"+now.Format(backupTimeLayout)+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// DecodeRecords reads records from either the envelope format or a bare
// JSON array. Entries that are not objects of the record shape are skipped.
func DecodeRecords(r io.Reader) ([]TestData, []int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read records: %w", err)
	}
	// Files saved by Windows editors start with a UTF-8 BOM.
	raw = bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))
	if len(raw) == 0 {
		return nil, nil, errors.New("empty file")
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, fmt.Errorf("invalid json: %w", err)
		}
	} else {
		var env fileEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("invalid json: %w", err)
		}
		items = env.Data
	}

	recs := make([]TestData, 0, len(items))
	var skipped []int
	for i, item := range items {
		var rec TestData
		if err := json.Unmarshal(item, &rec); err != nil {
			skipped = append(skipped, i)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped, nil
}

func encodeRecords(recs []TestData, now time.Time) ([]byte, error) {
	env := struct {
		Metadata fileMetadata `json:"metadata"`
		Data     []TestData   `json:"data"`
	}{
		Metadata: fileMetadata{SavedAt: now, TotalRecords: len(recs), Version: FileFormatVersion},
		Data:     recs,
	}
	if env.Data == nil {
		env.Data = []TestData{}
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return data, nil
}

// backupFile copies path into dir. It returns "" when path does not exist.
func backupFile(path, dir string, now time.Time) (string, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read for backup: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dst := filepath.Join(dir, "data_backup_"+now.Format(backupTimeLayout)+".json")
	if err := os.WriteFile(dst, src, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dataset-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
