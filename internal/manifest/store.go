package manifest

import (
	"os"
	"path/filepath"

	"github.com/concordkv/concordkv/internal/errs"
)

// FileName is the manifest's canonical filename within data_dir.
const FileName = "MANIFEST"

// tmpFileName is the write-ahead rename target.
const tmpFileName = "MANIFEST.tmp"

// Store persists a Manifest to data_dir using the atomic write sequence:
// write MANIFEST.tmp, fsync, rename over MANIFEST, fsync the containing
// directory.
func Store(dataDir string, m Manifest) error {
	tmpPath := filepath.Join(dataDir, tmpFileName)
	finalPath := filepath.Join(dataDir, FileName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(tmpPath)
	}
	if _, err := f.Write(m.Encode()); err != nil {
		f.Close()
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(tmpPath)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(tmpPath)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(finalPath)
	}

	dir, err := os.Open(dataDir)
	if err != nil {
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(dataDir)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return errs.Wrap(errs.IO, "manifest.Store", err).WithPath(dataDir)
	}
	return nil
}

// Load reads and decodes data_dir's manifest. It returns a fresh, empty
// Manifest (next_file_id = 1) if no manifest file exists yet — open()
// treats a missing manifest as "initialize fresh", not an error.
func Load(dataDir string) (Manifest, error) {
	finalPath := filepath.Join(dataDir, FileName)
	data, err := os.ReadFile(finalPath)
	if os.IsNotExist(err) {
		return Manifest{NextFileID: 1}, nil
	}
	if err != nil {
		return Manifest{}, errs.Wrap(errs.IO, "manifest.Load", err).WithPath(finalPath)
	}
	m, err := Decode(data)
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}
