// Package archive packs the daemon's data (script store, failure reports,
// script sources, configuration) into one .tar.gz with a manifest of
// checksums, and restores it.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Names of the entries inside an archive.
const (
	storeEntry    = "data/scripts.db"
	reportsEntry  = "data/reports.db"
	scriptsPrefix = "scripts"
	confPrefix    = "conf"
	manifestEntry = "manifest.json"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Program   string               `json:"program"`
	Timestamp string               `json:"timestamp"`
	Scripts   int                  `json:"scripts"`
	Snapshots int                  `json:"snapshots"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "store", "reports", "script", "conf"
}

// Params holds the inputs of CreateArchive. Empty fields are skipped.
type Params struct {
	StoreSnapshot     func(destPath string) error // Writes a consistent copy of the script store
	ReportsPath       string
	ReportsCheckpoint func() error // Flushes the WAL before the copy
	ScriptDir         string
	ConfPath          string
	Dir               string // Output directory
	Scripts           int    // For the manifest
	Snapshots         int
}

// CreateArchive writes an archive into params.Dir and returns its path.
func CreateArchive(params Params) (string, error) {
	if err := os.MkdirAll(params.Dir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", params.Dir, err)
	}

	now := time.Now()
	archivePath := filepath.Join(params.Dir, fmt.Sprintf("mudscript-%s.tar.gz", now.Format("20060102-150405")))

	tmpDir, err := os.MkdirTemp("", "mudscript-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := Manifest{
		Version:   1,
		Program:   "mudscript",
		Timestamp: now.UTC().Format(time.RFC3339),
		Scripts:   params.Scripts,
		Snapshots: params.Snapshots,
		Files:     make(map[string]FileEntry),
	}

	// Stage the databases first so the tar only reads stable copies.
	var storeStaged, reportsStaged string
	if params.StoreSnapshot != nil {
		storeStaged = filepath.Join(tmpDir, "scripts.db")
		if err := params.StoreSnapshot(storeStaged); err != nil {
			return "", fmt.Errorf("archive: store snapshot: %w", err)
		}
	}
	if params.ReportsPath != "" {
		if params.ReportsCheckpoint != nil {
			if err := params.ReportsCheckpoint(); err != nil {
				return "", fmt.Errorf("archive: reports checkpoint: %w", err)
			}
		}
		reportsStaged = filepath.Join(tmpDir, "reports.db")
		if err := copyFile(params.ReportsPath, reportsStaged); err != nil {
			return "", fmt.Errorf("archive: copy reports: %w", err)
		}
	}

	outFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	defer outFile.Close()
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	add := func(src, name, kind string) error {
		entry, err := addFileToTar(tw, src, name)
		if err != nil {
			return err
		}
		entry.Type = kind
		manifest.Files[name] = entry
		return nil
	}

	if storeStaged != "" {
		if err := add(storeStaged, storeEntry, "store"); err != nil {
			return "", err
		}
	}
	if reportsStaged != "" {
		if err := add(reportsStaged, reportsEntry, "reports"); err != nil {
			return "", err
		}
	}
	if params.ScriptDir != "" {
		if info, err := os.Stat(params.ScriptDir); err == nil && info.IsDir() {
			entries, err := addDirToTar(tw, params.ScriptDir, scriptsPrefix)
			if err != nil {
				return "", err
			}
			for k, v := range entries {
				v.Type = "script"
				manifest.Files[k] = v
			}
		}
	}
	if params.ConfPath != "" {
		if _, err := os.Stat(params.ConfPath); err == nil {
			if err := add(params.ConfPath, confPrefix+"/"+filepath.Base(params.ConfPath), "conf"); err != nil {
				return "", err
			}
		}
	}

	// The manifest goes last, once every checksum is known.
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestEntry,
		Size:    int64(len(manifestJSON)),
		Mode:    0644,
		ModTime: now,
	}); err != nil {
		return "", fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("archive: close gzip: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", archivePath, err)
	}
	return archivePath, nil
}

// addFileToTar adds a file under archName and computes its SHA-256 while
// writing it.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

func addDirToTar(tw *tar.Writer, srcDir, archPrefix string) (map[string]FileEntry, error) {
	entries := make(map[string]FileEntry)
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		archName := archPrefix + "/" + filepath.ToSlash(rel)
		entry, err := addFileToTar(tw, path, archName)
		if err != nil {
			return err
		}
		entries[archName] = entry
		return nil
	})
	return entries, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
