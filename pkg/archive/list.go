package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Info describes an archive found on disk.
type Info struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp string // From the manifest, or the file mod time
	Scripts   int
	Snapshots int
}

// ListArchives returns the archives in dir, newest first.
func ListArchives(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := ReadManifest(path); err == nil {
			info.Timestamp = m.Timestamp
			info.Scripts = m.Scripts
			info.Snapshots = m.Snapshots
		}
		archives = append(archives, info)
	}

	// RFC3339 in UTC sorts lexically
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp > archives[j].Timestamp
	})
	return archives, nil
}

// Prune deletes all but the keep newest archives of dir and returns how
// many were removed.
func Prune(dir string, keep int) (int, error) {
	archives, err := ListArchives(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := max(keep, 0); i < len(archives); i++ {
		if err := os.Remove(archives[i].Path); err != nil {
			return removed, fmt.Errorf("archive: remove %s: %w", archives[i].Filename, err)
		}
		removed++
	}
	return removed, nil
}

// ReadManifest returns the manifest of an archive.
func ReadManifest(archivePath string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == manifestEntry {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, err
			}
			return &m, nil
		}
	}
	return nil, fmt.Errorf("archive: %s not found in %s", manifestEntry, filepath.Base(archivePath))
}
