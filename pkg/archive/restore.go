package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RestoreParams holds the inputs of RestoreArchive. Entries with an empty
// destination are not restored.
type RestoreParams struct {
	ArchivePath string
	StoreDest   string
	ReportsDest string
	ScriptDest  string
	ConfDest    string

	// Stdin and Stdout ask what to do with a changed config file. With a
	// nil Stdin the current file is kept.
	Stdin  io.Reader
	Stdout io.Writer
}

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Manifest      *Manifest
	FilesRestored int
	Warnings      []string
}

// RestoreArchive checks every file of an archive against its manifest,
// then copies them to their destinations. The daemon must not be running.
func RestoreArchive(params RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "mudscript-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractArchive(params.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, manifestEntry))
	if err != nil {
		return nil, fmt.Errorf("restore: %s not found in archive", manifestEntry)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}
	result := &RestoreResult{Manifest: &manifest}

	for name, entry := range manifest.Files {
		ok, err := validateChecksum(filepath.Join(tmpDir, filepath.FromSlash(name)), entry.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s, the archive is corrupt", name)
		}
	}

	for _, f := range []struct{ entry, dest string }{
		{storeEntry, params.StoreDest},
		{reportsEntry, params.ReportsDest},
	} {
		src := filepath.Join(tmpDir, filepath.FromSlash(f.entry))
		if _, err := os.Stat(src); err != nil || f.dest == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.dest), 0755); err != nil {
			return nil, fmt.Errorf("restore: create dir for %s: %w", f.entry, err)
		}
		if err := copyFile(src, f.dest); err != nil {
			return nil, fmt.Errorf("restore: copy %s: %w", f.entry, err)
		}
		result.FilesRestored++
	}

	scriptSrc := filepath.Join(tmpDir, scriptsPrefix)
	if info, err := os.Stat(scriptSrc); err == nil && info.IsDir() && params.ScriptDest != "" {
		n, err := copyDir(scriptSrc, params.ScriptDest)
		if err != nil {
			return nil, fmt.Errorf("restore: copy scripts: %w", err)
		}
		result.FilesRestored += n
	}

	if params.ConfDest != "" {
		confSrc := filepath.Join(tmpDir, confPrefix, filepath.Base(params.ConfDest))
		if _, err := os.Stat(confSrc); err == nil {
			use, err := promptConfigDiff(confSrc, params.ConfDest, params.Stdin, params.Stdout)
			switch {
			case err != nil:
				result.Warnings = append(result.Warnings, fmt.Sprintf("config prompt error: %v", err))
			case use:
				if err := os.MkdirAll(filepath.Dir(params.ConfDest), 0755); err != nil {
					return nil, fmt.Errorf("restore: create conf dir: %w", err)
				}
				if err := copyFile(confSrc, params.ConfDest); err != nil {
					return nil, fmt.Errorf("restore: copy conf: %w", err)
				}
				result.FilesRestored++
			default:
				result.Warnings = append(result.Warnings, "kept current config "+filepath.Base(params.ConfDest))
			}
		}
	}

	return result, nil
}

func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func validateChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}

// promptConfigDiff reports whether the archived config should replace the
// current one. A missing current file is always replaced, an identical one
// never.
func promptConfigDiff(srcFile, destFile string, stdin io.Reader, stdout io.Writer) (bool, error) {
	if _, err := os.Stat(destFile); errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	archived, err := os.ReadFile(srcFile)
	if err != nil {
		return false, err
	}
	current, err := os.ReadFile(destFile)
	if err != nil {
		return false, err
	}
	if string(archived) == string(current) || stdin == nil {
		return false, nil
	}

	name := filepath.Base(destFile)
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprintf(stdout, "\nConfig file %q differs from the archive.\n", name)
		fmt.Fprint(stdout, "[K]eep current  [U]se archived  [D]iff: ")
		if !scanner.Scan() {
			return false, nil
		}
		input := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if input == "" {
			continue
		}
		switch input[0] {
		case 'K':
			return false, nil
		case 'U':
			return true, nil
		case 'D':
			fmt.Fprint(stdout, LineDiff(string(current), string(archived)))
		default:
			fmt.Fprintln(stdout, "Please enter K, U or D.")
		}
	}
}

// LineDiff compares two texts line by line, in unified style without
// hunk headers.
func LineDiff(current, archived string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(current, archived)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	sb.WriteString("--- current\n+++ archived\n")
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func copyDir(src, dst string) (int, error) {
	count := 0
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}
		if err := copyFile(path, destPath); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
