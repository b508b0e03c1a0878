// Package backup archives the job database, the config file and the capture
// history into a single tar.gz, and restores such archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/HerbHall/geoscout/internal/history"
	"github.com/HerbHall/geoscout/internal/store"
)

// Archive directory prefixes.
const (
	dbPrefix      = "db/"
	configPrefix  = "config/"
	historyPrefix = "history/"
)

// ErrUnsafePath is returned by Restore for entries that would escape their
// target directory.
var ErrUnsafePath = errors.New("backup: unsafe archive entry")

// Paths locates the data a backup covers. Empty fields are skipped.
type Paths struct {
	DBPath     string
	ConfigPath string
	HistoryDir string
}

// Manifest lists what an archive operation touched.
type Manifest struct {
	Database string   `json:"database,omitempty"`
	Config   string   `json:"config,omitempty"`
	History  []string `json:"history"`
}

// Backup writes a tar.gz archive of src to outputPath. The database WAL is
// checkpointed first so the main file is self-contained. A missing config
// file or history directory is skipped; a missing database is an error.
func Backup(ctx context.Context, src Paths, outputPath string) (Manifest, error) {
	m := Manifest{History: []string{}}

	if src.DBPath != "" {
		if _, err := os.Stat(src.DBPath); err != nil {
			return m, fmt.Errorf("database file not found: %w", err)
		}
		if err := checkpoint(ctx, src.DBPath); err != nil {
			return m, fmt.Errorf("WAL checkpoint failed: %w", err)
		}
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return m, fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if src.DBPath != "" {
		name := filepath.Base(src.DBPath)
		if err := addFile(tw, src.DBPath, dbPrefix+name); err != nil {
			return m, fmt.Errorf("adding database to archive: %w", err)
		}
		m.Database = name
	}

	if src.ConfigPath != "" {
		if _, err := os.Stat(src.ConfigPath); err == nil {
			name := filepath.Base(src.ConfigPath)
			if err := addFile(tw, src.ConfigPath, configPrefix+name); err != nil {
				return m, fmt.Errorf("adding config to archive: %w", err)
			}
			m.Config = name
		}
	}

	if src.HistoryDir != "" {
		entries, err := history.New(src.HistoryDir).List()
		if err != nil {
			return m, fmt.Errorf("listing history: %w", err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return m, err
			}
			if err := addFile(tw, e.Path, historyPrefix+e.Filename); err != nil {
				return m, fmt.Errorf("adding %s to archive: %w", e.Filename, err)
			}
			m.History = append(m.History, e.Filename)
		}
	}

	if err := tw.Close(); err != nil {
		return m, fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return m, fmt.Errorf("finishing archive: %w", err)
	}
	return m, outFile.Close()
}

// Restore extracts an archive written by Backup into dst. Entries whose
// destination is empty in dst are skipped. Existing files are overwritten.
func Restore(ctx context.Context, archivePath string, dst Paths) (Manifest, error) {
	m := Manifest{History: []string{}}

	f, err := os.Open(archivePath)
	if err != nil {
		return m, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return m, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return m, nil
		}
		if err != nil {
			return m, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dir, name, err := split(hdr.Name)
		if err != nil {
			return m, err
		}

		var target string
		switch dir {
		case dbPrefix:
			if dst.DBPath == "" {
				continue
			}
			target = dst.DBPath
			m.Database = name
			// Stale WAL files would be replayed over the restored database.
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(target + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return m, fmt.Errorf("removing %s: %w", target+suffix, err)
				}
			}
		case configPrefix:
			if dst.ConfigPath == "" {
				continue
			}
			target = dst.ConfigPath
			m.Config = name
		case historyPrefix:
			if dst.HistoryDir == "" {
				continue
			}
			if err := os.MkdirAll(dst.HistoryDir, 0o755); err != nil {
				return m, fmt.Errorf("creating history directory: %w", err)
			}
			target = filepath.Join(dst.HistoryDir, name)
			m.History = append(m.History, name)
		default:
			continue
		}

		if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return m, fmt.Errorf("restoring %s: %w", hdr.Name, err)
		}
	}
}

// split separates an archive entry into its prefix and a bare file name.
func split(name string) (dir, base string, err error) {
	clean := path.Clean(name)
	i := strings.IndexByte(clean, '/')
	if i <= 0 || path.IsAbs(clean) || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	dir, base = clean[:i+1], clean[i+1:]
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return dir, base, nil
}

func checkpoint(ctx context.Context, dbPath string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Checkpoint(ctx)
}

func addFile(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o600
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // archives are produced by Backup
		out.Close()
		return err
	}
	return out.Close()
}
