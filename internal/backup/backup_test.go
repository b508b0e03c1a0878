package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/geoscout/internal/store"
)

func seed(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	p := Paths{
		DBPath:     filepath.Join(dir, "geoscout.db"),
		ConfigPath: filepath.Join(dir, "geoscout.yaml"),
		HistoryDir: filepath.Join(dir, "history"),
	}

	db, err := store.New(p.DBPath)
	require.NoError(t, err)
	_, err = db.DB().Exec("CREATE TABLE marker (v TEXT)")
	require.NoError(t, err)
	_, err = db.DB().Exec("INSERT INTO marker VALUES ('kept')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, os.WriteFile(p.ConfigPath, []byte("server:\n  port: 8080\n"), 0o600))
	require.NoError(t, os.MkdirAll(p.HistoryDir, 0o755))
	for _, name := range []string{"2024-03-09T14-05-07", "2024-03-09T15-00-00"} {
		require.NoError(t, os.WriteFile(filepath.Join(p.HistoryDir, name), []byte("scan "+name), 0o600))
	}
	return p
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seed(t)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")

	m, err := Backup(ctx, src, archive)
	require.NoError(t, err)
	assert.Equal(t, "geoscout.db", m.Database)
	assert.Equal(t, "geoscout.yaml", m.Config)
	assert.Equal(t, []string{"2024-03-09T14-05-07", "2024-03-09T15-00-00"}, m.History)

	out := t.TempDir()
	dst := Paths{
		DBPath:     filepath.Join(out, "restored.db"),
		ConfigPath: filepath.Join(out, "restored.yaml"),
		HistoryDir: filepath.Join(out, "history"),
	}
	rm, err := Restore(ctx, archive, dst)
	require.NoError(t, err)
	assert.Equal(t, m, rm)

	cfg, err := os.ReadFile(dst.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "server:\n  port: 8080\n", string(cfg))

	data, err := os.ReadFile(filepath.Join(dst.HistoryDir, "2024-03-09T15-00-00"))
	require.NoError(t, err)
	assert.Equal(t, "scan 2024-03-09T15-00-00", string(data))

	db, err := store.New(dst.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	var v string
	require.NoError(t, db.DB().QueryRow("SELECT v FROM marker").Scan(&v))
	assert.Equal(t, "kept", v)
}

func TestBackupSkipsMissingOptionalSources(t *testing.T) {
	src := seed(t)
	src.ConfigPath = filepath.Join(t.TempDir(), "absent.yaml")
	src.HistoryDir = filepath.Join(t.TempDir(), "absent")

	m, err := Backup(context.Background(), src, filepath.Join(t.TempDir(), "b.tar.gz"))
	require.NoError(t, err)
	assert.Empty(t, m.Config)
	assert.Empty(t, m.History)
	assert.Equal(t, "geoscout.db", m.Database)
}

func TestBackupMissingDatabase(t *testing.T) {
	src := Paths{DBPath: filepath.Join(t.TempDir(), "nope.db")}
	_, err := Backup(context.Background(), src, filepath.Join(t.TempDir(), "b.tar.gz"))
	require.Error(t, err)
}

func TestRestoreOnlyRequestedTargets(t *testing.T) {
	src := seed(t)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := Backup(context.Background(), src, archive)
	require.NoError(t, err)

	dst := Paths{HistoryDir: filepath.Join(t.TempDir(), "history")}
	m, err := Restore(context.Background(), archive, dst)
	require.NoError(t, err)
	assert.Empty(t, m.Database)
	assert.Empty(t, m.Config)
	assert.Len(t, m.History, 2)
}

func TestRestoreRejectsUnsafeEntries(t *testing.T) {
	for _, name := range []string{"history/../../evil", "/etc/passwd", "history/..", "evil"} {
		t.Run(name, func(t *testing.T) {
			archive := filepath.Join(t.TempDir(), "bad.tar.gz")
			writeArchive(t, archive, name, "x")

			_, err := Restore(context.Background(), archive, Paths{HistoryDir: t.TempDir()})
			assert.ErrorIs(t, err, ErrUnsafePath)
		})
	}
}

func writeArchive(t *testing.T, path, name, body string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0o600,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())
}
