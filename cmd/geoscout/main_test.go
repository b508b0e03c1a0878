package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/geoscout/internal/history"
	"github.com/HerbHall/geoscout/internal/plugin"
)

func writeConfig(t *testing.T) (cfgPath, historyDir string) {
	t.Helper()
	dir := t.TempDir()
	historyDir = filepath.Join(dir, "history")
	require.NoError(t, os.MkdirAll(historyDir, 0o755))
	cfgPath = filepath.Join(dir, "geoscout.yaml")
	data := "logging:\n  level: error\nstore:\n  path: " + filepath.Join(dir, "geoscout.db") +
		"\nplugins:\n  geolocate:\n    history:\n      dir: " + historyDir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o600))
	return cfgPath, historyDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { configPath = "" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHistoryCommands(t *testing.T) {
	cfg, dir := writeConfig(t)
	for _, name := range []string{"2024-03-09T14-05-07", "2024-03-09T15-00-00"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("scan "+name), 0o600))
	}

	out, err := run(t, "--config", cfg, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-09T14-05-07")
	assert.Contains(t, out, "2024-03-09T15-00-00")

	out, err = run(t, "--config", cfg, "history", "show", "2024-03-09T15-00-00")
	require.NoError(t, err)
	assert.Equal(t, "scan 2024-03-09T15-00-00", out)

	_, err = run(t, "--config", cfg, "history", "delete", "2024-03-09T14-05-07")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "history", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 file(s)")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveCapture(t *testing.T) {
	dir := t.TempDir()
	h := history.New(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-03-09T14-05-07"), []byte("{}"), 0o600))

	direct := filepath.Join(t.TempDir(), "scan.json")
	require.NoError(t, os.WriteFile(direct, []byte("[]"), 0o600))

	p, err := resolveCapture(h, direct)
	require.NoError(t, err)
	assert.Equal(t, direct, p)

	p, err = resolveCapture(h, "2024-03-09T14-05-07")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-03-09T14-05-07"), p)

	_, err = resolveCapture(h, "2020-01-01T00-00-00")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "geoscout")
}

type steps struct {
	mu    sync.Mutex
	names []string
}

func (s *steps) add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

// recordingPlugin notes when it is stopped.
type recordingPlugin struct{ steps *steps }

func (p recordingPlugin) Name() string                         { return "recording" }
func (p recordingPlugin) Version() string                      { return "0.0.1" }
func (p recordingPlugin) Init(*viper.Viper, *zap.Logger) error { return nil }
func (p recordingPlugin) Start(context.Context) error          { return nil }
func (p recordingPlugin) Routes() []plugin.Route               { return nil }
func (p recordingPlugin) Actions() []plugin.Action             { return nil }
func (p recordingPlugin) Stop() error {
	p.steps.add("plugins")
	return nil
}

type fakeHTTP struct{ steps *steps }

func (s fakeHTTP) Shutdown(ctx context.Context) error {
	s.steps.add("http")
	return ctx.Err()
}

type fakeDB struct {
	steps *steps
	err   error
}

func (d *fakeDB) Checkpoint(ctx context.Context) error {
	d.steps.add("checkpoint")
	d.err = ctx.Err()
	return d.err
}

func TestShutdownOrder(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := &steps{}

	reg := plugin.NewRegistry(logger)
	require.NoError(t, reg.Register(recordingPlugin{steps: s}))
	v := viper.New()
	v.Set("plugins.recording.enabled", true)
	require.NoError(t, reg.InitAll(v))
	require.NoError(t, reg.StartAll(context.Background()))

	db := &fakeDB{steps: s}
	shutdown(fakeHTTP{steps: s}, reg, db, logger)

	assert.Equal(t, []string{"plugins", "http", "checkpoint"}, s.names)
	assert.NoError(t, db.err)
}
