package config_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/config"
)

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":      "ckpt",
		"count":     3,
		"fraction":  2.5,
		"whole":     4.0,
		"enabled":   true,
		"timeout":   "30s",
		"seconds":   45,
		"floatsecs": 1.5,
		"ids":       []any{0, 1, 2.0},
		"bad_ids":   []any{0, "one"},
		"mode_int":  0o750,
		"mode_str":  "0o700",
		"mode_bad":  "999",
		"nested":    map[string]any{"kind": "file"},
	})

	assert.Equal(t, "ckpt", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("count", "x"))
	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 0, cfg.Int("fraction", 0))
	assert.Equal(t, 4, cfg.Int("whole", 0))
	assert.True(t, cfg.Bool("enabled", false))
	assert.False(t, cfg.Bool("name", false))
	assert.Equal(t, 30*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 45*time.Second, cfg.Duration("seconds", 0))
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration("floatsecs", 0))
	assert.Equal(t, time.Minute, cfg.Duration("name", time.Minute))
	assert.Equal(t, []int{0, 1, 2}, cfg.IntSlice("ids", nil))
	assert.Nil(t, cfg.IntSlice("bad_ids", nil))
	assert.Equal(t, fs.FileMode(0o750), cfg.FileMode("mode_int", 0))
	assert.Equal(t, fs.FileMode(0o700), cfg.FileMode("mode_str", 0))
	assert.Equal(t, fs.FileMode(0o755), cfg.FileMode("mode_bad", 0o755))
	assert.Equal(t, "file", cfg.Sub("nested").String("kind", ""))
	assert.False(t, cfg.Sub("missing").Has("kind"))
	assert.True(t, cfg.Has("name"))
	assert.NotNil(t, config.New(nil).Raw())
}

func TestParse_Defaults(t *testing.T) {
	s, err := config.Parse(config.New(nil))
	require.NoError(t, err)

	assert.Equal(t, 0, s.Process)
	assert.Equal(t, "noop", s.Barrier.Kind)
	assert.Equal(t, 1, s.Barrier.Size)
	assert.Equal(t, 300*time.Second, s.Barrier.Timeout)
	assert.Equal(t, 100*time.Millisecond, s.Barrier.PollInterval)
	assert.Equal(t, "auto", s.TemporaryPath)
	assert.Equal(t, "file", s.Metadata.Backend)
	assert.Equal(t, fs.FileMode(0), s.PathPermissionMode)
	assert.True(t, s.IsCoordinator())
}

const sampleYAML = `
storage: /data/ckpt
process: 1
primary_process: 0
participants: [0, 1, 2]
barrier:
  kind: file
  dir: /data/ckpt/.barriers
  timeout: 5m
  poll_interval: 200ms
  session: run-42
barrier_key_prefix: trainer
path_permission_mode: 0o750
temporary_path: sentinel
metadata:
  backend: sqlite
  path: /data/journal.db
`

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckptdir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/ckpt", s.Storage)
	assert.Equal(t, 1, s.Process)
	assert.False(t, s.IsCoordinator())
	assert.Equal(t, []int{0, 1, 2}, s.Participants)
	assert.Equal(t, "file", s.Barrier.Kind)
	assert.Equal(t, 3, s.Barrier.Size)
	assert.Equal(t, 5*time.Minute, s.Barrier.Timeout)
	assert.Equal(t, 200*time.Millisecond, s.Barrier.PollInterval)
	assert.Equal(t, "run-42", s.Barrier.Session)
	assert.Equal(t, "trainer", s.BarrierKeyPrefix)
	assert.Equal(t, fs.FileMode(0o750), s.PathPermissionMode)
	assert.Equal(t, "sentinel", s.TemporaryPath)
	assert.Equal(t, "sqlite", s.Metadata.Backend)
	assert.Equal(t, "/data/journal.db", s.Metadata.Path)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckptdir.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":"gs://bucket/ckpt","all_primary":true,"process":0}`), 0o600))

	s, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/ckpt", s.Storage)
	assert.True(t, s.AllPrimary)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "ckptdir.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, err = config.Load(txt)
	assert.ErrorContains(t, err, "unsupported config file extension")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("a: [1,"), 0o600))
	_, err = config.Load(bad)
	assert.ErrorContains(t, err, "parse yaml")
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv(config.EnvProcess, "2")
	s, err := config.Parse(config.New(map[string]any{"participants": []any{0, 1, 2}}))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Process)

	t.Setenv(config.EnvBarrierSession, " job-7 ")
	s, err = config.Parse(config.New(map[string]any{"barrier": map[string]any{"kind": "file", "dir": "/b"}}))
	require.NoError(t, err)
	assert.Equal(t, "job-7", s.Barrier.Session)

	t.Setenv(config.EnvProcess, "two")
	_, err = config.Parse(config.New(nil))
	assert.ErrorContains(t, err, config.EnvProcess)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"negative process", map[string]any{"process": -1}, "process must be non-negative"},
		{"process out of range", map[string]any{"process": 3, "barrier": map[string]any{"size": 2}}, "out of range"},
		{"file barrier without dir", map[string]any{"barrier": map[string]any{"kind": "file"}}, "barrier.dir is required"},
		{"file barrier without session", map[string]any{"barrier": map[string]any{"kind": "file", "dir": "/b"}}, "barrier.session"},
		{"unknown barrier", map[string]any{"barrier": map[string]any{"kind": "etcd"}}, "unknown barrier.kind"},
		{"unknown strategy", map[string]any{"temporary_path": "copy"}, "unknown temporary_path"},
		{"sqlite without path", map[string]any{"metadata": map[string]any{"backend": "sqlite"}}, "metadata.path is required"},
		{"unknown backend", map[string]any{"metadata": map[string]any{"backend": "redis"}}, "unknown metadata.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(config.New(tt.data))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
