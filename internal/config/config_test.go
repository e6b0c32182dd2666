package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.SAMTimeout)
	assert.Equal(t, "sam_v2", cfg.SAMModel)
	assert.Equal(t, 0.1, cfg.ViewMinScale)
	assert.Equal(t, 10.0, cfg.ViewMaxScale)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"ANNOTATOR_API_URL": "https://annotate.example.com/api/",
		"SAM_TIMEOUT":       "30",
		"SAM_TRANSPORT":     "ws",
		"PREFETCH_RADIUS":   "1",
		"LOG_LEVEL":         "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://annotate.example.com/api", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.SAMTimeout)
	assert.Equal(t, "ws", cfg.SAMTransport)
	assert.Equal(t, 1, cfg.PrefetchRadius)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvDurationSyntax(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"SAM_TIMEOUT": "1m30s"}))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.SAMTimeout)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{"SAM_MODEL": "sam_v9"}))
	assert.Error(t, err)

	_, err = FromEnv(envMap(map[string]string{"VIEW_MIN_SCALE": "5", "VIEW_MAX_SCALE": "2"}))
	assert.Error(t, err)

	_, err = FromEnv(envMap(map[string]string{"SAM_BURST": "many"}))
	assert.ErrorContains(t, err, "SAM_BURST")
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ANNOTATOR_JOB_ID=job-from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ANNOTATOR_JOB_ID") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "job-from-file", cfg.JobID)
}
