package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/songlake/internal/ingest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "songlake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("input", "", "")
	flags.String("output", "", "")
	flags.String("state", "", "")
	flags.Int("workers", 0, "")
	flags.String("log-level", "", "")
	flags.Bool("dry-run", false, "")
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultInputRoot, cfg.Input.Root)
	assert.Equal(t, ingest.DefaultCatalogGlob, cfg.Input.CatalogGlob)
	assert.Equal(t, ingest.DefaultEventsGlob, cfg.Input.EventsGlob)
	assert.Equal(t, DefaultOutputRoot, cfg.Output.Root)
	assert.Equal(t, "snappy", cfg.Output.Compression)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, "songlake", cfg.Metrics.Job)
	assert.Equal(t, LogConfig{Level: "info", Format: "auto"}, cfg.Log)
	assert.Empty(t, cfg.File)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
input:
  root: s3://udacity-dend
output:
  root: gs://lake/sparkify
  compression: zstd
credentials:
  access_key_id: AKIAEXAMPLE
  secret_access_key: secret
  region: us-west-2
runtime:
  threads: 4
  memory_limit: 2GB
ingest:
  workers: 16
metrics:
  textfile: /var/lib/node_exporter/songlake.prom
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "s3://udacity-dend", cfg.Input.Root)
	assert.Equal(t, ingest.DefaultEventsGlob, cfg.Input.EventsGlob, "unset keys keep defaults")
	assert.Equal(t, OutputConfig{Root: "gs://lake/sparkify", Compression: "zstd"}, cfg.Output)
	assert.Equal(t, "AKIAEXAMPLE", cfg.Credentials.AccessKeyID)
	assert.Equal(t, 4, cfg.Runtime.Threads)
	assert.Equal(t, "2GB", cfg.Runtime.MemoryLimit)
	assert.Equal(t, 16, cfg.Ingest.Workers)
	assert.Equal(t, "/var/lib/node_exporter/songlake.prom", cfg.Metrics.Textfile)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "songlake.yml"), []byte("output:\n  root: found\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.Output.Root)
	assert.Equal(t, "songlake.yml", cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, "output:\n  root: from_file\ningest:\n  workers: 2\n")

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("SONGLAKE_OUTPUT__ROOT", "from_env")
		t.Setenv("SONGLAKE_INGEST__WORKERS", "8")

		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.Output.Root)
		assert.Equal(t, 8, cfg.Ingest.Workers)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		t.Setenv("SONGLAKE_OUTPUT__ROOT", "from_env")
		flags := testFlags(t)
		require.NoError(t, flags.Set("output", "from_flag"))
		require.NoError(t, flags.Set("workers", "3"))

		cfg, err := Load(path, flags)
		require.NoError(t, err)
		assert.Equal(t, "from_flag", cfg.Output.Root)
		assert.Equal(t, 3, cfg.Ingest.Workers)
	})

	t.Run("unset flag falls back", func(t *testing.T) {
		t.Setenv("SONGLAKE_OUTPUT__ROOT", "from_env")

		cfg, err := Load(path, testFlags(t))
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.Output.Root)
		assert.Equal(t, 2, cfg.Ingest.Workers)
	})

	t.Run("unmapped flags are ignored", func(t *testing.T) {
		flags := testFlags(t)
		require.NoError(t, flags.Set("dry-run", "true"))
		require.NoError(t, flags.Set("state", "/tmp/state.db"))

		cfg, err := Load(path, flags)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/state.db", cfg.StatePath)
	})
}

func TestLoad_ExpandsCredentials(t *testing.T) {
	t.Setenv("SPARKIFY_KEY", "AKIA123")
	t.Setenv("SPARKIFY_SECRET", "s3cr3t")
	path := writeConfig(t, `
credentials:
  access_key_id: ${SPARKIFY_KEY}
  secret_access_key: ${SPARKIFY_SECRET}
  session_token: ${SPARKIFY_UNSET}
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", cfg.Credentials.AccessKeyID)
	assert.Equal(t, "s3cr3t", cfg.Credentials.SecretAccessKey)
	assert.Equal(t, "${SPARKIFY_UNSET}", cfg.Credentials.SessionToken)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad compression",
			content: "output:\n  compression: lz4\n",
			wantErr: `output.compression must be one of [snappy zstd gzip uncompressed], got "lz4"`,
		},
		{
			name:    "key without secret",
			content: "credentials:\n  access_key_id: AKIA\n",
			wantErr: "credentials.secret_access_key is required when credentials.access_key_id is set",
		},
		{
			name:    "negative workers",
			content: "ingest:\n  workers: -1\n",
			wantErr: "ingest.workers must be at least 0",
		},
		{
			name:    "bad endpoint",
			content: "credentials:\n  endpoint: not a url\n",
			wantErr: "credentials.endpoint must be a URL",
		},
		{
			name:    "empty required",
			content: "input:\n  root: \"\"\nlog:\n  level: trace\n",
			wantErr: "input.root is required",
		},
		{
			name:    "malformed yaml",
			content: "input: [\n",
			wantErr: "error reading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	var keys []string
	for _, f := range verr.Fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "input.root")
	assert.Contains(t, keys, "output.root")
	assert.Contains(t, keys, "state_path")
	assert.Contains(t, keys, "log.level")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_EMPTY", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single variable", "${TEST_VAR_ONE}", "value_one"},
		{"variable in path", "/keys/${TEST_VAR_ONE}.json", "/keys/value_one.json"},
		{"set but empty", "${TEST_VAR_EMPTY}", ""},
		{"unset variable stays as-is", "${UNSET_VARIABLE}", "${UNSET_VARIABLE}"},
		{"no variables", "plain string", "plain string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)
	assert.NotNil(t, GetLogger(ctx))

	cfg := &Config{StatePath: "x"}
	got, ok := FromContext(WithConfig(ctx, cfg))
	require.True(t, ok)
	assert.Same(t, cfg, got)
}
