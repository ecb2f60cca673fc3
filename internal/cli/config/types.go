// Package config loads the songlake CLI configuration.
//
// Values are layered, lowest precedence first: built-in defaults, a YAML
// file, SONGLAKE_* environment variables and explicitly set command-line
// flags.
package config

// Config holds all CLI configuration options.
type Config struct {
	Input       InputConfig       `koanf:"input"`
	Output      OutputConfig      `koanf:"output"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Runtime     RuntimeConfig     `koanf:"runtime"`
	Ingest      IngestConfig      `koanf:"ingest"`
	StatePath   string            `koanf:"state_path" validate:"required"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// InputConfig locates the raw catalog and event files.
type InputConfig struct {
	Root        string `koanf:"root" validate:"required"`
	CatalogGlob string `koanf:"catalog_glob" validate:"required"`
	EventsGlob  string `koanf:"events_glob" validate:"required"`
}

// OutputConfig locates the table output.
type OutputConfig struct {
	Root        string `koanf:"root" validate:"required"`
	Compression string `koanf:"compression" validate:"oneof=snappy zstd gzip uncompressed"`
}

// CredentialsConfig holds access values for remote locations. Values of the
// form ${VAR} are expanded from the environment at load time.
type CredentialsConfig struct {
	AccessKeyID        string `koanf:"access_key_id"`
	SecretAccessKey    string `koanf:"secret_access_key" validate:"required_with=AccessKeyID"`
	SessionToken       string `koanf:"session_token"`
	Region             string `koanf:"region"`
	Endpoint           string `koanf:"endpoint" validate:"omitempty,url"`
	PathStyle          bool   `koanf:"path_style"`
	GCSCredentialsFile string `koanf:"gcs_credentials_file"`
}

// RuntimeConfig tunes the DuckDB session.
type RuntimeConfig struct {
	// Database is a DuckDB file; empty runs in memory.
	Database    string `koanf:"database"`
	Threads     int    `koanf:"threads" validate:"min=0"`
	MemoryLimit string `koanf:"memory_limit"`
	ScratchDir  string `koanf:"scratch_dir"`
}

// IngestConfig tunes input parsing.
type IngestConfig struct {
	Workers int `koanf:"workers" validate:"min=0"`
}

// MetricsConfig controls the node-exporter textfile.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
	Job      string `koanf:"job" validate:"required"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=auto json console"`
}

// Default configuration values.
const (
	DefaultInputRoot   = "data"
	DefaultOutputRoot  = "lake"
	DefaultCompression = "snappy"
	DefaultStateFile   = ".songlake/state.db"
	DefaultJob         = "songlake"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "auto"
)
