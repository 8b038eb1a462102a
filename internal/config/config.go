// Package config loads the collabdir configuration from defaults, an
// optional YAML file and environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COLLABDIR_"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Directory DirectoryConfig `yaml:"directory"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SubmitRate is the sustained rate, per second, of unauthenticated
	// data-request submissions.
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`
}

// StorageConfig selects the object store holding the tables.
type StorageConfig struct {
	Driver               string `yaml:"driver"`
	Bucket               string `yaml:"bucket"`
	AdminsBucket         string `yaml:"admins_bucket"`
	CollaboratorsKey     string `yaml:"collaborators_key"`
	AdminsKey            string `yaml:"admins_key"`
	DataRequestAdminsKey string `yaml:"data_request_admins_key"`
	PicturePrefix        string `yaml:"picture_prefix"`
	RequestPrefix        string `yaml:"request_prefix"`
	PublicBaseURL        string `yaml:"public_base_url"`

	S3       S3Config  `yaml:"s3"`
	GCS      GCSConfig `yaml:"gcs"`
	FSRoot   string    `yaml:"fs_root"`
	Badger   string    `yaml:"badger_dir"`
	SQLite   string    `yaml:"sqlite_path"`
	Postgres string    `yaml:"postgres_dsn"`
}

// S3Config holds S3 specific settings. Empty credentials fall back to the
// AWS default chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	Driver    string `yaml:"driver"`
	ProjectID string `yaml:"project_id"`
	KeysURL   string `yaml:"keys_url"`

	// StaticTokens maps a bearer token to the email it authenticates.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// MailConfig configures outgoing mail.
type MailConfig struct {
	Driver           string   `yaml:"driver"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	From             string   `yaml:"from"`
	NotifyRecipients []string `yaml:"notify_recipients"`
	QueueSize        int      `yaml:"queue_size"`

	// Rate is the number of messages sent per second; zero is unlimited.
	Rate float64 `yaml:"rate"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Driver string `yaml:"driver"`
}

// TracingConfig selects the tracing backend.
type TracingConfig struct {
	Driver      string `yaml:"driver"`
	ServiceName string `yaml:"service_name"`
}

// DirectoryConfig tunes directory behavior.
type DirectoryConfig struct {
	RosterBaseline  string `yaml:"roster_baseline"`
	InactiveNotices bool   `yaml:"inactive_notices"`
	ContactEmail    string `yaml:"contact_email"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			SubmitRate:      1,
			SubmitBurst:     5,
		},
		Storage: StorageConfig{
			Driver:               "s3",
			Bucket:               "collaborators-dir",
			CollaboratorsKey:     "collaborators.csv",
			AdminsKey:            "admins.csv",
			DataRequestAdminsKey: "data_request_admins.csv",
			PicturePrefix:        "profile_pictures/",
			RequestPrefix:        "data_requests/",
		},
		Auth: AuthConfig{
			Driver:    "firebase",
			ProjectID: "collaborator-dir",
		},
		Mail: MailConfig{
			Driver:    "log",
			Port:      587,
			QueueSize: 64,
			Rate:      2,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Driver: "prometheus"},
		Tracing: TracingConfig{Driver: "none", ServiceName: "collabdir"},
		Directory: DirectoryConfig{
			RosterBaseline: "reload",
			ContactEmail:   "npnlusc@gmail.com",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, when path
// is not empty, and then with the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// envBinding maps an environment variable onto a config field. Names without
// the prefix are the variables used by existing deployments.
type envBinding struct {
	names []string
	apply func(cfg *Config, value string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func listVar(dst func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst(cfg) = out
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(cfg) = f
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{[]string{EnvPrefix + "ADDR"}, stringVar(func(c *Config) *string { return &c.Server.Addr })},
	{[]string{EnvPrefix + "CORS_ORIGINS"}, listVar(func(c *Config) *[]string { return &c.Server.CORSOrigins })},
	{[]string{EnvPrefix + "SHUTDOWN_TIMEOUT"}, durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{[]string{EnvPrefix + "SUBMIT_RATE"}, floatVar(func(c *Config) *float64 { return &c.Server.SubmitRate })},
	{[]string{EnvPrefix + "SUBMIT_BURST"}, intVar(func(c *Config) *int { return &c.Server.SubmitBurst })},

	{[]string{EnvPrefix + "STORAGE_DRIVER"}, stringVar(func(c *Config) *string { return &c.Storage.Driver })},
	{[]string{"COLLABORATORS_BUCKET", EnvPrefix + "BUCKET"}, stringVar(func(c *Config) *string { return &c.Storage.Bucket })},
	{[]string{"ADMINS_BUCKET", EnvPrefix + "ADMINS_BUCKET"}, stringVar(func(c *Config) *string { return &c.Storage.AdminsBucket })},
	{[]string{"COLLABORATORS_KEY", EnvPrefix + "COLLABORATORS_KEY"}, stringVar(func(c *Config) *string { return &c.Storage.CollaboratorsKey })},
	{[]string{"ADMINS_KEY", EnvPrefix + "ADMINS_KEY"}, stringVar(func(c *Config) *string { return &c.Storage.AdminsKey })},
	{[]string{EnvPrefix + "DATA_REQUEST_ADMINS_KEY"}, stringVar(func(c *Config) *string { return &c.Storage.DataRequestAdminsKey })},
	{[]string{EnvPrefix + "PUBLIC_BASE_URL"}, stringVar(func(c *Config) *string { return &c.Storage.PublicBaseURL })},
	{[]string{EnvPrefix + "S3_REGION", "AWS_REGION"}, stringVar(func(c *Config) *string { return &c.Storage.S3.Region })},
	{[]string{EnvPrefix + "S3_ENDPOINT"}, stringVar(func(c *Config) *string { return &c.Storage.S3.Endpoint })},
	{[]string{EnvPrefix + "S3_PATH_STYLE"}, boolVar(func(c *Config) *bool { return &c.Storage.S3.PathStyle })},
	{[]string{EnvPrefix + "GCS_CREDENTIALS_FILE"}, stringVar(func(c *Config) *string { return &c.Storage.GCS.CredentialsFile })},
	{[]string{EnvPrefix + "FS_ROOT"}, stringVar(func(c *Config) *string { return &c.Storage.FSRoot })},
	{[]string{EnvPrefix + "BADGER_DIR"}, stringVar(func(c *Config) *string { return &c.Storage.Badger })},
	{[]string{EnvPrefix + "SQLITE_PATH"}, stringVar(func(c *Config) *string { return &c.Storage.SQLite })},
	{[]string{EnvPrefix + "POSTGRES_DSN"}, stringVar(func(c *Config) *string { return &c.Storage.Postgres })},

	{[]string{EnvPrefix + "AUTH_DRIVER"}, stringVar(func(c *Config) *string { return &c.Auth.Driver })},
	{[]string{"FIREBASE_PROJECT_ID", EnvPrefix + "FIREBASE_PROJECT_ID"}, stringVar(func(c *Config) *string { return &c.Auth.ProjectID })},

	{[]string{EnvPrefix + "MAIL_DRIVER"}, stringVar(func(c *Config) *string { return &c.Mail.Driver })},
	{[]string{EnvPrefix + "SMTP_HOST"}, stringVar(func(c *Config) *string { return &c.Mail.Host })},
	{[]string{EnvPrefix + "SMTP_PORT"}, intVar(func(c *Config) *int { return &c.Mail.Port })},
	{[]string{"SMTP_USERNAME", EnvPrefix + "SMTP_USERNAME"}, stringVar(func(c *Config) *string { return &c.Mail.Username })},
	{[]string{"SMTP_PASSWORD", EnvPrefix + "SMTP_PASSWORD"}, stringVar(func(c *Config) *string { return &c.Mail.Password })},
	{[]string{EnvPrefix + "MAIL_FROM"}, stringVar(func(c *Config) *string { return &c.Mail.From })},
	{[]string{EnvPrefix + "NOTIFY_RECIPIENTS"}, listVar(func(c *Config) *[]string { return &c.Mail.NotifyRecipients })},

	{[]string{EnvPrefix + "LOG_LEVEL"}, stringVar(func(c *Config) *string { return &c.Log.Level })},
	{[]string{EnvPrefix + "LOG_FORMAT"}, stringVar(func(c *Config) *string { return &c.Log.Format })},
	{[]string{EnvPrefix + "METRICS_DRIVER"}, stringVar(func(c *Config) *string { return &c.Metrics.Driver })},
	{[]string{EnvPrefix + "TRACING_DRIVER"}, stringVar(func(c *Config) *string { return &c.Tracing.Driver })},

	{[]string{EnvPrefix + "ROSTER_BASELINE"}, stringVar(func(c *Config) *string { return &c.Directory.RosterBaseline })},
	{[]string{EnvPrefix + "INACTIVE_NOTICES"}, boolVar(func(c *Config) *bool { return &c.Directory.InactiveNotices })},
	{[]string{EnvPrefix + "CONTACT_EMAIL"}, stringVar(func(c *Config) *string { return &c.Directory.ContactEmail })},
}

// applyEnv applies every set variable. When both names of a binding are set
// the later name in the list wins.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, b := range envBindings {
		for _, name := range b.names {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if err := b.apply(cfg, v); err != nil {
				return fmt.Errorf("env %s: %w", name, err)
			}
		}
	}
	return nil
}

var (
	storageDrivers = []string{"s3", "gcs", "fs", "badger", "sqlite", "postgres", "memory"}
	authDrivers    = []string{"firebase", "static"}
	mailDrivers    = []string{"smtp", "log", "none"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"json", "console"}
	metricsDrivers = []string{"prometheus", "expvar", "none"}
	tracingDrivers = []string{"otel", "json", "none"}
	baselines      = []string{"snapshot", "reload"}
)

// Validate reports every invalid or missing setting.
func (c Config) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s: required", field))
		}
	}

	required("server.addr", c.Server.Addr)
	if c.Server.SubmitRate < 0 || c.Server.SubmitBurst < 0 {
		errs = append(errs, errors.New("server.submit_rate and server.submit_burst must not be negative"))
	}

	oneOf("storage.driver", c.Storage.Driver, storageDrivers)
	required("storage.collaborators_key", c.Storage.CollaboratorsKey)
	required("storage.admins_key", c.Storage.AdminsKey)
	required("storage.data_request_admins_key", c.Storage.DataRequestAdminsKey)
	switch c.Storage.Driver {
	case "s3", "gcs":
		required("storage.bucket", c.Storage.Bucket)
	case "fs":
		required("storage.fs_root", c.Storage.FSRoot)
	case "badger":
		required("storage.badger_dir", c.Storage.Badger)
	case "sqlite":
		required("storage.sqlite_path", c.Storage.SQLite)
	case "postgres":
		required("storage.postgres_dsn", c.Storage.Postgres)
	}

	oneOf("auth.driver", c.Auth.Driver, authDrivers)
	switch c.Auth.Driver {
	case "firebase":
		required("auth.project_id", c.Auth.ProjectID)
	case "static":
		if len(c.Auth.StaticTokens) == 0 {
			errs = append(errs, errors.New("auth.static_tokens: required for the static driver"))
		}
	}

	oneOf("mail.driver", c.Mail.Driver, mailDrivers)
	if c.Mail.Driver == "smtp" {
		required("mail.host", c.Mail.Host)
		required("mail.from", c.Mail.From)
		if c.Mail.Port <= 0 {
			errs = append(errs, errors.New("mail.port: must be positive"))
		}
	}
	if c.Mail.QueueSize <= 0 {
		errs = append(errs, errors.New("mail.queue_size: must be positive"))
	}
	if c.Mail.Rate < 0 {
		errs = append(errs, errors.New("mail.rate: must not be negative"))
	}

	oneOf("log.level", c.Log.Level, logLevels)
	oneOf("log.format", c.Log.Format, logFormats)
	oneOf("metrics.driver", c.Metrics.Driver, metricsDrivers)
	oneOf("tracing.driver", c.Tracing.Driver, tracingDrivers)
	oneOf("directory.roster_baseline", c.Directory.RosterBaseline, baselines)

	return errors.Join(errs...)
}

// AdminsBucketName returns the bucket holding the admin tables, which defaults
// to the collaborators bucket.
func (s StorageConfig) AdminsBucketName() string {
	if s.AdminsBucket != "" {
		return s.AdminsBucket
	}
	return s.Bucket
}
