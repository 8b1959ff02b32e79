package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/diarco/connexa-sync/internal/domain/staging"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	Source      DatabaseConfig
	Destination SQLServerConfig
	Publish     PublishConfig
	Transfers   TransferConfig
	Maintenance MaintenanceConfig
	Scheduler   SchedulerConfig
	Redis       RedisConfig
	Artifacts   ArtifactsConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds the PostgreSQL planning store connection settings
type DatabaseConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	DBName           string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  int // in minutes
	ConnMaxIdleTime  int // in minutes
	StatementTimeout time.Duration
}

// SQLServerConfig holds the ERP staging database connection settings
type SQLServerConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	Encrypt          string // disable, false, true
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  int // in minutes
	ConnMaxIdleTime  int // in minutes
	StatementTimeout time.Duration
}

// PublishConfig holds the pipeline settings
type PublishConfig struct {
	Strategy            string // antijoin, merge
	UpdateExisting      bool
	MarkExisting        bool
	BatchLimit          int
	MaxAge              time.Duration
	ClaimTTL            time.Duration
	RetryAttempts       int
	RetryInitial        time.Duration
	RetryMax            time.Duration
	DistributionCenters []string // "41CD=41" entries
	SourceTable         string   // schema.table of pending lines
	ProductsTable       string   // schema.table of the product catalog with cod_cd
	StockTable          string   // schema.table of the replicated stock
	Target              staging.Target
}

// TransferConfig holds the distribution transfer pipeline. It shares the
// publish settings except for its source tables and target.
type TransferConfig struct {
	Enabled           bool
	HeaderTable       string // schema.table of transfer headers
	DetailTable       string // schema.table of transfer lines
	StatusTable       string // schema.table of the transfer status catalog
	PendingStatus     string // status code of transfers ready for the ERP
	PublishedStatusID int    // status id once the ERP holds the transfer
	Target            staging.Target
}

// MaintenanceConfig holds the truncate-and-reload lock policy
type MaintenanceConfig struct {
	NowaitAttempts   int
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	MaxAttempts      int
	BackoffCap       time.Duration
	BatchSize        int
}

// SchedulerConfig holds cron scheduling settings
type SchedulerConfig struct {
	Enabled     bool
	PublishCron string
	JobTimeout  time.Duration
	HistorySize int
}

// RedisConfig holds Redis connection settings for the run lease
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LeaseTTL time.Duration
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ArtifactsConfig selects where run audit files go
type ArtifactsConfig struct {
	Kind            string // none, local, s3
	Dir             string
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// HTTPConfig holds the ops API server configuration
type HTTPConfig struct {
	Enabled      bool
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	SamplingRatio     float64
	TraceDatabase     bool // otelgorm spans per statement
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_SOURCE_PASSWORD)
// 2. .env file named by SYNC_ENV_PATH (default .env); never overrides the environment
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Source: DatabaseConfig{
			Host:             v.GetString("source.host"),
			Port:             v.GetInt("source.port"),
			User:             v.GetString("source.user"),
			Password:         v.GetString("source.password"),
			DBName:           v.GetString("source.dbname"),
			SSLMode:          v.GetString("source.sslmode"),
			MaxOpenConns:     v.GetInt("source.max_open_conns"),
			MaxIdleConns:     v.GetInt("source.max_idle_conns"),
			ConnMaxLifetime:  v.GetInt("source.conn_max_lifetime"),
			ConnMaxIdleTime:  v.GetInt("source.conn_max_idle_time"),
			StatementTimeout: v.GetDuration("source.statement_timeout"),
		},
		Destination: SQLServerConfig{
			Host:             v.GetString("destination.host"),
			Port:             v.GetInt("destination.port"),
			User:             v.GetString("destination.user"),
			Password:         v.GetString("destination.password"),
			Database:         v.GetString("destination.database"),
			Encrypt:          v.GetString("destination.encrypt"),
			MaxOpenConns:     v.GetInt("destination.max_open_conns"),
			MaxIdleConns:     v.GetInt("destination.max_idle_conns"),
			ConnMaxLifetime:  v.GetInt("destination.conn_max_lifetime"),
			ConnMaxIdleTime:  v.GetInt("destination.conn_max_idle_time"),
			StatementTimeout: v.GetDuration("destination.statement_timeout"),
		},
		Publish: PublishConfig{
			Strategy:            v.GetString("publish.strategy"),
			UpdateExisting:      v.GetBool("publish.update_existing"),
			MarkExisting:        v.GetBool("publish.mark_existing"),
			BatchLimit:          v.GetInt("publish.batch_limit"),
			MaxAge:              v.GetDuration("publish.max_age"),
			ClaimTTL:            v.GetDuration("publish.claim_ttl"),
			RetryAttempts:       v.GetInt("publish.retry_attempts"),
			RetryInitial:        v.GetDuration("publish.retry_initial"),
			RetryMax:            v.GetDuration("publish.retry_max"),
			DistributionCenters: v.GetStringSlice("publish.distribution_centers"),
			SourceTable:         v.GetString("publish.source_table"),
			ProductsTable:       v.GetString("publish.products_table"),
			StockTable:          v.GetString("publish.stock_table"),
		},
		Transfers: TransferConfig{
			Enabled:           v.GetBool("transfers.enabled"),
			HeaderTable:       v.GetString("transfers.header_table"),
			DetailTable:       v.GetString("transfers.detail_table"),
			StatusTable:       v.GetString("transfers.status_table"),
			PendingStatus:     v.GetString("transfers.pending_status"),
			PublishedStatusID: v.GetInt("transfers.published_status_id"),
		},
		Maintenance: MaintenanceConfig{
			NowaitAttempts:   v.GetInt("maintenance.nowait_attempts"),
			LockTimeout:      v.GetDuration("maintenance.lock_timeout"),
			StatementTimeout: v.GetDuration("maintenance.statement_timeout"),
			MaxAttempts:      v.GetInt("maintenance.max_attempts"),
			BackoffCap:       v.GetDuration("maintenance.backoff_cap"),
			BatchSize:        v.GetInt("maintenance.batch_size"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("scheduler.enabled"),
			PublishCron: v.GetString("scheduler.publish_cron"),
			JobTimeout:  v.GetDuration("scheduler.job_timeout"),
			HistorySize: v.GetInt("scheduler.history_size"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LeaseTTL: v.GetDuration("redis.lease_ttl"),
		},
		Artifacts: ArtifactsConfig{
			Kind:            v.GetString("artifacts.kind"),
			Dir:             v.GetString("artifacts.dir"),
			Bucket:          v.GetString("artifacts.bucket"),
			Prefix:          v.GetString("artifacts.prefix"),
			Region:          v.GetString("artifacts.region"),
			Endpoint:        v.GetString("artifacts.endpoint"),
			AccessKeyID:     v.GetString("artifacts.access_key_id"),
			SecretAccessKey: v.GetString("artifacts.secret_access_key"),
			UsePathStyle:    v.GetBool("artifacts.use_path_style"),
		},
		HTTP: HTTPConfig{
			Enabled:      v.GetBool("http.enabled"),
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			TraceDatabase:     v.GetBool("telemetry.trace_database"),
		},
	}

	// Boolean flags that default to true must distinguish "unset" from false
	if !v.IsSet("publish.mark_existing") {
		cfg.Publish.MarkExisting = true
	}
	if !v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = 1.0
	}

	if v.IsSet("publish.target") {
		if err := v.UnmarshalKey("publish.target", &cfg.Publish.Target); err != nil {
			return nil, fmt.Errorf("error decoding publish.target: %w", err)
		}
	}

	if v.IsSet("transfers.target") {
		if err := v.UnmarshalKey("transfers.target", &cfg.Transfers.Target); err != nil {
			return nil, fmt.Errorf("error decoding transfers.target: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv reads the legacy credential file if present
func loadDotEnv() error {
	path := os.Getenv("SYNC_ENV_PATH")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "connexa-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Source.Host == "" {
		cfg.Source.Host = "localhost"
	}
	if cfg.Source.Port == 0 {
		cfg.Source.Port = 5432
	}
	if cfg.Source.User == "" {
		cfg.Source.User = "postgres"
	}
	if cfg.Source.DBName == "" {
		cfg.Source.DBName = "diarco_data"
	}
	if cfg.Source.SSLMode == "" {
		cfg.Source.SSLMode = "disable"
	}
	if cfg.Source.MaxOpenConns == 0 {
		cfg.Source.MaxOpenConns = 10
	}
	if cfg.Source.MaxIdleConns == 0 {
		cfg.Source.MaxIdleConns = 2
	}
	if cfg.Source.ConnMaxLifetime == 0 {
		cfg.Source.ConnMaxLifetime = 60
	}
	if cfg.Source.ConnMaxIdleTime == 0 {
		cfg.Source.ConnMaxIdleTime = 30
	}
	if cfg.Source.StatementTimeout == 0 {
		cfg.Source.StatementTimeout = 5 * time.Minute
	}

	if cfg.Destination.Host == "" {
		cfg.Destination.Host = "localhost"
	}
	if cfg.Destination.Port == 0 {
		cfg.Destination.Port = 1433
	}
	if cfg.Destination.User == "" {
		cfg.Destination.User = "sa"
	}
	if cfg.Destination.Database == "" {
		cfg.Destination.Database = "SGM"
	}
	if cfg.Destination.Encrypt == "" {
		cfg.Destination.Encrypt = "disable"
	}
	if cfg.Destination.MaxOpenConns == 0 {
		cfg.Destination.MaxOpenConns = 5
	}
	if cfg.Destination.MaxIdleConns == 0 {
		cfg.Destination.MaxIdleConns = 2
	}
	if cfg.Destination.ConnMaxLifetime == 0 {
		cfg.Destination.ConnMaxLifetime = 60
	}
	if cfg.Destination.ConnMaxIdleTime == 0 {
		cfg.Destination.ConnMaxIdleTime = 30
	}
	if cfg.Destination.StatementTimeout == 0 {
		cfg.Destination.StatementTimeout = 2 * time.Minute
	}

	if cfg.Publish.Strategy == "" {
		cfg.Publish.Strategy = "antijoin"
	}
	if cfg.Publish.ClaimTTL == 0 {
		cfg.Publish.ClaimTTL = 30 * time.Minute
	}
	if cfg.Publish.RetryAttempts == 0 {
		cfg.Publish.RetryAttempts = 4
	}
	if cfg.Publish.RetryInitial == 0 {
		cfg.Publish.RetryInitial = time.Second
	}
	if cfg.Publish.RetryMax == 0 {
		cfg.Publish.RetryMax = 30 * time.Second
	}
	if len(cfg.Publish.DistributionCenters) == 0 {
		cfg.Publish.DistributionCenters = []string{"41CD=41", "82CD=82"}
	}
	if cfg.Publish.SourceTable == "" {
		cfg.Publish.SourceTable = "public.t080_oc_precarga_connexa"
	}
	if cfg.Publish.ProductsTable == "" {
		cfg.Publish.ProductsTable = "src.base_productos_vigentes"
	}
	if cfg.Publish.StockTable == "" {
		cfg.Publish.StockTable = "src.base_stock_sucursal"
	}
	cfg.Publish.Target = targetDefaults(cfg.Publish.Target, staging.DefaultTarget())

	if cfg.Transfers.HeaderTable == "" {
		cfg.Transfers.HeaderTable = "supply_planning.spl_distribution_transfer"
	}
	if cfg.Transfers.DetailTable == "" {
		cfg.Transfers.DetailTable = "supply_planning.spl_distribution_transfer_detail"
	}
	if cfg.Transfers.StatusTable == "" {
		cfg.Transfers.StatusTable = "supply_planning.spl_distribution_transfer_status"
	}
	if cfg.Transfers.PendingStatus == "" {
		cfg.Transfers.PendingStatus = "PRECARGA_CONNEXA"
	}
	if cfg.Transfers.PublishedStatusID == 0 {
		cfg.Transfers.PublishedStatusID = 80
	}
	cfg.Transfers.Target = targetDefaults(cfg.Transfers.Target, staging.TransferTarget())

	if cfg.Maintenance.NowaitAttempts == 0 {
		cfg.Maintenance.NowaitAttempts = 2
	}
	if cfg.Maintenance.LockTimeout == 0 {
		cfg.Maintenance.LockTimeout = 3 * time.Second
	}
	if cfg.Maintenance.StatementTimeout == 0 {
		cfg.Maintenance.StatementTimeout = 10 * time.Minute
	}
	if cfg.Maintenance.MaxAttempts == 0 {
		cfg.Maintenance.MaxAttempts = 5
	}
	if cfg.Maintenance.BackoffCap == 0 {
		cfg.Maintenance.BackoffCap = 60 * time.Second
	}
	if cfg.Maintenance.BatchSize == 0 {
		cfg.Maintenance.BatchSize = 1000
	}

	if cfg.Scheduler.PublishCron == "" {
		cfg.Scheduler.PublishCron = "*/15 * * * *"
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.HistorySize == 0 {
		cfg.Scheduler.HistorySize = 100
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = cfg.Publish.ClaimTTL
	}

	if cfg.Artifacts.Kind == "" {
		cfg.Artifacts.Kind = "none"
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "data/runs"
	}
	if cfg.Artifacts.Region == "" {
		cfg.Artifacts.Region = "us-east-1"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8081"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}

}

// targetDefaults fills a target given only by schema or table from defaults
func targetDefaults(t, defaults staging.Target) staging.Target {
	if len(t.Columns) == 0 {
		if t.Schema != "" {
			defaults.Schema = t.Schema
		}
		if t.Table != "" {
			defaults.Table = t.Table
		}
		if t.Name != "" {
			defaults.Name = t.Name
		}
		t = defaults
	}
	if t.Name == "" {
		t.Name = strings.ToLower(t.Table)
	}
	return t
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Source.MaxOpenConns <= 0 {
		return fmt.Errorf("source.max_open_conns must be positive")
	}
	if c.Source.MaxIdleConns < 0 {
		return fmt.Errorf("source.max_idle_conns cannot be negative")
	}
	if c.Source.MaxIdleConns > c.Source.MaxOpenConns {
		return fmt.Errorf("source.max_idle_conns (%d) cannot exceed source.max_open_conns (%d)",
			c.Source.MaxIdleConns, c.Source.MaxOpenConns)
	}
	if c.Destination.MaxOpenConns <= 0 {
		return fmt.Errorf("destination.max_open_conns must be positive")
	}
	if c.Destination.MaxIdleConns > c.Destination.MaxOpenConns {
		return fmt.Errorf("destination.max_idle_conns (%d) cannot exceed destination.max_open_conns (%d)",
			c.Destination.MaxIdleConns, c.Destination.MaxOpenConns)
	}
	if c.Source.StatementTimeout < 0 || c.Destination.StatementTimeout < 0 {
		return fmt.Errorf("statement_timeout cannot be negative")
	}

	switch c.Publish.Strategy {
	case "antijoin", "merge":
	default:
		return fmt.Errorf("publish.strategy must be antijoin or merge, got %q", c.Publish.Strategy)
	}
	if c.Publish.RetryAttempts < 1 {
		return fmt.Errorf("publish.retry_attempts must be at least 1")
	}
	if c.Publish.BatchLimit < 0 {
		return fmt.Errorf("publish.batch_limit cannot be negative")
	}
	for _, name := range []string{c.Publish.SourceTable, c.Publish.ProductsTable, c.Publish.StockTable} {
		if _, _, err := SplitQualified(name); err != nil {
			return err
		}
	}
	if err := c.Publish.Target.Validate(); err != nil {
		return fmt.Errorf("publish.target: %w", err)
	}

	if c.Transfers.Enabled {
		for _, name := range []string{c.Transfers.HeaderTable, c.Transfers.DetailTable, c.Transfers.StatusTable} {
			if _, _, err := SplitQualified(name); err != nil {
				return fmt.Errorf("transfers: %w", err)
			}
		}
		if c.Transfers.PublishedStatusID < 0 {
			return fmt.Errorf("transfers.published_status_id must be positive")
		}
		if err := c.Transfers.Target.Validate(); err != nil {
			return fmt.Errorf("transfers.target: %w", err)
		}
		if c.Transfers.Target.Name == c.Publish.Target.Name {
			return fmt.Errorf("transfers.target.name %q must differ from publish.target.name", c.Transfers.Target.Name)
		}
	}

	if c.Maintenance.MaxAttempts < 1 {
		return fmt.Errorf("maintenance.max_attempts must be at least 1")
	}
	if c.Maintenance.NowaitAttempts < 0 || c.Maintenance.NowaitAttempts > c.Maintenance.MaxAttempts {
		return fmt.Errorf("maintenance.nowait_attempts must be between 0 and max_attempts")
	}
	if c.Maintenance.LockTimeout <= 0 {
		return fmt.Errorf("maintenance.lock_timeout must be positive")
	}

	switch c.Artifacts.Kind {
	case "none", "local":
	case "s3":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required when artifacts.kind is s3")
		}
	default:
		return fmt.Errorf("artifacts.kind must be none, local or s3, got %q", c.Artifacts.Kind)
	}

	if c.Scheduler.HistorySize < 1 {
		return fmt.Errorf("scheduler.history_size must be positive")
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}

	if c.App.Env == "production" {
		if c.Source.Password == "" {
			return fmt.Errorf("source.password is required in production")
		}
		if c.Source.SSLMode == "disable" {
			return fmt.Errorf("source.sslmode cannot be 'disable' in production")
		}
		if c.Destination.Password == "" {
			return fmt.Errorf("destination.password is required in production")
		}
	}

	return nil
}

// SplitQualified splits "schema.table" and checks both identifiers
func SplitQualified(name string) (string, string, error) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		return "", "", fmt.Errorf("table %q must be qualified as schema.table", name)
	}
	if !staging.ValidIdentifier(schema) || !staging.ValidIdentifier(table) {
		return "", "", fmt.Errorf("table %q contains an invalid identifier", name)
	}
	return schema, table, nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	if d.StatementTimeout > 0 {
		q.Set("statement_timeout", strconv.FormatInt(d.StatementTimeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DSN returns the sqlserver:// connection string understood by go-mssqldb
func (s *SQLServerConfig) DSN() string {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(s.User, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
	}
	q := u.Query()
	q.Set("database", s.Database)
	q.Set("encrypt", s.Encrypt)
	q.Set("app name", "connexa-sync")
	u.RawQuery = q.Encode()
	return u.String()
}
