package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/scheduler"
)

// Бэкенды кэша и внешнего хранилища.
const (
	CacheMemory = "memory"
	CacheConsul = "consul"

	BlobNone  = "none"
	BlobS3    = "s3"
	BlobAzure = "azblob"
)

const dotEnvFile = ".env"

// Config — конфигурация процессов Netomata из окружения.
type Config struct {
	// Infrastructure
	DBURL        string
	RabbitURL    string
	CacheBackend string
	ConsulAddr   string
	ConsulPrefix string

	// DevMode разрешает process-local бэкенды (memory-кэш) для запуска
	// всех компонентов в одном процессе.
	DevMode bool

	// Runner
	RunnerConcurrency int
	RunnerRetries     int
	RunnerRetryDelay  time.Duration

	// OTP
	OTPWaitTimeout time.Duration
	OTPCodeTTL     time.Duration
	OTPLockTTL     time.Duration
	OTPPauseTTL    time.Duration

	// SSH
	SSHConnectTimeout time.Duration
	SSHCommandTimeout time.Duration
	SSHKnownHosts     string

	// Backups
	BackupInlineThreshold int
	BackupKeep            int
	BackupKeepByType      map[domain.BackupType]int
	BackupRetention       time.Duration
	BackupPostChange      bool
	BackupCron            string
	BackupTimezone        string

	// External storage
	BlobBackend           string
	S3Bucket              string
	S3Region              string
	S3Endpoint            string
	S3AccessKey           string
	S3SecretKey           string
	AzureConnectionString string
	AzureContainer        string

	// Orchestrator
	PolicyStrictAllowlist bool
	OrchWorkers           int
	OrchPollInterval      time.Duration

	// HTTP ports
	APIPort   string
	OrchPort  string
	SchedPort string
}

// Load читает .env (если есть) и переменные окружения, затем проверяет
// конфигурацию. Переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	var e env
	c := &Config{
		DBURL:        getenv("DB_URL", ""),
		RabbitURL:    getenv("RABBITMQ_URL", ""),
		CacheBackend: strings.ToLower(getenv("CACHE_BACKEND", CacheConsul)),
		ConsulAddr:   getenv("CONSUL_ADDR", "127.0.0.1:8500"),
		ConsulPrefix: getenv("CONSUL_PREFIX", ""),
		DevMode:      e.bool("NETOMATA_DEV", false),

		RunnerConcurrency: e.int("RUNNER_CONCURRENCY", 10),
		RunnerRetries:     e.int("RUNNER_RETRIES", 1),
		RunnerRetryDelay:  e.duration("RUNNER_RETRY_DELAY", 2*time.Second),

		OTPWaitTimeout: e.duration("OTP_WAIT_TIMEOUT", 5*time.Minute),
		OTPCodeTTL:     e.duration("OTP_CODE_TTL", 60*time.Second),
		OTPLockTTL:     e.duration("OTP_LOCK_TTL", 5*time.Second),
		OTPPauseTTL:    e.duration("OTP_PAUSE_TTL", 24*time.Hour),

		SSHConnectTimeout: e.duration("SSH_CONNECT_TIMEOUT", 15*time.Second),
		SSHCommandTimeout: e.duration("SSH_COMMAND_TIMEOUT", 2*time.Minute),
		SSHKnownHosts:     getenv("SSH_KNOWN_HOSTS", ""),

		BackupInlineThreshold: e.int("BACKUP_INLINE_THRESHOLD", 64*1024),
		BackupKeep:            e.int("BACKUP_KEEP", 20),
		BackupKeepByType:      make(map[domain.BackupType]int),
		BackupRetention:       time.Duration(e.int("BACKUP_RETENTION_DAYS", 180)) * 24 * time.Hour,
		BackupPostChange:      e.bool("BACKUP_POST_CHANGE", false),
		BackupCron:            getenv("BACKUP_CRON", scheduler.DefaultCron),
		BackupTimezone:        getenv("BACKUP_TZ", "UTC"),

		BlobBackend:           strings.ToLower(getenv("BLOB_BACKEND", BlobNone)),
		S3Bucket:              getenv("S3_BUCKET", ""),
		S3Region:              getenv("S3_REGION", ""),
		S3Endpoint:            getenv("S3_ENDPOINT", ""),
		S3AccessKey:           getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:           getenv("S3_SECRET_KEY", ""),
		AzureConnectionString: getenv("AZURE_CONNECTION_STRING", ""),
		AzureContainer:        getenv("AZURE_CONTAINER", ""),

		PolicyStrictAllowlist: e.bool("POLICY_STRICT_ALLOWLIST", false),
		OrchWorkers:           e.int("ORCH_WORKERS", 4),
		OrchPollInterval:      e.duration("ORCH_POLL_INTERVAL", 30*time.Second),

		APIPort:   getenv("API_PORT", "8080"),
		OrchPort:  getenv("ORCH_PORT", "8082"),
		SchedPort: getenv("SCHED_PORT", "8081"),
	}
	for _, t := range domain.BackupTypes {
		key := "BACKUP_KEEP_" + strings.ToUpper(string(t))
		if _, ok := os.LookupEnv(key); ok {
			c.BackupKeepByType[t] = e.int(key, c.BackupKeep)
		}
	}
	if e.err != nil {
		return nil, e.err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	consul := c.CacheBackend == CacheConsul
	s3 := c.BlobBackend == BlobS3
	azure := c.BlobBackend == BlobAzure

	return validation.ValidateStruct(&c,
		validation.Field(&c.CacheBackend,
			validation.Required,
			validation.In(CacheMemory, CacheConsul),
			validation.When(!c.DevMode, validation.In(CacheConsul).Error("memory cache is process-local, set NETOMATA_DEV=true to allow it")),
		),
		validation.Field(&c.ConsulAddr, validation.When(consul, validation.Required)),
		validation.Field(&c.RunnerConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.RunnerRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.OTPWaitTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OTPCodeTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OTPLockTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OTPPauseTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.BackupInlineThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.BackupKeep, validation.Required, validation.Min(1)),
		validation.Field(&c.BackupKeepByType, validation.Each(validation.Required, validation.Min(1))),
		validation.Field(&c.BackupRetention, validation.Required, validation.Min(24*time.Hour)),
		validation.Field(&c.BackupCron, validation.Required, validation.By(validCron)),
		validation.Field(&c.BlobBackend, validation.Required, validation.In(BlobNone, BlobS3, BlobAzure)),
		validation.Field(&c.S3Bucket, validation.When(s3, validation.Required)),
		validation.Field(&c.S3Region, validation.When(s3, validation.Required)),
		validation.Field(&c.S3Endpoint, is.URL),
		validation.Field(&c.S3SecretKey, validation.When(c.S3AccessKey != "", validation.Required)),
		validation.Field(&c.AzureConnectionString, validation.When(azure, validation.Required)),
		validation.Field(&c.AzureContainer, validation.When(azure, validation.Required)),
		validation.Field(&c.OrchWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.APIPort, validation.Required, is.Port),
		validation.Field(&c.OrchPort, validation.Required, is.Port),
		validation.Field(&c.SchedPort, validation.Required, is.Port),
	)
}

func validCron(value any) error {
	expr, _ := value.(string)
	return scheduler.ValidateCronExpr(expr)
}

// --- Environment helpers ---

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// env разбирает типизированные переменные, запоминая первую ошибку.
type env struct {
	err error
}

func (e *env) int(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

// duration принимает Go-формат ("90s", "5m") или число секунд.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s=%q: %w", key, value, err)
	}
}
