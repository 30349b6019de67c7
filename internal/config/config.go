package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Liveness LivenessConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	// Origin браузерных клиентов для CORS (ALLOWED_ORIGINS, через запятую)
	AllowedOrigins []string

	// Период очистки журнала уведомлений и сколько записей оставлять
	NotificationCleanup time.Duration
	NotificationKeep    int
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey       string // AES-256 ключ для exchange secret в конфигурациях ботов
	MetricsUser         string
	MetricsPasswordHash string // bcrypt hash пароля для /metrics
}

// LivenessConfig - настройки сверки живости ботов
type LivenessConfig struct {
	// Интервал heartbeat самого бота (internals.heartbeat_interval)
	// Порог свежести = 2 × HeartbeatInterval
	HeartbeatInterval time.Duration

	// Период фоновой проверки после начального разрешения
	PollInterval time.Duration

	// Жесткий таймаут одного probe (не зависит от таймаута транспорта)
	ProbeTimeout time.Duration

	// Сколько удерживается ручной stop без подтверждения (0 = 2 × PollInterval)
	StopGrace time.Duration

	// Окно после деплоя, в течение которого NotFound игнорируется
	DeployHold time.Duration

	// Кандидаты доменов, на которых может жить API бота
	CandidateDomains []string

	// Базовый URL оркестратора (/apa/podstatus, /apa/user/kubecheck)
	OrchestratorURL string

	// Bearer токен оркестратора (опционально)
	OrchestratorToken string

	// Имя пользователя Basic auth для API бота (пароль = user id сессии)
	APIUsername string

	// Ограничение исходящих запросов (req/sec и burst)
	RequestRate  float64
	RequestBurst int

	// Категории push-событий для подписки
	EventCategories []string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string // путь к файлу; пусто = stderr
	Development bool

	// Ротация файла логов (lumberjack)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load загружает конфигурацию из переменных окружения
//
// Если рядом лежит .env, он подгружается первым; уже выставленные
// переменные окружения имеют приоритет.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:5173",
			}),
			NotificationCleanup: getEnvAsDuration("NOTIFICATION_CLEANUP_INTERVAL", time.Hour),
			NotificationKeep:    getEnvAsInt("NOTIFICATION_KEEP", 1000),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "botdash"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
			MetricsUser:         getEnv("METRICS_USER", ""),
			MetricsPasswordHash: getEnv("METRICS_PASSWORD_HASH", ""),
		},
		Liveness: LivenessConfig{
			HeartbeatInterval: getEnvAsDuration("LIVENESS_HEARTBEAT_INTERVAL", 60*time.Second),
			PollInterval:      getEnvAsDuration("LIVENESS_POLL_INTERVAL", 30*time.Second),
			ProbeTimeout:      getEnvAsDuration("LIVENESS_PROBE_TIMEOUT", 3*time.Second),
			StopGrace:         getEnvAsDuration("LIVENESS_STOP_GRACE", 0),
			DeployHold:        getEnvAsDuration("LIVENESS_DEPLOY_HOLD", 90*time.Second),
			CandidateDomains: getEnvAsList("LIVENESS_CANDIDATE_DOMAINS", []string{
				"https://eu.10xtraders.ai",
				"https://10xtraders.ai",
			}),
			OrchestratorURL:   getEnv("LIVENESS_ORCHESTRATOR_URL", "https://10xtraders.ai"),
			OrchestratorToken: getEnv("LIVENESS_ORCHESTRATOR_TOKEN", ""),
			APIUsername:       getEnv("LIVENESS_API_USERNAME", "meghan"),
			RequestRate:       getEnvAsFloat("LIVENESS_REQUEST_RATE", 50),
			RequestBurst:      getEnvAsInt("LIVENESS_REQUEST_BURST", 100),
			EventCategories: getEnvAsList("LIVENESS_EVENT_CATEGORIES", []string{
				"status", "startup", "entry", "entry_fill", "exit", "exit_fill", "warning", "strategy_msg",
			}),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			MaxSizeMB:   getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups:  getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays:  getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if cfg.Liveness.StopGrace <= 0 {
		cfg.Liveness.StopGrace = 2 * cfg.Liveness.PollInterval
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования exchange secret
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting exchange secrets")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Security.MetricsUser != "" && c.Security.MetricsPasswordHash == "" {
		return fmt.Errorf("METRICS_PASSWORD_HASH is required when METRICS_USER is set")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	l := c.Liveness
	if l.HeartbeatInterval <= 0 {
		return fmt.Errorf("LIVENESS_HEARTBEAT_INTERVAL must be positive, got %v", l.HeartbeatInterval)
	}

	if l.PollInterval <= 0 {
		return fmt.Errorf("LIVENESS_POLL_INTERVAL must be positive, got %v", l.PollInterval)
	}

	// probe должен укладываться в период опроса, иначе опросы наслаиваются
	if l.ProbeTimeout <= 0 || l.ProbeTimeout >= l.PollInterval {
		return fmt.Errorf("LIVENESS_PROBE_TIMEOUT must be positive and below the poll interval, got %v", l.ProbeTimeout)
	}

	if l.DeployHold < 0 {
		return fmt.Errorf("LIVENESS_DEPLOY_HOLD cannot be negative, got %v", l.DeployHold)
	}

	if len(l.CandidateDomains) == 0 {
		return fmt.Errorf("LIVENESS_CANDIDATE_DOMAINS must contain at least one domain")
	}

	if l.RequestRate <= 0 || l.RequestBurst < 1 {
		return fmt.Errorf("LIVENESS_REQUEST_RATE and LIVENESS_REQUEST_BURST must be positive")
	}

	return nil
}

// StalenessThreshold возвращает порог свежести heartbeat (2 × интервал)
func (l LivenessConfig) StalenessThreshold() time.Duration {
	return 2 * l.HeartbeatInterval
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает comma-separated список, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
