package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"coldreach/models"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	Redis     *redis.Client
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type IMAPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	Mailbox  string `json:"mailbox"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	AppURL      string `json:"app_url"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// LLM provider
	LLMAPIKey string `json:"-"`

	// Cold outbound mail. Empty provider means simulated sends.
	ColdMailProvider string `json:"cold_mail_provider"` // ses, mailgun, or empty
	ColdMailAPIKey   string `json:"-"`
	ColdMailDomain   string `json:"cold_mail_domain"`
	ColdMailRegion   string `json:"cold_mail_region"`
	ColdMailFrom     string `json:"cold_mail_from"`

	// Transactional mail over SMTP
	TransactionalAPIKey string `json:"-"`
	SMTPHost            string `json:"smtp_host"`
	SMTPPort            int    `json:"smtp_port"`
	SMTPUsername        string `json:"smtp_username"`
	SMTPPassword        string `json:"-"`
	FromEmail           string `json:"from_email"`

	// Payment processor
	StripeSecretKey      string `json:"-"`
	PaymentWebhookSecret string `json:"-"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"sentry_dsn"`

	Redis RedisConfig `json:"redis"`
	IMAP  IMAPConfig  `json:"imap"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		AppURL:      getEnv("APP_URL", "http://localhost:5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "coldreach"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		LLMAPIKey: getEnv("LLM_API_KEY", ""),

		ColdMailProvider: getEnv("COLD_MAIL_PROVIDER", ""),
		ColdMailAPIKey:   getEnv("COLD_MAIL_API_KEY", ""),
		ColdMailDomain:   getEnv("COLD_MAIL_DOMAIN", ""),
		ColdMailRegion:   getEnv("COLD_MAIL_REGION", "us-east-1"),
		ColdMailFrom:     getEnv("COLD_MAIL_FROM", ""),

		TransactionalAPIKey: getEnv("TRANSACTIONAL_API_KEY", ""),
		SMTPHost:            getEnv("SMTP_HOST", "localhost"),
		SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		FromEmail:           getEnv("FROM_EMAIL", "hello@coldreach.app"),

		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		IMAP: IMAPConfig{
			Host:     getEnv("IMAP_HOST", ""),
			Port:     getEnvAsInt("IMAP_PORT", 993),
			Username: getEnv("IMAP_USERNAME", ""),
			Password: getEnv("IMAP_PASSWORD", ""),
			Mailbox:  getEnv("IMAP_MAILBOX", "INBOX"),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for pipeline stages")
	}
	if AppConfig.ColdMailProvider != "" && AppConfig.ColdMailAPIKey == "" {
		return fmt.Errorf("COLD_MAIL_API_KEY is required when COLD_MAIL_PROVIDER is set")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if AppConfig.PaymentWebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := DB.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	if err := models.CreateDefaultPlans(DB); err != nil {
		return fmt.Errorf("failed to seed default plans: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// ConnectRedis opens the optional redis connection used for advisory
// job locks and the approval idempotency cache
func ConnectRedis() error {
	if !AppConfig.Redis.Enabled {
		log.Println("Redis disabled, using in-process fallbacks")
		return nil
	}

	Redis = redis.NewClient(&redis.Options{
		Addr:     AppConfig.Redis.Address,
		Password: AppConfig.Redis.Password,
		DB:       AppConfig.Redis.DB,
	})
	log.Printf("✅ Redis client configured for %s", AppConfig.Redis.Address)
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Cold mail provider: %s", coldProviderLabel())
	log.Printf("Redis enabled: %t, IMAP poller: %t",
		AppConfig.Redis.Enabled,
		AppConfig.IMAP.Host != "")
}

func coldProviderLabel() string {
	if AppConfig.ColdMailProvider == "" {
		return "simulated"
	}
	return AppConfig.ColdMailProvider
}
