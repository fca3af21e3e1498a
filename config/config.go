package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"outreachd/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type GraphConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
}

type IMAPConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	Encryption string `json:"encryption"` // SSL, STARTTLS or plain
	Mailbox    string `json:"mailbox"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost     string `json:"db_host"`
	DBPort     string `json:"db_port"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"-" validate:"required"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_ssl_mode"`

	SenderEmail string `json:"sender_email" validate:"required,email"`
	SenderName  string `json:"sender_name"`
	Transport   string `json:"transport" validate:"oneof=smtp graph"`

	SMTP  SMTPConfig  `json:"smtp"`
	Graph GraphConfig `json:"graph"`
	IMAP  IMAPConfig  `json:"imap"`

	RateLimitPerMinute int         `json:"rate_limit_per_minute" validate:"gt=0"`
	RateLimitPerDay    int         `json:"rate_limit_per_day" validate:"gt=0"`
	RateStateFile      string      `json:"rate_state_file"`
	Redis              RedisConfig `json:"redis"`

	FollowUp1DelayDays int  `json:"follow_up_1_delay_days" validate:"gt=0"`
	FollowUp2Enabled   bool `json:"follow_up_2_enabled"`
	FollowUp2DelayDays int  `json:"follow_up_2_delay_days" validate:"gt=0"`

	PollIntervalMinutes       int `json:"poll_interval_minutes" validate:"gt=0"`
	ReplyCheckIntervalMinutes int `json:"reply_check_interval_minutes" validate:"gt=0"`
	ReplyLookbackDays         int `json:"reply_lookback_days" validate:"gt=0"`

	// Overridable heuristic data for the reply matcher. Empty means
	// package defaults.
	ReplySubjectPrefixes []string `json:"reply_subject_prefixes"`
	AutoReplyPhrases     []string `json:"auto_reply_phrases"`

	SentryDSN string `json:"-"`
}

func init() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "outreachd"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		SenderEmail: getEnv("SENDER_EMAIL", ""),
		SenderName:  getEnv("SENDER_NAME", ""),
		Transport:   getEnv("TRANSPORT", "smtp"),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		Graph: GraphConfig{
			TenantID:     getEnv("MICROSOFT_TENANT_ID", ""),
			ClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
			ClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		},
		IMAP: IMAPConfig{
			Host:       getEnv("IMAP_HOST", ""),
			Port:       getEnvAsInt("IMAP_PORT", 993),
			Username:   getEnv("IMAP_USERNAME", ""),
			Password:   getEnv("IMAP_PASSWORD", ""),
			Encryption: getEnv("IMAP_ENCRYPTION", "SSL"),
			Mailbox:    getEnv("IMAP_MAILBOX", "INBOX"),
		},

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitPerDay:    getEnvAsInt("RATE_LIMIT_PER_DAY", 10000),
		RateStateFile:      getEnv("RATE_STATE_FILE", "rate_limiter_state.json"),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		FollowUp1DelayDays: getEnvAsInt("FOLLOW_UP_1_DELAY_DAYS", 14),
		FollowUp2Enabled:   getEnv("FOLLOW_UP_2_ENABLED", "true") == "true",
		FollowUp2DelayDays: getEnvAsInt("FOLLOW_UP_2_DELAY_DAYS", 10),

		PollIntervalMinutes:       getEnvAsInt("POLL_INTERVAL_MINUTES", 1),
		ReplyCheckIntervalMinutes: getEnvAsInt("REPLY_CHECK_INTERVAL_MINUTES", 15),
		ReplyLookbackDays:         getEnvAsInt("REPLY_LOOKBACK_DAYS", 30),

		ReplySubjectPrefixes: getEnvAsList("REPLY_SUBJECT_PREFIXES"),
		AutoReplyPhrases:     getEnvAsList("AUTO_REPLY_PHRASES"),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if err := Validate(&AppConfig); err != nil {
		return err
	}

	logConfig()
	return nil
}

// Validate applies startup validation. Configuration errors are fatal;
// the caller must refuse to start on a non-nil return.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var msgs []string
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
	}

	switch cfg.Transport {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return fmt.Errorf("invalid configuration: SMTP_HOST is required for the smtp transport")
		}
	case "graph":
		if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" || cfg.Graph.ClientSecret == "" {
			return fmt.Errorf("invalid configuration: Microsoft Graph credentials are required for the graph transport")
		}
	}
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

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Connected to the database, running migrations...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Recipient{},
		&models.SequenceStep{},
		&models.ReplyEvent{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName)
	log.Printf("Transport: %s, sender: %s", AppConfig.Transport, AppConfig.SenderEmail)
	log.Printf("Rate limits: %d/min, %d/day", AppConfig.RateLimitPerMinute, AppConfig.RateLimitPerDay)
	log.Printf("Follow-ups: +%dd, step 3 enabled=%t (+%dd)",
		AppConfig.FollowUp1DelayDays, AppConfig.FollowUp2Enabled, AppConfig.FollowUp2DelayDays)
}
