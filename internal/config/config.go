package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultQueryTimeout   = 5 * time.Second
	defaultExecuteTimeout = 10 * time.Second
	defaultAttachmentDir  = "./data"
	defaultServerAddr     = ":8080"
	defaultDisplayName    = "Anonymous"
)

// Provider exposes the settings the database layer needs.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	DBUrl            string `validate:"required,url"`
	DBNs             string `validate:"required"`
	DBDb             string `validate:"required"`
	DBUser           string
	DBPass           string
	DBQueryTimeout   time.Duration
	DBExecuteTimeout time.Duration

	AttachmentDir     string
	AttachmentBaseURL string
	ServerAddr        string

	UID         string
	DisplayName string
	PhotoURL    string

	LogFormat string
	LogLevel  string
}

var _ Provider = (*Config)(nil)

// New loads configuration from a .env file, if present, and the environment.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() *Config {
	cfg := &Config{
		DBUrl:            os.Getenv("SURREAL_URL"),
		DBUser:           os.Getenv("SURREAL_USER"),
		DBPass:           os.Getenv("SURREAL_PASS"),
		DBNs:             os.Getenv("SURREAL_NS"),
		DBDb:             os.Getenv("SURREAL_DB"),
		DBQueryTimeout:   durationEnv("DB_QUERY_TIMEOUT", defaultQueryTimeout),
		DBExecuteTimeout: durationEnv("DB_EXECUTE_TIMEOUT", defaultExecuteTimeout),

		AttachmentDir:     stringEnv("ATTACHMENT_DIR", defaultAttachmentDir),
		AttachmentBaseURL: os.Getenv("ATTACHMENT_BASE_URL"),
		ServerAddr:        stringEnv("SERVER_ADDR", defaultServerAddr),

		UID:         os.Getenv("CHAT_UID"),
		DisplayName: stringEnv("CHAT_DISPLAY_NAME", defaultDisplayName),
		PhotoURL:    os.Getenv("CHAT_PHOTO_URL"),

		LogFormat: stringEnv("LOG_FORMAT", "text"),
		LogLevel:  stringEnv("LOG_LEVEL", "debug"),
	}

	if cfg.AttachmentBaseURL == "" {
		cfg.AttachmentBaseURL = "http://localhost" + cfg.ServerAddr
		if !strings.HasPrefix(cfg.ServerAddr, ":") {
			cfg.AttachmentBaseURL = "http://" + cfg.ServerAddr
		}
	}
	return cfg
}

// RequireDB reports which database settings are missing or malformed.
func (c *Config) RequireDB() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, envName(fe.Field()))
	}
	return fmt.Errorf("database configuration incomplete: check %s", strings.Join(fields, ", "))
}

func envName(field string) string {
	switch field {
	case "DBUrl":
		return "SURREAL_URL"
	case "DBNs":
		return "SURREAL_NS"
	case "DBDb":
		return "SURREAL_DB"
	}
	return field
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// durationEnv accepts Go durations ("750ms") or a bare number of seconds.
func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid %s=%q, using default %s", key, v, def)
	return def
}

func (c *Config) GetDBURL() string { return c.DBUrl }
func (c *Config) GetDBNs() string { return c.DBNs }
func (c *Config) GetDBDb() string { return c.DBDb }
func (c *Config) GetDBUser() string { return c.DBUser }
func (c *Config) GetDBPass() string { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }
