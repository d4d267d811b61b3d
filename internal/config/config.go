package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Sender    SenderConfig    `yaml:"sender"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	SES       SESConfig       `yaml:"ses"`
	Resend    ResendConfig    `yaml:"resend"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SenderConfig holds the default envelope identity applied to outgoing
// messages when the caller does not set one.
type SenderConfig struct {
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
	ReplyTo   string `yaml:"reply_to"`
	Channel   string `yaml:"channel"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	MaxRecipients  int    `yaml:"max_recipients"`
	Batch          bool   `yaml:"batch"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	MaxRecipients  int    `yaml:"max_recipients"`
	Batch          bool   `yaml:"batch"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey         string `yaml:"api_key"`
	Domain         string `yaml:"domain"`
	BaseURL        string `yaml:"base_url"`
	MaxRecipients  int    `yaml:"max_recipients"`
	Batch          bool   `yaml:"batch"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Region        string `yaml:"region"`
	MaxRecipients int    `yaml:"max_recipients"`
}

// ResendConfig holds Resend API configuration
type ResendConfig struct {
	APIKey        string `yaml:"api_key"`
	MaxRecipients int    `yaml:"max_recipients"`
}

// SMTPConfig holds direct SMTP relay configuration
type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Encryption     string `yaml:"encryption"`
	MaxRecipients  int    `yaml:"max_recipients"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LoggingConfig controls log verbosity and PII redaction
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Sender.Channel == "" {
		cfg.Sender.Channel = "loopback"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.SparkPost.TimeoutSeconds == 0 {
		cfg.SparkPost.TimeoutSeconds = 60
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com/v3"
	}
	if cfg.SendGrid.TimeoutSeconds == 0 {
		cfg.SendGrid.TimeoutSeconds = 60
	}
	if cfg.Mailgun.BaseURL == "" {
		cfg.Mailgun.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Mailgun.TimeoutSeconds == 0 {
		cfg.Mailgun.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 25
	}
	if cfg.SMTP.Encryption == "" {
		cfg.SMTP.Encryption = "starttls"
	}
	if cfg.SMTP.TimeoutSeconds == 0 {
		cfg.SMTP.TimeoutSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("COURIER_CHANNEL"); v != "" {
		cfg.Sender.Channel = v
	}
	if v := os.Getenv("COURIER_FROM_EMAIL"); v != "" {
		cfg.Sender.FromEmail = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_BASE_URL"); v != "" {
		cfg.SendGrid.BaseURL = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("MAILGUN_BASE_URL"); v != "" {
		cfg.Mailgun.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, convErr := strconv.Atoi(v)
		if convErr != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", v, convErr)
		}
		cfg.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
