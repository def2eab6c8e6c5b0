package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	Environment string

	// Mailbox access (Gmail REST, OAuth refresh-token flow).
	GmailUser         string
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string

	// Outbound SMTP. The app password is Google's per-app credential for
	// SMTP sends; it is independent of the OAuth tokens above.
	SMTPHost         string
	SMTPPort         string
	GmailAppPassword string

	// Provider profile (the utility the bills come from).
	ProviderName   string // display name, e.g. "PG&E"
	ProviderSender string

	// Payment service profile.
	PaymentService   string // e.g. "venmo"
	PaymentSender    string
	PaymentRecipient string // handle the charge requests are addressed to

	// Split and matching rules.
	SplitRatioA     decimal.Decimal
	AmountTolerance decimal.Decimal
	MatchWindowDays int // 0 disables due-date proximity matching

	// Scan windows and limits.
	LookbackDays        int
	PaymentLookbackDays int
	SearchLimit         int

	// Notification channels.
	TestMode       bool
	SMSEnabled     bool
	SMSGateway     string // carrier email gateway, e.g. 5551234567@vtext.com
	EmailEnabled   bool
	PartyAEmail    string
	PartyAName     string
	PartyBName     string
	IncludeAppLink bool

	// Optional operator bot.
	TelegramToken      string
	OperatorTelegramID int64

	// Scheduling.
	CronSpecScan         string
	CronSpecPaymentCheck string
	RunTimeoutMinutes    int
}

// Load reads configuration from environment variables and a .env file when
// present. godotenv never overrides variables that are already set.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	cfg.GmailUser = os.Getenv("GMAIL_USER")
	if cfg.GmailUser == "" {
		return nil, fmt.Errorf("GMAIL_USER is not set")
	}
	cfg.GmailClientID = os.Getenv("GMAIL_CLIENT_ID")
	if cfg.GmailClientID == "" {
		return nil, fmt.Errorf("GMAIL_CLIENT_ID is not set")
	}
	cfg.GmailClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	if cfg.GmailClientSecret == "" {
		return nil, fmt.Errorf("GMAIL_CLIENT_SECRET is not set")
	}
	cfg.GmailRefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")
	if cfg.GmailRefreshToken == "" {
		return nil, fmt.Errorf("GMAIL_REFRESH_TOKEN is not set")
	}

	cfg.SMTPHost = getEnv("SMTP_HOST", "smtp.gmail.com")
	cfg.SMTPPort = getEnv("SMTP_PORT", "587")
	cfg.GmailAppPassword = os.Getenv("GMAIL_APP_PASSWORD")

	cfg.ProviderName = getEnv("PROVIDER_NAME", "PG&E")
	cfg.ProviderSender = getEnv("PROVIDER_SENDER", "DoNotReply@billpay.pge.com")
	cfg.PaymentService = strings.ToLower(getEnv("PAYMENT_SERVICE", "venmo"))
	cfg.PaymentSender = getEnv("PAYMENT_SENDER", "venmo@venmo.com")
	cfg.PaymentRecipient = os.Getenv("PAYMENT_RECIPIENT")
	if cfg.PaymentRecipient == "" {
		return nil, fmt.Errorf("PAYMENT_RECIPIENT is not set")
	}

	cfg.SplitRatioA, err = decimal.NewFromString(getEnv("SPLIT_RATIO_A", "0.333333"))
	if err != nil {
		return nil, fmt.Errorf("invalid SPLIT_RATIO_A: %w", err)
	}
	if cfg.SplitRatioA.LessThanOrEqual(decimal.Zero) || cfg.SplitRatioA.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("SPLIT_RATIO_A must be strictly between 0 and 1, got %s", cfg.SplitRatioA)
	}
	cfg.AmountTolerance, err = decimal.NewFromString(getEnv("AMOUNT_TOLERANCE", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("invalid AMOUNT_TOLERANCE: %w", err)
	}

	if cfg.MatchWindowDays, err = getEnvInt("MATCH_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.LookbackDays, err = getEnvInt("LOOKBACK_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.PaymentLookbackDays, err = getEnvInt("PAYMENT_LOOKBACK_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.SearchLimit, err = getEnvInt("SEARCH_LIMIT", 50); err != nil {
		return nil, err
	}

	cfg.TestMode = getEnvBool("TEST_MODE", true)
	cfg.SMSEnabled = getEnvBool("NOTIFY_SMS_ENABLED", true)
	cfg.SMSGateway = os.Getenv("SMS_GATEWAY")
	cfg.EmailEnabled = getEnvBool("NOTIFY_EMAIL_ENABLED", true)
	cfg.PartyAEmail = os.Getenv("PARTY_A_EMAIL")
	cfg.PartyAName = getEnv("PARTY_A_NAME", "roommate")
	cfg.PartyBName = getEnv("PARTY_B_NAME", "me")
	cfg.IncludeAppLink = getEnvBool("INCLUDE_APP_LINK", true)

	// Channels that are enabled must be usable; catching this at startup
	// beats a transport failure on the first real bill.
	if !cfg.TestMode {
		if cfg.SMSEnabled && cfg.SMSGateway == "" {
			return nil, fmt.Errorf("NOTIFY_SMS_ENABLED is set but SMS_GATEWAY is not")
		}
		if cfg.EmailEnabled && cfg.PartyAEmail == "" {
			return nil, fmt.Errorf("NOTIFY_EMAIL_ENABLED is set but PARTY_A_EMAIL is not")
		}
		if (cfg.SMSEnabled || cfg.EmailEnabled) && cfg.GmailAppPassword == "" {
			return nil, fmt.Errorf("GMAIL_APP_PASSWORD is required when SMS or email notifications are enabled")
		}
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		operatorIDStr := os.Getenv("OPERATOR_TELEGRAM_ID")
		if operatorIDStr == "" {
			return nil, fmt.Errorf("OPERATOR_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
		}
		cfg.OperatorTelegramID, err = strconv.ParseInt(operatorIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPERATOR_TELEGRAM_ID: %w", err)
		}
	}

	cfg.CronSpecScan = getEnv("CRON_SPEC_SCAN", "0 9 * * *")
	cfg.CronSpecPaymentCheck = getEnv("CRON_SPEC_PAYMENT_CHECK", "0 18 * * *")
	if cfg.RunTimeoutMinutes, err = getEnvInt("RUN_TIMEOUT_MINUTES", 10); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}
