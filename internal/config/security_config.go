package config

import (
	"strconv"
	"strings"
)

// SecurityConfig holds HTTP hardening settings
type SecurityConfig struct {
	// Rate limiting
	IPRateLimit    float64 // requests per second
	IPRateBurst    int
	AdminRateLimit float64 // requests per minute
	AdminRateBurst int

	CORSAllowedOrigins []string

	// BotAPIKey authenticates the Telegram bot when it exchanges a
	// Telegram identity for an access token
	BotAPIKey string
	// AdminTelegramIDs receive admin tokens
	AdminTelegramIDs []int64
	UseHSTS          bool
}

// LoadSecurityConfig reads the security settings from the environment
func LoadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		IPRateLimit:        getEnvFloat("RATE_LIMIT_RPS", 10),
		IPRateBurst:        getEnvInt("RATE_LIMIT_BURST", 20),
		AdminRateLimit:     getEnvFloat("ADMIN_RATE_LIMIT_RPM", 120),
		AdminRateBurst:     getEnvInt("ADMIN_RATE_LIMIT_BURST", 10),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		BotAPIKey:          getEnv("BOT_API_KEY", ""),
		AdminTelegramIDs:   parseIDs(getEnv("ADMIN_TELEGRAM_IDS", "")),
		UseHSTS:            getEnvBool("USE_HSTS", false),
	}
}

// IsAdmin reports whether the Telegram account is configured as an admin
func (s SecurityConfig) IsAdmin(telegramID int64) bool {
	for _, id := range s.AdminTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseIDs skips entries that are not integers
func parseIDs(value string) []int64 {
	var ids []int64
	for _, part := range splitList(value) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
