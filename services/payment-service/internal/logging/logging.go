// services/payment-service/internal/logging/logging.go
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. Production uses the JSON encoder, development the console one.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.Fields(zap.String("service", "payment-service")))
}

// MaskEmail keeps the first and last character of the local part: j***e@example.com.
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "[REDACTED]"
	}
	user := parts[0]
	if len(user) <= 2 {
		return strings.Repeat("*", len(user)) + "@" + parts[1]
	}
	return user[:1] + strings.Repeat("*", len(user)-2) + user[len(user)-1:] + "@" + parts[1]
}

// MaskRef keeps the last four characters of a processor reference (cus_..., pi_..., pm_...).
func MaskRef(ref string) string {
	if len(ref) <= 4 {
		return "****"
	}
	return "****" + ref[len(ref)-4:]
}

// MaskFields masks values whose key looks sensitive. The input is not modified.
func MaskFields(fields map[string]string) map[string]string {
	masked := make(map[string]string, len(fields))
	for k, v := range fields {
		key := strings.ToLower(k)
		switch {
		case strings.Contains(key, "email"):
			masked[k] = MaskEmail(v)
		case strings.Contains(key, "card"),
			strings.Contains(key, "cvc"),
			strings.Contains(key, "password"),
			strings.Contains(key, "secret"),
			strings.Contains(key, "token") && !strings.Contains(key, "idempotency"):
			masked[k] = "[REDACTED]"
		case strings.HasSuffix(key, "_ref"):
			masked[k] = MaskRef(v)
		default:
			masked[k] = v
		}
	}
	return masked
}

// Metadata logs a metadata map with sensitive values masked.
func Metadata(key string, fields map[string]string) zap.Field {
	return zap.Any(key, MaskFields(fields))
}
