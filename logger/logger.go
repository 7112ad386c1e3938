package logger

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Setup configures the process logger. Development mode writes
// human-readable console output.
func Setup(level string, development bool) {
	var out io.Writer = os.Stdout
	if development {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	base = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// L returns the process logger.
func L() *zerolog.Logger {
	return &base
}

// Component returns a logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// FromContext adds request_id if present.
func FromContext(ctx context.Context) zerolog.Logger {
	reqID, _ := ctx.Value(ctxKeyRequestID).(string)
	if reqID == "" {
		return base
	}
	return base.With().Str("request_id", reqID).Logger()
}

// MaskPhone keeps only the last four digits of an address.
func MaskPhone(phone string) string {
	if len(phone) > 4 {
		return "***" + phone[len(phone)-4:]
	}
	return "****"
}

// phoneLike matches runs of seven or more digits, allowing the separators
// people put inside phone numbers. Shorter runs such as status and error
// codes are left alone.
var phoneLike = regexp.MustCompile(`\+?\d(?:[\s\-().]*\d){6,}`)

// RedactDigits masks phone-number-like digit runs in provider error text
// before it is logged or stored.
func RedactDigits(s string) string {
	return phoneLike.ReplaceAllString(s, "[redacted]")
}

// ShortKey shortens a hashed user key for log correlation.
func ShortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
