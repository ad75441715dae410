package audit

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keygate.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var (
	mu     sync.Mutex
	logger = zerolog.New(os.Stdout)
)

// SetOutput redirects audit output. Intended for tests and for operators
// who ship audit lines to a separate sink.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w)
}

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and subject context.
// Specific denial reasons belong here and in the service log, never in the
// HTTP response.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	mu.Lock()
	l := logger
	mu.Unlock()

	e := l.Log().
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano)).
		Str("type", "audit").
		Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		e = e.Str("subject", claims.Subject)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	e.Fields(map[string]any{"fields": fields}).Send()
	return nil
}
