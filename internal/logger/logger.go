package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger is a thin structured logger over zap's sugared API.
// Methods are safe to call on a nil receiver.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kv ...any) {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	l.SugaredLogger.Debugw(msg, redact(kv)...)
}

func (l *Logger) Info(msg string, kv ...any) {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	l.SugaredLogger.Infow(msg, redact(kv)...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	l.SugaredLogger.Warnw(msg, redact(kv)...)
}

func (l *Logger) Error(msg string, kv ...any) {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	l.SugaredLogger.Errorw(msg, redact(kv)...)
}

func (l *Logger) With(kv ...any) *Logger {
	if l == nil || l.SugaredLogger == nil {
		return Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger.With(redact(kv)...)}
}

var secretKeys = []string{"api_key", "apikey", "authorization", "token", "password", "secret"}

func redact(kv []any) []any {
	if len(kv) == 0 {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key, _ := kv[i].(string)
		if isSecretKey(key) {
			out = append(out, kv[i], "[REDACTED]")
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func isSecretKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
