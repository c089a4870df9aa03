package monitoring

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewZapLogger builds a zap logger. Mode "prod" or "production" selects
// JSON output; anything else selects the console development encoder.
func NewZapLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

// NewZapLogf adapts a zap logger to the Logf signature so it can be passed
// to SetLogger. A leading "[component]" tag moves into a component field.
func NewZapLogf(l *zap.Logger) func(format string, v ...interface{}) {
	l = l.WithOptions(zap.AddCallerSkip(1))
	return func(format string, v ...interface{}) {
		component, msg := splitComponent(fmt.Sprintf(format, v...))
		if component == "" {
			l.Info(msg)
			return
		}
		l.Info(msg, zap.String("component", component))
	}
}

func splitComponent(s string) (component, msg string) {
	if !strings.HasPrefix(s, "[") {
		return "", s
	}
	end := strings.IndexByte(s, ']')
	if end <= 1 || strings.ContainsAny(s[1:end], " \t") {
		return "", s
	}
	return s[1:end], strings.TrimSpace(s[end+1:])
}
