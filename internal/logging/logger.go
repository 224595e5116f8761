// Package logging builds the zap logger shared by every component and the
// helpers that keep tokens and client identifiers out of log lines.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// New returns a JSON logger for production and a console logger otherwise.
func New(level string, environment string) (*zap.Logger, error) {
	parsedLevel, parseLevelError := zapcore.ParseLevel(strings.TrimSpace(level))
	if parseLevelError != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, parseLevelError)
	}

	var loggerConfig zap.Config
	if strings.EqualFold(strings.TrimSpace(environment), EnvProduction) {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}
	loggerConfig.Level = zap.NewAtomicLevelAt(parsedLevel)
	loggerConfig.EncoderConfig.TimeKey = "ts"
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, buildError := loggerConfig.Build()
	if buildError != nil {
		return nil, fmt.Errorf("build logger: %w", buildError)
	}
	return logger.With(zap.String("service", "ballotgate")), nil
}
