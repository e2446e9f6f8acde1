// Package utils provides logging and identifier helpers for the analyzer
package utils

import (
	"io"
	"os"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new logger instance with specified configuration
func NewLogger(config *types.LoggingConfig) *Logger {
	logger := logrus.New()
	if config == nil {
		config = &types.LoggingConfig{Level: "info", Format: "text"}
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	} else if config.Output != "" && config.Output != "stdout" {
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.WithError(err).Error("Failed to open log file, falling back to stdout")
		} else {
			output = file
		}
	}
	logger.SetOutput(output)

	return &Logger{Logger: logger}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Logger{Logger: logger}
}

// WithRequestID adds request ID to log context
func (l *Logger) WithRequestID(requestID string) *logrus.Entry {
	return l.WithField("request_id", requestID)
}

// WithProvider adds provider information to log context
func (l *Logger) WithProvider(provider string) *logrus.Entry {
	return l.WithField("provider", provider)
}

// WithDuration adds duration to log context
func (l *Logger) WithDuration(duration time.Duration) *logrus.Entry {
	return l.WithField("duration_ms", duration.Milliseconds())
}

// WithHTTPRequest logs HTTP request details
func (l *Logger) WithHTTPRequest(method, path, userAgent, clientIP string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"http_method":     method,
		"http_path":       path,
		"http_user_agent": userAgent,
		"client_ip":       clientIP,
	})
}

// LogAPIResponse logs a completed API request
func (l *Logger) LogAPIResponse(requestID, method, path string, statusCode int, duration time.Duration) {
	entry := l.WithFields(logrus.Fields{
		"type":        "api_response",
		"request_id":  requestID,
		"http_method": method,
		"http_path":   path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case statusCode >= 500:
		entry.Error("API request failed")
	case statusCode >= 400:
		entry.Warn("API request completed with error")
	default:
		entry.Info("API request completed")
	}
}

// LogProviderTest logs the outcome of a provider health probe
func (l *Logger) LogProviderTest(provider string, ok bool, duration time.Duration, perr *types.ProviderError) {
	entry := l.WithFields(logrus.Fields{
		"type":        "provider_test",
		"provider":    provider,
		"duration_ms": duration.Milliseconds(),
	})
	if ok {
		entry.Info("Provider test succeeded")
		return
	}
	if perr != nil {
		entry = entry.WithFields(logrus.Fields{
			"error_type":  perr.Type,
			"recoverable": perr.Recoverable,
			"error":       perr.Message,
		})
	}
	entry.Warn("Provider test failed")
}

// LogProviderConfig logs a configuration change without leaking the key
func (l *Logger) LogProviderConfig(provider string, cfg types.ProviderConfig) {
	l.WithFields(logrus.Fields{
		"type":     "provider_config",
		"provider": provider,
		"model":    cfg.Model,
		"api_key":  MaskAPIKey(cfg.APIKey),
	}).Info("Provider configuration updated")
}

// MaskAPIKey masks an API key for logging (shows only the first 8 characters)
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:8] + "****"
}
