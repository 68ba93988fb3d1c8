package logging

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "info", "INFO":
		return slog.LevelInfo
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// Model hosts commonly carry access tokens in query parameters, so userinfo
// is stripped and query values are masked.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// Helper functions for common logging patterns

// LogFetchStart logs the start of a fetch attempt
func LogFetchStart(attemptID, modelID, url string) {
	if Logger == nil {
		return
	}
	Logger.Info("fetch started",
		"event", "fetch_start",
		"attempt_id", attemptID,
		"model_id", modelID,
		"url", RedactURL(url))
}

// LogFetchProgress logs fetch progress updates
func LogFetchProgress(attemptID, modelID string, progress int) {
	if Logger == nil {
		return
	}
	Logger.Debug("fetch progress",
		"event", "fetch_progress",
		"attempt_id", attemptID,
		"model_id", modelID,
		"progress", progress)
}

// LogFetchComplete logs successful fetch completion
func LogFetchComplete(attemptID, modelID string) {
	if Logger == nil {
		return
	}
	Logger.Info("fetch complete",
		"event", "fetch_complete",
		"attempt_id", attemptID,
		"model_id", modelID)
}

// LogFetchError logs fetch failures
func LogFetchError(attemptID, modelID string, err error) {
	if Logger == nil {
		return
	}
	Logger.Error("fetch failed",
		"event", "fetch_error",
		"attempt_id", attemptID,
		"model_id", modelID,
		"error", err)
}

// LogFetchStateChange logs attempt state transitions
func LogFetchStateChange(attemptID, modelID string, state string) {
	if Logger == nil {
		return
	}
	Logger.Info("fetch state changed",
		"event", "fetch_state_change",
		"attempt_id", attemptID,
		"model_id", modelID,
		"state", state)
}

// LogDBOperation logs database operations
func LogDBOperation(operation string, id int64, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("database operation failed",
			"event", "db_operation_error",
			"operation", operation,
			"id", id,
			"error", err)
	} else {
		Logger.Info("database operation",
			"event", "db_operation",
			"operation", operation,
			"id", id)
	}
}

// LogDBCreate logs database record creation
func LogDBCreate(id int64, modelID, url, status string, progress int) {
	if Logger == nil {
		return
	}
	Logger.Info("database record created",
		"event", "db_create",
		"id", id,
		"model_id", modelID,
		"url", RedactURL(url),
		"status", status,
		"progress", progress)
}

// LogDBUpdate logs database updates
func LogDBUpdate(operation string, id int64, fields map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "db_update",
		"operation", operation,
		"id", id,
	}
	for k, v := range fields {
		if strings.EqualFold(k, "url") {
			if urlValue, ok := v.(string); ok {
				v = RedactURL(urlValue)
			}
		}
		attrs = append(attrs, k, v)
	}
	Logger.Info("database updated", attrs...)
}

// LogHTTPRequest logs HTTP request handling
func LogHTTPRequest(method, path, remoteAddr string, duration time.Duration, status int) {
	if Logger == nil {
		return
	}
	Logger.Info("http request",
		"event", "http_request",
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"duration_ms", duration.Milliseconds(),
		"status", status)
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
	} else {
		Logger.Info(msg,
			"event", "server_shutdown")
	}
}
