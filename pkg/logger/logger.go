package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the minimum log level to output
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger provides leveled logging with optional JSON output and file rotation
type Logger struct {
	level      LogLevel
	jsonFormat bool
	writer     io.Writer
	std        *log.Logger
}

// LogEntry represents a structured log entry for JSON output
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new logger instance
// Supports file rotation, JSON format, and configurable log levels
func New(level string, logToFile bool, logFilePath string, logFormat string) *Logger {
	logLevel := parseLogLevel(level)
	jsonFormat := logFormat == "json"

	var writer io.Writer = os.Stdout
	if logToFile && logFilePath != "" {
		dir := filepath.Dir(logFilePath)
		if dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}

		// Write to both file and stdout
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	return &Logger{
		level:      logLevel,
		jsonFormat: jsonFormat,
		writer:     writer,
		std:        log.New(writer, "", log.LstdFlags),
	}
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) log(level string, levelEnum LogLevel, format string, v ...interface{}) {
	if levelEnum < l.level {
		return
	}

	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	if l.jsonFormat {
		l.logJSON(level, message, nil)
		return
	}

	l.std.SetPrefix(fmt.Sprintf("[%s] ", level))
	l.std.Println(message)
}

func (l *Logger) logJSON(level, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		l.std.Printf("[%s] %s", level, message)
		return
	}

	fmt.Fprintln(l.writer, string(data))
}

// Info logs an info-level message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log("INFO", LevelInfo, format, v...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log("ERROR", LevelError, format, v...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log("WARN", LevelWarn, format, v...)
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log("DEBUG", LevelDebug, format, v...)
}

// WithFields logs a message with additional structured fields: as a "fields"
// object in JSON mode, appended inline to the message in text mode
func (l *Logger) WithFields(level string, message string, fields map[string]interface{}) {
	levelEnum := parseLogLevel(level)
	if levelEnum < l.level {
		return
	}

	if !l.jsonFormat {
		l.log(levelName(levelEnum), levelEnum, "%s: %v", message, fields)
		return
	}

	l.logJSON(levelName(levelEnum), message, fields)
}

func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
