// Package logging provides config-driven categorized file-based logging for
// PACTS. Logs are written to .pacts/logs/ with separate files per category.
// Logging is controlled by debug_mode in the logging config — when false, no
// logs are written. Adapted from codenerd's internal/logging/logger.go,
// trimmed from ~25 agent/shard categories to the ones SPEC_FULL.md §10.1
// names for an orchestration run.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // process startup, CLI wiring
	CategoryConfig     Category = "config"     // config load/merge
	CategoryStore      Category = "store"      // sqlite persistence
	CategoryBrowser    Category = "browser"    // driver connect/navigate/eval
	CategoryProfile    Category = "profile"    // STATIC/DYNAMIC detection
	CategoryPlanner    Category = "planner"    // plan/suite expansion
	CategoryDiscovery  Category = "discovery"  // selector waterfall
	CategoryCache      Category = "cache"      // selector cache hit/miss/admit
	CategoryReadiness  Category = "readiness"  // DOM idle / app-ready waits
	CategoryGate       Category = "gate"       // actionability gate checks
	CategoryExec       Category = "exec"       // step execution
	CategoryHeal       Category = "heal"       // OracleHealer cycles
	CategoryVerdict    Category = "verdict"    // VerdictRCA classification
	CategoryResult     Category = "result"     // artifact generation
	CategoryOrch       Category = "orch"       // orchestrator routing
	CategoryPerformance Category = "performance" // timers, slow operations
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig to avoid
// a circular import between logging and config.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode" yaml:"debug_mode"`
	Categories map[string]bool `json:"categories" yaml:"categories"`
	Level      string          `json:"level" yaml:"level"`
	JSONFormat bool            `json:"json_format" yaml:"json_format"`
}

// StructuredLogEntry is one JSON log line.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	ReqID     string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory for a workspace and applies cfg.
// Called once at CLI startup with the resolved config.LoggingConfig.
func Initialize(ws string, debugMode bool, categories map[string]bool, level string, jsonFormat bool) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}
	workspace = ws
	logsDir = filepath.Join(workspace, ".pacts", "logs")

	configMu.Lock()
	config = loggingConfig{DebugMode: debugMode, Categories: categories, Level: level, JSONFormat: jsonFormat}
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	configMu.Unlock()

	if !debugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("logging initialized, workspace=%s debug=%v level=%s", workspace, debugMode, level)
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled reports whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{category: category, file: file, logger: log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds)}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{Timestamp: time.Now().UnixMilli(), Category: string(l.category), Level: level, Message: msg}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.emit("debug", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.emit("info", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.emit("warn", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.emit("error", fmt.Sprintf(format, args...))
}

func (l *Logger) emit(level, msg string) {
	if config.JSONFormat {
		l.logJSON(level, msg)
		return
	}
	l.logger.Printf("[%s] %s", level, msg)
}

// StructuredLog writes a log entry with extra structured fields, used when a
// node wants to attach req_id/step_idx/selector context (spec.md §6).
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{Timestamp: time.Now().UnixMilli(), Category: string(l.category), Level: level, Message: msg, Fields: fields}
	if config.JSONFormat {
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// WithContext returns a logger that appends a fixed key-value context to
// every subsequent call, used to tag every log line in a run with req_id.
func (l *Logger) WithContext(ctx map[string]interface{}) *ContextLogger {
	return &ContextLogger{logger: l, context: ctx}
}

// ContextLogger is a Logger plus a fixed context map.
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.logger.StructuredLog("debug", fmt.Sprintf(format, args...), c.context)
}
func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.logger.StructuredLog("info", fmt.Sprintf(format, args...), c.context)
}
func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.logger.StructuredLog("warn", fmt.Sprintf(format, args...), c.context)
}
func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.logger.StructuredLog("error", fmt.Sprintf(format, args...), c.context)
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer measures and logs operation duration.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation in a category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed duration at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.category).Debug("%s took %s", t.operation, d)
	return d
}

// StopWithThreshold logs at warn level if the operation exceeded threshold,
// debug otherwise. Used for readiness/gate waits that should be quiet unless
// they ran long (spec.md §4.6/§4.7).
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	d := time.Since(t.start)
	if d > threshold {
		Get(t.category).Warn("%s took %s (over %s budget)", t.operation, d, threshold)
	} else {
		Get(t.category).Debug("%s took %s", t.operation, d)
	}
	return d
}

// =============================================================================
// Convenience functions — no-ops if the category/debug mode is disabled.
// =============================================================================

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Config(format string, args ...interface{}) { Get(CategoryConfig).Info(format, args...) }
func ConfigDebug(format string, args ...interface{}) { Get(CategoryConfig).Debug(format, args...) }
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warn(format, args...) }

func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{}) { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Browser(format string, args ...interface{}) { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...interface{}) { Get(CategoryBrowser).Debug(format, args...) }
func BrowserWarn(format string, args ...interface{}) { Get(CategoryBrowser).Warn(format, args...) }
func BrowserError(format string, args ...interface{}) { Get(CategoryBrowser).Error(format, args...) }

func ProfileDebug(format string, args ...interface{}) { Get(CategoryProfile).Debug(format, args...) }
func Profile(format string, args ...interface{}) { Get(CategoryProfile).Info(format, args...) }

func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }
func PlannerDebug(format string, args ...interface{}) { Get(CategoryPlanner).Debug(format, args...) }
func PlannerError(format string, args ...interface{}) { Get(CategoryPlanner).Error(format, args...) }

func Discovery(format string, args ...interface{}) { Get(CategoryDiscovery).Info(format, args...) }
func DiscoveryDebug(format string, args ...interface{}) { Get(CategoryDiscovery).Debug(format, args...) }
func DiscoveryWarn(format string, args ...interface{}) { Get(CategoryDiscovery).Warn(format, args...) }

func Cache(format string, args ...interface{}) { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }
func CacheWarn(format string, args ...interface{}) { Get(CategoryCache).Warn(format, args...) }

func Readiness(format string, args ...interface{}) { Get(CategoryReadiness).Info(format, args...) }
func ReadinessDebug(format string, args ...interface{}) { Get(CategoryReadiness).Debug(format, args...) }
func ReadinessWarn(format string, args ...interface{}) { Get(CategoryReadiness).Warn(format, args...) }

func Gate(format string, args ...interface{}) { Get(CategoryGate).Info(format, args...) }
func GateDebug(format string, args ...interface{}) { Get(CategoryGate).Debug(format, args...) }
func GateWarn(format string, args ...interface{}) { Get(CategoryGate).Warn(format, args...) }

func Exec(format string, args ...interface{}) { Get(CategoryExec).Info(format, args...) }
func ExecDebug(format string, args ...interface{}) { Get(CategoryExec).Debug(format, args...) }
func ExecWarn(format string, args ...interface{}) { Get(CategoryExec).Warn(format, args...) }
func ExecError(format string, args ...interface{}) { Get(CategoryExec).Error(format, args...) }

func Heal(format string, args ...interface{}) { Get(CategoryHeal).Info(format, args...) }
func HealDebug(format string, args ...interface{}) { Get(CategoryHeal).Debug(format, args...) }
func HealWarn(format string, args ...interface{}) { Get(CategoryHeal).Warn(format, args...) }

func Verdict(format string, args ...interface{}) { Get(CategoryVerdict).Info(format, args...) }
func VerdictDebug(format string, args ...interface{}) { Get(CategoryVerdict).Debug(format, args...) }

func Result(format string, args ...interface{}) { Get(CategoryResult).Info(format, args...) }
func ResultError(format string, args ...interface{}) { Get(CategoryResult).Error(format, args...) }

func Orch(format string, args ...interface{}) { Get(CategoryOrch).Info(format, args...) }
func OrchDebug(format string, args ...interface{}) { Get(CategoryOrch).Debug(format, args...) }
func OrchWarn(format string, args ...interface{}) { Get(CategoryOrch).Warn(format, args...) }
