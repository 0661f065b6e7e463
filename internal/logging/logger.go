// Package logging provides config-driven categorized file-based logging for stagehand.
// Logs are written to .stagehand/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in .stagehand/config.yaml - when
// false, every call is a silent no-op.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup/initialization
	CategoryNarrative Category = "narrative" // Narrative loading, library, hot reload
	CategoryEngine    Category = "engine"    // Act sequencing, execution lifecycle
	CategoryResolver  Category = "resolver"  // Input resolution, interpolation
	CategoryCarousel  Category = "carousel"  // Carousel launches, joins, outcomes
	CategoryBudget    Category = "budget"    // Budget reservations, releases, headroom
	CategoryLLM       Category = "llm"       // Generation backend calls
	CategoryCommands  Category = "commands"  // Bot command execution
	CategoryTables    Category = "tables"    // Table queries and formatting
	CategoryStore     Category = "store"     // Execution persistence, act output processing
	CategoryMedia     Category = "media"     // Media fetches
	CategoryUsage     Category = "usage"     // Token usage ledger
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// configFile structure for reading .stagehand/config.yaml
type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// StructuredLogEntry represents a JSON log entry
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`  // Unix milliseconds
	Category  string         `json:"cat"` // Log category
	Level     string         `json:"lvl"` // debug/info/warn/error
	Message   string         `json:"msg"` // Log message
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
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
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".stagehand", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== stagehand logging initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", config.Level)

	return nil
}

// loadConfig reads the logging config from .stagehand/config.yaml
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".stagehand", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
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

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// CloseAll closes all open log files (call at shutdown)
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

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Narrative logs to the narrative category
func Narrative(format string, args ...any) {
	Get(CategoryNarrative).Info(format, args...)
}

// NarrativeDebug logs debug to the narrative category
func NarrativeDebug(format string, args ...any) {
	Get(CategoryNarrative).Debug(format, args...)
}

// Engine logs to the engine category
func Engine(format string, args ...any) {
	Get(CategoryEngine).Info(format, args...)
}

// EngineDebug logs debug to the engine category
func EngineDebug(format string, args ...any) {
	Get(CategoryEngine).Debug(format, args...)
}

// Resolver logs to the resolver category
func Resolver(format string, args ...any) {
	Get(CategoryResolver).Info(format, args...)
}

// ResolverDebug logs debug to the resolver category
func ResolverDebug(format string, args ...any) {
	Get(CategoryResolver).Debug(format, args...)
}

// Carousel logs to the carousel category
func Carousel(format string, args ...any) {
	Get(CategoryCarousel).Info(format, args...)
}

// CarouselDebug logs debug to the carousel category
func CarouselDebug(format string, args ...any) {
	Get(CategoryCarousel).Debug(format, args...)
}

// Budget logs to the budget category
func Budget(format string, args ...any) {
	Get(CategoryBudget).Info(format, args...)
}

// BudgetDebug logs debug to the budget category
func BudgetDebug(format string, args ...any) {
	Get(CategoryBudget).Debug(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...any) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...any) {
	Get(CategoryLLM).Debug(format, args...)
}

// Commands logs to the commands category
func Commands(format string, args ...any) {
	Get(CategoryCommands).Info(format, args...)
}

// CommandsDebug logs debug to the commands category
func CommandsDebug(format string, args ...any) {
	Get(CategoryCommands).Debug(format, args...)
}

// Tables logs to the tables category
func Tables(format string, args ...any) {
	Get(CategoryTables).Info(format, args...)
}

// TablesDebug logs debug to the tables category
func TablesDebug(format string, args ...any) {
	Get(CategoryTables).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...any) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...any) {
	Get(CategoryStore).Debug(format, args...)
}

// Media logs to the media category
func Media(format string, args ...any) {
	Get(CategoryMedia).Info(format, args...)
}

// Usage logs to the usage category
func Usage(format string, args ...any) {
	Get(CategoryUsage).Info(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
