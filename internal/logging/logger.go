package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Config controls the shared logger used by every component.
type Config struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format is "text", "json" or "auto" (text on a terminal, json otherwise).
	Format string `yaml:"format"`
	// ReportCaller includes file, line and function in each entry.
	ReportCaller bool `yaml:"report_caller"`
}

var (
	base      = logrus.New()
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&TextFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("VOICEKEY_LOG_LEVEL")); err == nil {
		base.SetLevel(level)
	}
}

// Configure applies cfg to the shared logger. Entries already handed out by
// NewLogger pick the change up because they share the underlying logger.
func Configure(cfg Config) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	apply(base, cfg, os.Stderr)
}

// NewLogger returns the cached entry for component, tagged with a "component" field.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}
	entry := base.WithField("component", component)
	loggers[component] = entry
	return entry
}

// New builds a standalone logger writing to out. Used by tests and the CLI.
func New(cfg Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	apply(logger, cfg, out)
	return logger
}

func apply(logger *logrus.Logger, cfg Config, out io.Writer) {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(cfg.ReportCaller)
	logger.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&TextFormatter{})
	default:
		if isTerminal(out) {
			logger.SetFormatter(&TextFormatter{})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
