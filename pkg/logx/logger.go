package logx

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fields is a map of structured log fields
type Fields map[string]interface{}

// Logger is a leveled, structured logger writing to a single output
type Logger struct {
	mu     sync.Mutex
	level  Level
	out    *os.File
	asJSON bool
}

// Config configures a Logger
type Config struct {
	Level  Level
	Output *os.File
	JSON   bool
}

// LoadFromEnv builds a Config from LOG_LEVEL and LOG_FORMAT
func LoadFromEnv() Config {
	return Config{
		Level:  ParseLevel(os.Getenv("LOG_LEVEL")),
		Output: os.Stderr,
		JSON:   strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	}
}

// NewLogger creates a Logger from a Config
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{level: cfg.Level, out: out, asJSON: cfg.JSON}
}

// SetLevel changes the minimum level this logger emits
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput changes the output destination
func (l *Logger) SetOutput(w *os.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.level.Enabled(level) {
		return
	}

	now := time.Now().UTC()

	if l.asJSON {
		record := map[string]interface{}{
			"time":    now.Format(time.RFC3339Nano),
			"level":   level.String(),
			"message": msg,
		}
		for k, v := range fields {
			record[k] = v
		}
		if err != nil {
			record["error"] = err.Error()
		}
		data, mErr := json.Marshal(record)
		if mErr != nil {
			fmt.Fprintf(l.out, "%s %s %s (unserializable fields)\n", now.Format(time.RFC3339), level, msg)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", now.Format("2006-01-02 15:04:05"), level, msg)
	if err != nil {
		fmt.Fprintf(&b, " error=%q", err.Error())
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(l.out, b.String())
}

func (l *Logger) exit(code int) {
	os.Exit(code)
}
