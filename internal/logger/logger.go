package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"log/syslog"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config selects the minimum level, the line format and the destination.
//
// Output accepts "stdout", "stderr", "syslog" or a file path. Format accepts
// "text" or "json".
type Config struct {
	Level  string
	Format string
	Output string
}

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	jsonFormat   = false
	logger       = stdlog.New(os.Stdout, "", 0)
	closer       io.Closer

	// sys receives every line with its own priority when output is syslog.
	sys priorityWriter
)

// priorityWriter is implemented by *syslog.Writer.
type priorityWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetOutput redirects log lines to w. Used by tests and by Configure.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = stdlog.New(w, "", 0)
	sys = nil
}

// Configure applies level, format and output in one step.
//
// When the syslog daemon cannot be reached the logger falls back to stderr
// and reports the failure on the new output instead of failing startup.
func Configure(cfg Config) error {
	SetLevel(cfg.Level)

	var (
		w        io.Writer
		c        io.Closer
		pw       priorityWriter
		fallback error
	)

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "syslog":
		sw, err := syslog.New(syslog.LOG_USER|syslog.LOG_INFO, "dittolog")
		if err != nil {
			w = os.Stderr
			fallback = err
		} else {
			w, c, pw = sw, sw, sw
		}
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.Output, err)
		}
		w, c = f, f
	}

	mu.Lock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	sys = pw
	jsonFormat = strings.EqualFold(cfg.Format, "json")
	logger = stdlog.New(w, "", 0)
	mu.Unlock()

	if fallback != nil {
		Warn("syslog unavailable, logging to stderr: %v", fallback)
	}
	return nil
}

// Close releases the current output if it is a file or a syslog connection.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	sys = nil
	jsonFormat = false
	logger = stdlog.New(os.Stdout, "", 0)
	return err
}

type jsonLine struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(format, v...)

	if jsonFormat {
		line, err := json.Marshal(jsonLine{
			Time:  now.Format(time.RFC3339Nano),
			Level: level.String(),
			Msg:   message,
		})
		if err == nil {
			emit(level, string(line))
			return
		}
	}

	if sys != nil {
		// syslog stamps the time itself.
		emit(level, fmt.Sprintf("[%s] %s", level.String(), message))
		return
	}

	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	emit(level, prefix+message)
}

// emit writes one line, mapping level to a syslog priority when needed.
func emit(level Level, line string) {
	if sys == nil {
		logger.Println(line)
		return
	}

	var err error
	switch level {
	case LevelDebug:
		err = sys.Debug(line)
	case LevelInfo:
		err = sys.Info(line)
	case LevelWarn:
		err = sys.Warning(line)
	default:
		err = sys.Err(line)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, line)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
