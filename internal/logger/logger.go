package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LevelFatal is a synthetic level above slog.LevelError, used for errors
// that end the process.
const LevelFatal slog.Level = 12

// AsyncHandler is a slog.Handler that renders colorized lines and ships
// them through a buffered channel to a background writer, so a slow disk
// or terminal never blocks the goroutine that logged. Log files rotate
// daily under basePath.
type AsyncHandler struct {
	ch          chan []byte
	writer      io.Writer
	attrs       []slog.Attr
	currentDay  int
	currentFile *os.File
	basePath    string
	group       string
	logLevel    slog.Level
	wg          sync.WaitGroup
}

func NewAsyncHandler(basePath string, logLevel slog.Level) *AsyncHandler {
	h := &AsyncHandler{
		ch:       make(chan []byte, 1024),
		logLevel: logLevel,
		basePath: basePath,
	}
	_ = h.rotateIfNeeded()
	h.wg.Add(1)
	go h.startWorker()
	return h
}

func (h *AsyncHandler) cleanOldLogs() {
	files, _ := filepath.Glob(h.basePath + "/*.log")
	now := time.Now()
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > 30*24*time.Hour {
			_ = os.Remove(f)
		}
	}
}

func (h *AsyncHandler) rotateIfNeeded() error {
	now := time.Now()
	currentDay := now.YearDay()

	if currentDay == h.currentDay && h.currentFile != nil {
		return nil
	}

	if h.currentFile != nil {
		if err := h.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}

	logPath := h.getLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	h.currentFile = f
	h.currentDay = currentDay
	h.writer = io.MultiWriter(os.Stdout, h.currentFile)
	h.cleanOldLogs()
	return nil
}

func (h *AsyncHandler) getLogPath() string {
	return fmt.Sprintf("%s/%s.log", h.basePath, time.Now().Format("2006-01-02"))
}

func (h *AsyncHandler) startWorker() {
	defer h.wg.Done()
	for data := range h.ch {
		_ = h.rotateIfNeeded()
		_, _ = h.writer.Write(data)
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	line := fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	for _, attr := range h.attrs {
		line += color.CyanString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value))
	}

	r.Attrs(func(attr slog.Attr) bool {
		line += color.CyanString(fmt.Sprintf(" %s=%v", attr.Key, attr.Value))
		return true
	})

	line += "\n"
	h.write([]byte(line))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	return &AsyncHandler{
		ch:       h.ch,
		writer:   h.writer,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		ch:       h.ch,
		writer:   h.writer,
		attrs:    h.attrs,
		group:    name,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	h.ch <- pb
}

// Close drains the channel and flushes the current log file. It is
// registered as a shutdown Callable with event.Cleaner.
func (h *AsyncHandler) Close() error {
	close(h.ch)
	h.wg.Wait()
	if h.currentFile != nil {
		return h.currentFile.Sync()
	}
	return nil
}

// ShutdownCallback adapts AsyncHandler.Close to event.Callable.
type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

// Init installs the async colorized handler as the slog default and
// returns a shutdown Callable for event.Cleaner to register.
func Init(verbose bool) *ShutdownCallback {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := NewAsyncHandler("logs", level)
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{})  { slog.Debug(msg, v...) }
func DebugF(msg string, v ...interface{}) { slog.Debug(fmt.Sprintf(msg, v...)) }
func Info(msg string, v ...interface{})   { slog.Info(msg, v...) }
func InfoF(msg string, v ...interface{})  { slog.Info(fmt.Sprintf(msg, v...)) }
func Warn(msg string, v ...interface{})   { slog.Warn(msg, v...) }
func WarnF(msg string, v ...interface{})  { slog.Warn(fmt.Sprintf(msg, v...)) }
func Error(msg string, v ...interface{})  { slog.Error(msg, v...) }
func ErrorF(msg string, v ...interface{}) { slog.Error(fmt.Sprintf(msg, v...)) }

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
