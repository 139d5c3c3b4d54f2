package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// WriterLogger writes one JSON line per request to w.
type WriterLogger struct {
	mu  sync.Mutex
	w   io.Writer
	log zerolog.Logger
}

func NewStdoutLogger(log zerolog.Logger) *WriterLogger {
	return NewWriterLogger(os.Stdout, log)
}

func NewWriterLogger(w io.Writer, log zerolog.Logger) *WriterLogger {
	return &WriterLogger{w: w, log: log}
}

func (l *WriterLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Error().Err(err).Msg("metrics log")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, infoStr); err != nil {
		l.log.Error().Err(err).Msg("metrics log")
	}
}

const (
	defaultQueueSize      = 2000
	defaultLogWriters     = 2
	defaultMaxLogFileSize = 1024 * 1024 * 1024
	defaultMaxLogFiles    = 10
)

// FileLogger spreads request records over a set of rotated log files in
// LogDir. Each writer owns the files log<idx> and log<idx>.<n>.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	log zerolog.Logger
	wg  sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log zerolog.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log,
	}

	for i := 0; i < defaultLogWriters; i++ {
		logger.wg.Add(1)
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writers to exit.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()
	wlog := l.log.With().Int("writer", idx).Logger()

	f, err := l.openLogFile(idx)
	if err != nil {
		wlog.Error().Err(err).Msg("log open")
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			wlog.Error().Err(err).Msg("metrics encode")
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			wlog.Error().Err(err).Msg("log write")
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) logFilePath(idx int) string {
	return filepath.Join(l.LogDir, fmt.Sprintf("log%d", idx))
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	return os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// rotationTarget returns the first free log<idx>.<n> name or, when all
// MaxLogFiles are taken, the oldest of them after removing it.
func (l *FileLogger) rotationTarget(idx int) (string, error) {
	for i := 0; i < l.MaxLogFiles; i++ {
		p := filepath.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		}
	}

	entries, err := os.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("log%d.", idx)
	oldest := filepath.Join(l.LogDir, prefix+"0")
	oldestTime := time.Now()
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(oldestTime) {
			oldest = filepath.Join(l.LogDir, e.Name())
			oldestTime = fi.ModTime()
		}
	}

	l.log.Debug().Int("writer", idx).Str("file", oldest).Msg("maximum number of log files reached, overwriting")
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return oldest, nil
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	wlog := l.log.With().Int("writer", idx).Logger()
	if currFile == nil {
		return l.openLogFile(idx)
	}

	info, err := currFile.Stat()
	if err != nil {
		wlog.Error().Err(err).Msg("log rotation")
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	target, err := l.rotationTarget(idx)
	if err != nil {
		wlog.Error().Err(err).Msg("log rotation")
		return currFile, nil
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(idx), target); err != nil {
		wlog.Error().Err(err).Msg("log rotation")
	} else {
		wlog.Debug().Str("file", target).Msg("log file rotated")
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		wlog.Error().Err(err).Msg("log rotation")
	}
	return f, err
}
