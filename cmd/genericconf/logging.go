// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// asyncFileWriter queues log records for a goroutine writing to a rotating
// file, so that a slow disk never blocks the caller. Records are dropped
// while the queue is full.
type asyncFileWriter struct {
	mutex   sync.RWMutex
	closed  bool
	queue   chan []byte
	done    chan struct{}
	file    *lumberjack.Logger
	dropped atomic.Uint64
}

func newAsyncFileWriter(config *FileLoggingConfig, filename string) *asyncFileWriter {
	w := &asyncFileWriter{
		queue: make(chan []byte, config.BufSize),
		done:  make(chan struct{}),
		file: &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			LocalTime:  config.LocalTime,
			Compress:   config.Compress,
		},
	}
	go w.run()
	return w
}

func (w *asyncFileWriter) run() {
	defer close(w.done)
	for record := range w.queue {
		_, _ = w.file.Write(record)
	}
}

// Write never fails; the handler reuses p, so the record is copied.
func (w *asyncFileWriter) Write(p []byte) (int, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	if w.closed {
		return len(p), nil
	}
	record := make([]byte, len(p))
	copy(record, p)
	select {
	case w.queue <- record:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Close flushes queued records and closes the file.
func (w *asyncFileWriter) Close() error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mutex.Unlock()
	<-w.done
	if dropped := w.dropped.Load(); dropped > 0 {
		fmt.Fprintf(os.Stderr, "log file %s dropped %d records\n", w.file.Filename, dropped)
	}
	return w.file.Close()
}

var (
	fileWriterMutex  sync.Mutex
	activeFileWriter *asyncFileWriter
)

// CloseLog flushes and closes the log file opened by InitLog, if any.
func CloseLog() error {
	fileWriterMutex.Lock()
	defer fileWriterMutex.Unlock()
	if activeFileWriter == nil {
		return nil
	}
	err := activeFileWriter.Close()
	activeFileWriter = nil
	return err
}

// InitLog installs the default logger. Records always go to stderr, and also
// to a rotating file when config.File is enabled. Calling InitLog again
// replaces the previous file.
func InitLog(config *LogConfig, pathResolver func(string) string) error {
	if err := config.Validate(); err != nil {
		return err
	}
	level, _ := ToSlogLevel(config.Level)
	if err := CloseLog(); err != nil {
		return fmt.Errorf("failed to close previous log file: %w", err)
	}
	var output io.Writer = os.Stderr
	if config.File.Enable {
		writer := newAsyncFileWriter(&config.File, pathResolver(config.File.File))
		fileWriterMutex.Lock()
		activeFileWriter = writer
		fileWriterMutex.Unlock()
		output = io.MultiWriter(os.Stderr, writer)
	}
	handler, err := HandlerFromLogType(config.Type, output)
	if err != nil {
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}
