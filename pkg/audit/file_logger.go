package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentLogName = "audit.log"

// FileLogger appends events as JSON lines and rotates by size.
type FileLogger struct {
	basePath string
	rotate   bool
	maxSize  int64
	maxFiles int
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/roster/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileLogger creates the directory if needed and opens audit.log for append.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = 100 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.basePath, currentLogName)
}

// openLogFile opens audit.log, rotating it first when it is already full.
func (l *FileLogger) openLogFile() error {
	if l.rotate {
		if info, err := os.Stat(l.currentPath()); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

func (l *FileLogger) rotateFile() error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	// nanoseconds keep names unique and lexically ordered by age
	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	return l.cleanupOldFiles()
}

// cleanupOldFiles keeps the newest maxFiles rotated files.
func (l *FileLogger) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}
	sort.Strings(files)

	var errs []error
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log logs an audit event to the file
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("audit file logger is closed")
	}
	if l.rotate {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.openLogFile(); err != nil {
				return err
			}
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) LogAuthorization(ctx context.Context, actorID, subjectID, organizationID string, resourceType ResourceType, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, actorID, subjectID, organizationID, resourceType, status, message))
}

func (l *FileLogger) LogRoleChange(ctx context.Context, actorID, subjectID, organizationID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, roleChangeEvent(ctx, actorID, subjectID, organizationID, changes, message))
}

func (l *FileLogger) LogHTTPRequest(ctx context.Context, r *http.Request, statusCode int, duration time.Duration, err error) error {
	return l.Log(ctx, httpRequestEvent(ctx, r, statusCode, duration, err))
}

// Close closes the file logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs reads up to count events from the current file; count <= 0 reads all.
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(l.currentPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// Search scans the current file. Rotated files are not read.
func (l *FileLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := l.ReadLogs(0)
	if err != nil {
		return nil, err
	}

	var matched []*AuditEvent
	for _, event := range all {
		if filter.Matches(event) {
			matched = append(matched, event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if filter.Ascending {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
