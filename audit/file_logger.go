package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var _ Logger = (*FileLogger)(nil)

// FileLogger appends events as JSON lines and answers queries from a bounded in-memory cache
// when the cache covers the requested window, otherwise from the file.
type FileLogger struct {
	vaultID    string
	file       *os.File
	mu         sync.RWMutex
	eventCache []Event
	cacheSize  int
	fileOpts   FileOptions
}

type FileOptions struct {
	FilePath  string `json:"file_path"`
	CacheSize int    `json:"cache_size,omitempty"`
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config *Config) (*FileLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var fileOpts FileOptions
	if err := parseOptions(config.Options, &fileOpts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}

	if fileOpts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}
	if fileOpts.CacheSize <= 0 {
		fileOpts.CacheSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(fileOpts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		vaultID:    config.VaultID,
		file:       file,
		fileOpts:   fileOpts,
		eventCache: make([]Event, 0),
		cacheSize:  fileOpts.CacheSize,
	}, nil
}

// Log implements the Logger interface
func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return fl.writeEvent(newEvent(fl.vaultID, action, success, metadata))
}

func (fl *FileLogger) writeEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// the file may have been closed by a previous store sharing this logger
	if err := fl.ensureFileOpen(); err != nil {
		return err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	if _, err = fl.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if err = fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	fl.eventCache = append(fl.eventCache, event)
	if len(fl.eventCache) > fl.cacheSize {
		fl.eventCache = fl.eventCache[len(fl.eventCache)-fl.cacheSize:]
	}

	return nil
}

// Query implements the Logger interface. Results are newest first.
func (fl *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	if fl.canUseCacheForQuery(options) {
		return paginate(fl.filter(fl.eventCache, options), len(fl.eventCache), options), nil
	}

	events, total, err := fl.readEventsFromFile(fl.fileOpts.FilePath)
	if err != nil {
		return QueryResult{}, err
	}
	return paginate(fl.filter(events, options), total, options), nil
}

// canUseCacheForQuery reports whether the cache holds every event the query could match
func (fl *FileLogger) canUseCacheForQuery(options QueryOptions) bool {
	if len(fl.eventCache) == 0 || options.Since == nil {
		return false
	}
	return !options.Since.Before(fl.eventCache[0].Timestamp)
}

func (fl *FileLogger) filter(events []Event, options QueryOptions) []Event {
	var filtered []Event
	// walk backwards so events sharing a timestamp stay newest first after the stable sort
	for i := len(events) - 1; i >= 0; i-- {
		if matchesFilter(events[i], options) {
			filtered = append(filtered, events[i])
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	return filtered
}

func paginate(filtered []Event, total int, options QueryOptions) QueryResult {
	start := options.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := len(filtered)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	return QueryResult{
		Events:     filtered[start:end],
		TotalCount: total,
		Filtered:   len(filtered),
		HasMore:    end < len(filtered),
	}
}

// readEventsFromFile reads every parsable event; malformed lines are counted but skipped
func (fl *FileLogger) readEventsFromFile(filePath string) ([]Event, int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []Event
	totalCount := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		totalCount++

		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}

	if err = scanner.Err(); err != nil {
		return events, totalCount, fmt.Errorf("error reading audit log file: %w", err)
	}

	return events, totalCount, nil
}

// Close implements the Logger interface
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		err := fl.file.Close()
		fl.file = nil
		return err
	}
	return nil
}

func (fl *FileLogger) ensureFileOpen() error {
	if fl.file == nil {
		var err error
		fl.file, err = os.OpenFile(fl.fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to reopen audit log: %w", err)
		}
	}
	return nil
}
