package audit

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var _ Logger = (*LogrusLogger)(nil)

type LogrusOptions struct {
	// Format is "json" (default) or "text"
	Format string `json:"format"`
	// RingSize bounds the events kept for Query
	RingSize int `json:"ring_size"`
}

// LogrusLogger emits audit events as structured logrus entries and keeps the most recent ones
// in memory so that Query works for the life of the process.
type LogrusLogger struct {
	log     *logrus.Logger
	vaultID string

	mu       sync.RWMutex
	ring     []Event
	ringSize int
}

// NewLogrusLogger creates a logrus backed audit logger. A nil logger gets a new one writing to
// stderr in the configured format.
func NewLogrusLogger(config *Config, logger *logrus.Logger) (*LogrusLogger, error) {
	if config == nil {
		config = &Config{Enabled: true, Type: LogrusAuditType}
	}

	var opts LogrusOptions
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid logrus logger options: %w", err)
	}
	if opts.RingSize <= 0 {
		opts.RingSize = 500
	}

	if logger == nil {
		logger = logrus.New()
		switch opts.Format {
		case "", "json":
			logger.SetFormatter(&logrus.JSONFormatter{})
		case "text":
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		default:
			return nil, fmt.Errorf("unknown logrus format %q", opts.Format)
		}
		if config.LogLevel != "" {
			level, err := logrus.ParseLevel(config.LogLevel)
			if err != nil {
				return nil, fmt.Errorf("invalid log level: %w", err)
			}
			logger.SetLevel(level)
		}
	}

	return &LogrusLogger{
		log:      logger,
		vaultID:  config.VaultID,
		ringSize: opts.RingSize,
	}, nil
}

func (l *LogrusLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := newEvent(l.vaultID, action, success, metadata)

	fields := logrus.Fields{
		"audit_id": event.ID,
		"action":   event.Action,
		"success":  event.Success,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.RecordID != "" {
		fields["record_id"] = event.RecordID
	}
	if event.VaultID != "" {
		fields["vault_id"] = event.VaultID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.log.WithFields(fields).WithTime(event.Timestamp)
	switch {
	case !event.Success:
		entry.WithField("error", event.Error).Warn("audit")
	case isSecurityCriticalAction(event.Action):
		entry.Info("audit")
	default:
		entry.Debug("audit")
	}

	l.mu.Lock()
	l.ring = append(l.ring, event)
	if len(l.ring) > l.ringSize {
		l.ring = l.ring[len(l.ring)-l.ringSize:]
	}
	l.mu.Unlock()

	return nil
}

func (l *LogrusLogger) Query(options QueryOptions) (QueryResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []Event
	for i := len(l.ring) - 1; i >= 0; i-- {
		if matchesFilter(l.ring[i], options) {
			filtered = append(filtered, l.ring[i])
		}
	}
	return paginate(filtered, len(l.ring), options), nil
}

func (l *LogrusLogger) Close() error {
	return nil
}
