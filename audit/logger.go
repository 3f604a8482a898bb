package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Config defines audit logging configuration
type Config struct {
	Enabled  bool                   `json:"enabled" yaml:"enabled"`
	VaultID  string                 `json:"vault_id" yaml:"vault_id"`
	Type     ConfigType             `json:"type" yaml:"type"`       // "file", "syslog", "logrus"
	Options  map[string]interface{} `json:"options" yaml:"options"` // Provider-specific options
	LogLevel string                 `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	LogrusAuditType ConfigType = "logrus"
	NoOp            ConfigType = ""
)

// Logger interface for pluggable audit implementations
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event.
// Metadata never carries plaintext record content or key material.
type Event struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	VaultID   string                 `json:"vault_id,omitempty"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	Since    *time.Time
	Until    *time.Time
	Action   string
	Success  *bool // nil = all, true = only success, false = only failures
	RecordID string
	Limit    int
	Offset   int
	// KeyAccess keeps only events that touch the master key (unlock, rotation, wipe)
	KeyAccess bool
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case LogrusAuditType:
		return NewLogrusLogger(config, nil)
	case NoOp:
		return NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// newEvent lifts the well known metadata keys into the event's top level fields
func newEvent(vaultID, action string, success bool, metadata map[string]interface{}) Event {
	event := Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		VaultID:   vaultID,
		Action:    action,
		Success:   success,
		Metadata:  make(map[string]interface{}, len(metadata)),
	}

	for k, v := range metadata {
		s, isString := v.(string)
		switch {
		case k == "request_id" && isString:
			event.RequestID = s
		case k == "record_id" && isString:
			event.RecordID = s
		case k == "user_id" && isString:
			event.UserID = s
		case k == "error" && isString:
			event.Error = s
		case k == "timestamp":
			// the event carries its own timestamp
		default:
			event.Metadata[k] = v
		}
	}

	if len(event.Metadata) == 0 {
		event.Metadata = nil
	}
	return event
}

// matchesFilter checks if an event matches the query filters
func matchesFilter(event Event, options QueryOptions) bool {
	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}
	if options.Action != "" && event.Action != options.Action {
		return false
	}
	if options.Success != nil && event.Success != *options.Success {
		return false
	}
	if options.RecordID != "" && event.RecordID != options.RecordID {
		return false
	}
	if options.KeyAccess && !isSecurityCriticalAction(event.Action) {
		return false
	}
	return true
}

// isSecurityCriticalAction reports whether an action touches the master key or destroys data
func isSecurityCriticalAction(action string) bool {
	securityActions := map[string]bool{
		"VAULT_INITIALIZED":       true,
		"UNLOCK_COMPLETED":        true,
		"UNLOCK_FAILED":           true,
		"KDF_ROTATION_COMPLETED":  true,
		"KDF_ROTATION_FAILED":     true,
		"VAULT_WIPED":             true,
		"BACKUP_IMPORT_COMPLETED": true,
	}
	return securityActions[action]
}

// parseOptions converts map[string]interface{} to specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}

// generateEventID creates a unique event ID
func generateEventID() string {
	return fmt.Sprintf("%d_%d_%s", time.Now().UnixNano(), os.Getpid(), uuid.NewString()[:8])
}
