package audit

var _ Logger = NoOpLogger{}

// NoOpLogger discards events. VaultStore falls back to it when no audit logger is given.
type NoOpLogger struct{}

func NewNoOpLogger() Logger { return NoOpLogger{} }

func (NoOpLogger) Log(string, bool, map[string]interface{}) error { return nil }

// Query always reports an empty trail
func (NoOpLogger) Query(QueryOptions) (QueryResult, error) {
	return QueryResult{Events: []Event{}}, nil
}

func (NoOpLogger) Close() error { return nil }
