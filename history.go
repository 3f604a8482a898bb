package memo

// HistoryRelation is how a local history relates to a remote one
type HistoryRelation int

const (
	// HistoryEqual means both histories are identical
	HistoryEqual HistoryRelation = iota
	// HistoryAhead means the remote history is a strict prefix of the local one
	HistoryAhead
	// HistoryBehind means the local history is a strict prefix of the remote one
	HistoryBehind
	// HistoryDiverged means neither history is a prefix of the other
	HistoryDiverged
)

func (r HistoryRelation) String() string {
	switch r {
	case HistoryEqual:
		return "equal"
	case HistoryAhead:
		return "ahead"
	case HistoryBehind:
		return "behind"
	case HistoryDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// IsPrefix reports whether prefix is a prefix of history.
//
// History ids are unique and append-only, so only the last id of prefix needs to be looked up
// at the same position in history.
func IsPrefix(prefix, history []string) bool {
	if len(prefix) > len(history) {
		return false
	}
	if len(prefix) == 0 {
		return true
	}
	last := len(prefix) - 1
	return history[last] == prefix[last]
}

// CompareHistory classifies local against remote
func CompareHistory(local, remote []string) HistoryRelation {
	switch {
	case len(local) == len(remote):
		if IsPrefix(remote, local) {
			return HistoryEqual
		}
	case len(local) > len(remote):
		if IsPrefix(remote, local) {
			return HistoryAhead
		}
	default:
		if IsPrefix(local, remote) {
			return HistoryBehind
		}
	}
	return HistoryDiverged
}
