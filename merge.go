package memo

// MergeStats counts what a merge changed in the local vault
type MergeStats struct {
	RecordsAdded      int
	ConflictsResolved int
}

// MergeVaults combines two vaults encrypted under the same key. Neither input is modified.
//
// Records present on one side only are kept. For a record on both sides, a tombstone on
// exactly one side wins and the remote copy is taken. Otherwise the copy with the later
// last_modified wins, local on a tie. A differing timestamp counts as a resolved conflict.
// Labels and templates are the union of both sides; on an id collision the local value is kept.
//
// The result carries the remote history and the local KDF configuration and sentinel. Callers
// append a new history id before persisting.
func MergeVaults(local, remote *Vault) (*Vault, MergeStats) {
	merged := local.Clone()
	merged.normalize()
	var stats MergeStats

	for id, theirs := range remote.Records {
		ours, ok := merged.Records[id]
		switch {
		case !ok:
			merged.Records[id] = theirs.Clone()
			stats.RecordsAdded++
		case ours.Deleted != theirs.Deleted:
			merged.Records[id] = theirs.Clone()
			stats.ConflictsResolved++
		case ours.LastModified != theirs.LastModified:
			stats.ConflictsResolved++
			if theirs.LastModified > ours.LastModified {
				merged.Records[id] = theirs.Clone()
			}
		}
	}

	for id, blob := range remote.Labels {
		if _, ok := merged.Labels[id]; !ok {
			merged.Labels[id] = blob.Clone()
		}
	}
	for id, blob := range remote.Templates {
		if _, ok := merged.Templates[id]; !ok {
			merged.Templates[id] = blob.Clone()
		}
	}

	merged.History = append([]string{}, remote.History...)
	return merged, stats
}
