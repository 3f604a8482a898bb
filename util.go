package memo

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Audit actions. Each operation logs *_INITIATED, then *_COMPLETED or *_FAILED under one request id.
const (
	actionVaultInitialized = "VAULT_INITIALIZED"
	actionVaultWiped       = "VAULT_WIPED"
	actionVaultClosed      = "VAULT_CLOSED"
	actionUnlock           = "UNLOCK"
	actionLock             = "LOCK"
	actionCreateRecord     = "CREATE_RECORD"
	actionUpdateRecord     = "UPDATE_RECORD"
	actionDeleteRecord     = "DELETE_RECORD"
	actionRestoreRecord    = "RESTORE_RECORD"
	actionRecordLocalOnly  = "SET_RECORD_LOCAL_ONLY"
	actionCreateTemplate   = "CREATE_TEMPLATE"
	actionUpdateTemplate   = "UPDATE_TEMPLATE"
	actionDeleteTemplate   = "DELETE_TEMPLATE"
	actionCreateLabel      = "CREATE_LABEL"
	actionUpdateLabel      = "UPDATE_LABEL"
	actionDeleteLabel      = "DELETE_LABEL"
	actionKDFRotation      = "KDF_ROTATION"
	actionSetSyncConfig    = "SET_SYNC_CONFIG"
	actionReplaceVault     = "REPLACE_VAULT"
	actionPush             = "SYNC_PUSH"
	actionPull             = "SYNC_PULL"
	actionBackupExport     = "BACKUP_EXPORT"
	actionBackupImport     = "BACKUP_IMPORT"
)

func initiated(action string) string { return action + "_INITIATED" }
func completed(action string) string { return action + "_COMPLETED" }
func failed(action string) string    { return action + "_FAILED" }

// outcome picks the terminal audit action for err
func outcome(action string, err error) string {
	if err != nil {
		return failed(action)
	}
	return completed(action)
}

func newID() string {
	return uuid.NewString()
}

func newRequestID() string {
	return fmt.Sprintf("v_%d", time.Now().UnixNano())
}

// sortedKeys returns the keys of m in ascending order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// dedupe keeps the first occurrence of each value, dropping empty strings
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
