package memo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"southwinds.dev/memo/internal/misc"
	"southwinds.dev/memo/persist"
)

const remoteVaultFile = "vault.json"

// SyncResult reports the outcome of a sync operation. Sync operations never return a Go error;
// failures are carried in Error with Success false.
type SyncResult struct {
	Success bool
	Error   error
	// PasswordRequired is set when the remote vault uses a different KDF configuration and no
	// password was supplied to re-key the local vault
	PasswordRequired bool
	// VaultUpdated is set by Pull when Vault holds a new local vault to apply
	VaultUpdated      bool
	Uploaded          bool
	RecordsAdded      int
	ConflictsResolved int
	// History is the local history after the operation
	History []string
	// Vault is the vault produced by Pull when VaultUpdated is set; apply it with
	// VaultStore.ReplaceVault
	Vault *Vault
}

// Status is the observable state of a SyncCoordinator. Syncing is advisory only.
type Status struct {
	Syncing   bool
	LastSync  time.Time
	LastError string
}

// SyncCoordinator reconciles the vault held by a VaultStore with a copy in a remote blob store.
//
// Calls must be serialised by the caller, the same as for VaultStore.
type SyncCoordinator struct {
	store  *VaultStore
	remote persist.BlobStore
	log    *logrus.Logger

	dir        string
	remotePath string

	mu     sync.Mutex
	status Status
}

// NewSyncCoordinator returns a coordinator syncing store with remote. The remote file lives at
// <Options.RemoteDirectory>/vault.json.
func NewSyncCoordinator(store *VaultStore, remote persist.BlobStore) (*SyncCoordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("vault store is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote blob store is required")
	}
	dir := store.options.RemoteDirectory
	return &SyncCoordinator{
		store:      store,
		remote:     remote,
		log:        store.log,
		dir:        dir,
		remotePath: path.Join(dir, remoteVaultFile),
	}, nil
}

// NewSyncCoordinatorFromProfile builds the remote blob store from the sync configuration kept
// in the store's profile. The store must be unlocked.
func NewSyncCoordinatorFromProfile(ctx context.Context, store *VaultStore) (*SyncCoordinator, error) {
	cfg, err := store.GetSyncConfig()
	if err != nil {
		return nil, err
	}
	remote, err := persist.NewBlobStore(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteConnectionFailure, err)
	}
	return NewSyncCoordinator(store, remote)
}

// TestConnection reports whether a blob store built from cfg answers a ping. No state changes.
func (c *SyncCoordinator) TestConnection(ctx context.Context, cfg persist.BlobStoreConfig) bool {
	remote, err := persist.NewBlobStore(ctx, cfg)
	if err != nil {
		c.log.WithError(err).WithField("type", cfg.Type).Debug("connection test: store creation failed")
		return false
	}
	if err = remote.Ping(ctx); err != nil {
		c.log.WithError(err).WithField("type", cfg.Type).Debug("connection test: ping failed")
		return false
	}
	return true
}

// Status returns a copy of the coordinator's status
func (c *SyncCoordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Push uploads the local vault.
//
// With no remote vault the local vault is uploaded as is. Otherwise the KDF configuration is
// aligned first (see Pull), then the histories are compared. When the local history equals or
// is ahead of the remote one the local vault is uploaded; when it is behind or has diverged the
// two are merged and the merge is uploaded. Every upload appends one new history id, and the
// uploaded vault is persisted locally so both sides agree afterwards. Local-only records are
// never uploaded but stay in the local vault.
//
// password may be nil; it is only needed when the KDF configurations differ.
func (c *SyncCoordinator) Push(ctx context.Context, password []byte) SyncResult {
	return c.run(actionPush, func() SyncResult { return c.push(ctx, password) })
}

// Pull fetches the remote vault and works out the new local vault without applying it.
//
// With no remote vault Pull is a successful no-op. When the KDF configurations are compatible
// the installed key must open the remote sentinel. When they are not, password is required
// (PasswordRequired is set if it is missing) and the local vault is re-keyed to the remote
// configuration; if the re-keyed vault still cannot open the remote sentinel the re-keying is
// rolled back and ErrInvalidRemoteSentinel is returned.
//
// When the local history is behind, the remote vault is adopted, with one exception: local
// records the remote does not have are carried over instead of dropped. That keeps local-only
// records, which are never uploaded, and records created since the last sync. When the
// histories diverged the vaults are merged and the result takes the remote history. Either way
// VaultUpdated is set and Vault holds the result.
func (c *SyncCoordinator) Pull(ctx context.Context, password []byte) SyncResult {
	return c.run(actionPull, func() SyncResult { return c.pull(ctx, password) })
}

// Sync pulls, applies the pulled vault and pushes. A failure to apply the pulled vault is
// reported in Status like any other sync failure.
func (c *SyncCoordinator) Sync(ctx context.Context, password []byte) SyncResult {
	pulled := c.Pull(ctx, password)
	if !pulled.Success {
		return pulled
	}
	if pulled.VaultUpdated {
		if err := c.store.ReplaceVault(ctx, pulled.Vault); err != nil {
			result := SyncResult{
				Error:        fmt.Errorf("apply pulled vault: %w", err),
				RecordsAdded: pulled.RecordsAdded,
				History:      c.store.History(),
			}
			c.recordStatus(result)
			return result
		}
	}

	pushed := c.Push(ctx, password)
	pushed.VaultUpdated = pulled.VaultUpdated
	pushed.RecordsAdded += pulled.RecordsAdded
	pushed.ConflictsResolved += pulled.ConflictsResolved
	return pushed
}

func (c *SyncCoordinator) run(action string, op func() SyncResult) SyncResult {
	requestID := newRequestID()
	c.mu.Lock()
	c.status.Syncing = true
	c.mu.Unlock()
	c.store.logAudit(requestID, initiated(action), nil, map[string]interface{}{"remote_path": c.remotePath})

	result := op()
	c.recordStatus(result)

	c.store.logAudit(requestID, outcome(action, result.Error), result.Error, map[string]interface{}{
		"remote_path":        c.remotePath,
		"password_required":  result.PasswordRequired,
		"vault_updated":      result.VaultUpdated,
		"uploaded":           result.Uploaded,
		"records_added":      result.RecordsAdded,
		"conflicts_resolved": result.ConflictsResolved,
		"history_length":     len(result.History),
	})
	return result
}

func (c *SyncCoordinator) recordStatus(result SyncResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Syncing = false
	if result.Success {
		c.status.LastSync = c.store.now()
		c.status.LastError = ""
	} else if result.Error != nil {
		c.status.LastError = result.Error.Error()
	}
}

func (c *SyncCoordinator) push(ctx context.Context, password []byte) SyncResult {
	if !c.store.IsUnlocked() {
		return SyncResult{Error: ErrVaultLocked}
	}

	remote, err := c.download(ctx)
	if err != nil {
		return SyncResult{Error: err, History: c.store.History()}
	}

	var stats MergeStats
	var next *Vault
	if remote == nil {
		next = c.store.Snapshot()
	} else {
		if res, ok := c.align(ctx, remote, password); !ok {
			return res
		}
		local := c.store.Snapshot()
		relation := CompareHistory(local.History, remote.History)
		c.log.WithField("relation", relation.String()).Debug("push: compared histories")

		switch relation {
		case HistoryEqual, HistoryAhead:
			next = local
		default:
			next, stats = MergeVaults(local, remote)
		}
	}

	next.History = append(next.History, newID())
	if err = c.upload(ctx, next); err != nil {
		return SyncResult{Error: err, History: c.store.History()}
	}
	if err = c.store.ReplaceVault(ctx, next); err != nil {
		return SyncResult{Error: err, Uploaded: true, History: c.store.History()}
	}

	c.log.WithFields(logrus.Fields{
		"records_added":      stats.RecordsAdded,
		"conflicts_resolved": stats.ConflictsResolved,
		"history_length":     len(next.History),
	}).Info("vault pushed")

	return SyncResult{
		Success:           true,
		Uploaded:          true,
		RecordsAdded:      stats.RecordsAdded,
		ConflictsResolved: stats.ConflictsResolved,
		History:           append([]string{}, next.History...),
	}
}

func (c *SyncCoordinator) pull(ctx context.Context, password []byte) SyncResult {
	if !c.store.IsUnlocked() {
		return SyncResult{Error: ErrVaultLocked}
	}

	remote, err := c.download(ctx)
	if err != nil {
		return SyncResult{Error: err, History: c.store.History()}
	}
	if remote == nil {
		return SyncResult{Success: true, History: c.store.History()}
	}

	if res, ok := c.align(ctx, remote, password); !ok {
		return res
	}

	local := c.store.Snapshot()
	relation := CompareHistory(local.History, remote.History)
	c.log.WithField("relation", relation.String()).Debug("pull: compared histories")

	var next *Vault
	var stats MergeStats
	switch relation {
	case HistoryEqual, HistoryAhead:
		return SyncResult{Success: true, History: local.History}
	case HistoryBehind:
		next, stats = adoptRemote(local, remote)
	default:
		next, stats = MergeVaults(local, remote)
	}

	c.log.WithFields(logrus.Fields{
		"relation":           relation.String(),
		"records_added":      stats.RecordsAdded,
		"conflicts_resolved": stats.ConflictsResolved,
	}).Info("vault pulled")

	return SyncResult{
		Success:           true,
		VaultUpdated:      true,
		RecordsAdded:      stats.RecordsAdded,
		ConflictsResolved: stats.ConflictsResolved,
		History:           append([]string{}, next.History...),
		Vault:             next,
	}
}

// align brings the local KDF configuration in line with remote. It returns false with a failed
// result when syncing cannot continue.
func (c *SyncCoordinator) align(ctx context.Context, remote *Vault, password []byte) (SyncResult, bool) {
	fail := func(err error) (SyncResult, bool) {
		return SyncResult{
			Error:            err,
			PasswordRequired: errors.Is(err, ErrPasswordRequired),
			History:          c.store.History(),
		}, false
	}

	localCfg := c.store.KDFConfig()
	if c.store.KeyDerivation().AreConfigsCompatible(localCfg, remote.KDF) {
		if c.store.validateSentinel(remote.Sentinel).Success {
			return SyncResult{}, true
		}
		if localCfg.SameSalt(remote.KDF) {
			return fail(ErrInvalidRemoteSentinel)
		}
		// same cost but a different salt: the remote vault was initialised elsewhere
	}

	if len(password) == 0 {
		return fail(ErrPasswordRequired)
	}

	c.log.WithFields(logrus.Fields{
		"local_algorithm":  string(localCfg.Algorithm),
		"remote_algorithm": string(remote.KDF.Algorithm),
	}).Info("re-keying local vault to remote KDF configuration")

	cp := c.store.checkpoint()
	// a failed rotation leaves the store as it was, so its error is passed on unchanged
	if err := c.store.rotateTo(ctx, remote.KDF, password); err != nil {
		return fail(err)
	}
	if !c.store.validateSentinel(remote.Sentinel).Success {
		if err := c.store.restoreCheckpoint(ctx, cp); err != nil {
			return fail(errors.Join(ErrInvalidRemoteSentinel, err))
		}
		return fail(ErrInvalidRemoteSentinel)
	}
	return SyncResult{}, true
}

// download returns nil without error when there is no remote vault
func (c *SyncCoordinator) download(ctx context.Context) (*Vault, error) {
	data, err := c.remote.Download(ctx, c.remotePath)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) || misc.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: download %s: %w", ErrRemoteConnectionFailure, c.remotePath, err)
	}

	v, err := UnmarshalVault(data)
	if err != nil {
		return nil, fmt.Errorf("remote vault: %w", err)
	}
	if err = c.store.KeyDerivation().ValidateConfig(v.KDF); err != nil {
		return nil, fmt.Errorf("remote vault: %w", err)
	}
	return v, nil
}

// upload writes v without its local-only records
func (c *SyncCoordinator) upload(ctx context.Context, v *Vault) error {
	shared := v.Clone()
	for id, record := range shared.Records {
		if record.LocalOnly {
			delete(shared.Records, id)
		}
	}

	data, err := MarshalVault(shared)
	if err != nil {
		return fmt.Errorf("failed to serialise vault: %w", err)
	}
	if err = c.remote.CreateDirectory(ctx, c.dir); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrRemoteConnectionFailure, c.dir, err)
	}
	if err = c.remote.Upload(ctx, c.remotePath, data, persist.UploadOptions{Overwrite: true}); err != nil {
		return fmt.Errorf("%w: upload %s: %w", ErrRemoteConnectionFailure, c.remotePath, err)
	}
	return nil
}

// adoptRemote takes the remote vault and carries over local records the remote does not have,
// such as local-only records and records created since the last sync
func adoptRemote(local, remote *Vault) (*Vault, MergeStats) {
	next := remote.Clone()
	next.normalize()
	var stats MergeStats
	for id, record := range local.Records {
		if _, ok := next.Records[id]; !ok {
			next.Records[id] = record.Clone()
		}
	}
	for id := range remote.Records {
		if _, ok := local.Records[id]; !ok {
			stats.RecordsAdded++
		}
	}
	for id, blob := range local.Labels {
		if _, ok := next.Labels[id]; !ok {
			next.Labels[id] = blob.Clone()
		}
	}
	for id, blob := range local.Templates {
		if _, ok := next.Templates[id]; !ok {
			next.Templates[id] = blob.Clone()
		}
	}
	return next, stats
}
