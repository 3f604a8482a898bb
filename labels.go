package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/awnumar/memguard"
)

// CreateLabel encrypts name into a new label and returns its id
func (s *VaultStore) CreateLabel(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	id := newID()
	err := s.commit(ctx, func(v *Vault, key []byte) error {
		blob, err := s.encryptLabel(Label{Name: name}, key)
		if err != nil {
			return err
		}
		v.Labels[id] = blob
		return nil
	})

	s.logAudit(requestID, outcome(actionCreateLabel, err), err, map[string]interface{}{"label_id": id})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateLabel renames a label. Records referencing it are not touched.
func (s *VaultStore) UpdateLabel(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.commit(ctx, func(v *Vault, key []byte) error {
		if _, ok := v.Labels[id]; !ok {
			return fmt.Errorf("%s: %w", id, ErrLabelNotFound)
		}
		blob, err := s.encryptLabel(Label{Name: name}, key)
		if err != nil {
			return err
		}
		v.Labels[id] = blob
		return nil
	})

	s.logAudit(requestID, outcome(actionUpdateLabel, err), err, map[string]interface{}{"label_id": id})
	return err
}

// DeleteLabel removes a label and detaches it from every live record. Detached records get a
// new modification time so the change propagates on sync.
func (s *VaultStore) DeleteLabel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	detached := 0
	err := s.commit(ctx, func(v *Vault, _ []byte) error {
		if _, ok := v.Labels[id]; !ok {
			return fmt.Errorf("%s: %w", id, ErrLabelNotFound)
		}
		delete(v.Labels, id)

		now := toMillis(s.now())
		for _, record := range v.Records {
			if record.Deleted || !containsString(record.Labels, id) {
				continue
			}
			kept := record.Labels[:0]
			for _, l := range record.Labels {
				if l != id {
					kept = append(kept, l)
				}
			}
			record.Labels = kept
			record.LastModified = now
			detached++
		}
		return nil
	})

	s.logAudit(requestID, outcome(actionDeleteLabel, err), err, map[string]interface{}{
		"label_id":         id,
		"records_detached": detached,
	})
	return err
}

// GetLabel decrypts a single label
func (s *VaultStore) GetLabel(id string) (*Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	blob, ok := s.vault.Labels[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrLabelNotFound)
	}

	var label *Label
	err := s.withKey(func(key []byte) error {
		var err error
		label, err = s.decryptLabel(blob, key)
		return err
	})
	return label, err
}

// GetLabelList decrypts every label, ordered by name then id
func (s *VaultStore) GetLabelList() ([]LabelListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	entries := make([]LabelListEntry, 0, len(s.vault.Labels))
	err := s.withKey(func(key []byte) error {
		for id, blob := range s.vault.Labels {
			label, err := s.decryptLabel(blob, key)
			if err != nil {
				return fmt.Errorf("label %s: %w", id, err)
			}
			entries = append(entries, LabelListEntry{ID: id, Label: *label})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *VaultStore) encryptLabel(label Label, key []byte) (*EncryptedBlob, error) {
	if strings.TrimSpace(label.Name) == "" {
		return nil, fmt.Errorf("label name cannot be empty")
	}
	plaintext, err := json.Marshal(label)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise label: %w", err)
	}
	defer memguard.WipeBytes(plaintext)
	return s.engine.Encrypt(plaintext, key)
}

func (s *VaultStore) decryptLabel(blob *EncryptedBlob, key []byte) (*Label, error) {
	plaintext, err := s.engine.Decrypt(blob, key)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)

	var label Label
	if err = json.Unmarshal(plaintext, &label); err != nil {
		return nil, fmt.Errorf("failed to parse label: %w", err)
	}
	return &label, nil
}
