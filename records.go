package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/awnumar/memguard"
)

// CreateRecord encrypts input into a new record and returns its id.
//
// The template and every label must exist. Field ids are taken as given; values for ids the
// template does not define are still stored.
func (s *VaultStore) CreateRecord(ctx context.Context, input RecordInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	id := newID()
	s.logAudit(requestID, initiated(actionCreateRecord), nil, map[string]interface{}{"record_id": id})

	err := s.commit(ctx, func(v *Vault, key []byte) error {
		if err := checkReferences(v, input.Template, input.Labels); err != nil {
			return err
		}
		record := &VaultRecord{
			Template:     input.Template,
			Labels:       dedupe(input.Labels),
			LastModified: toMillis(s.now()),
			LocalOnly:    input.LocalOnly,
		}
		if err := s.encryptContent(record, input, key); err != nil {
			return err
		}
		v.Records[id] = record
		return nil
	})

	s.logAudit(requestID, outcome(actionCreateRecord, err), err, map[string]interface{}{
		"record_id":   id,
		"field_count": len(input.Fields),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateRecord replaces the title, template, labels and fields of a record and refreshes its
// modification time. LocalOnly is not changed; see SetRecordLocalOnly.
func (s *VaultStore) UpdateRecord(ctx context.Context, id string, input RecordInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.commit(ctx, func(v *Vault, key []byte) error {
		record, ok := v.Records[id]
		if !ok || record.Deleted {
			return fmt.Errorf("%s: %w", id, ErrRecordNotFound)
		}
		if err := checkReferences(v, input.Template, input.Labels); err != nil {
			return err
		}
		record.Template = input.Template
		record.Labels = dedupe(input.Labels)
		record.LastModified = toMillis(s.now())
		return s.encryptContent(record, input, key)
	})

	s.logAudit(requestID, outcome(actionUpdateRecord, err), err, map[string]interface{}{"record_id": id})
	return err
}

// DeleteRecord marks a record deleted. The tombstone is kept so the deletion reaches other
// copies of the vault on sync.
func (s *VaultStore) DeleteRecord(ctx context.Context, id string) error {
	return s.flipRecord(ctx, actionDeleteRecord, id, func(r *VaultRecord) error {
		if r.Deleted {
			return fmt.Errorf("%s: %w", id, ErrRecordNotFound)
		}
		r.Deleted = true
		return nil
	})
}

// RestoreRecord undoes DeleteRecord. The modification time is refreshed so the restoration
// wins a later merge against the tombstone.
func (s *VaultStore) RestoreRecord(ctx context.Context, id string) error {
	return s.flipRecord(ctx, actionRestoreRecord, id, func(r *VaultRecord) error {
		if !r.Deleted {
			return fmt.Errorf("record %s is not deleted", id)
		}
		r.Deleted = false
		return nil
	})
}

// SetRecordLocalOnly controls whether a record is uploaded on push
func (s *VaultStore) SetRecordLocalOnly(ctx context.Context, id string, localOnly bool) error {
	return s.flipRecord(ctx, actionRecordLocalOnly, id, func(r *VaultRecord) error {
		r.LocalOnly = localOnly
		return nil
	})
}

func (s *VaultStore) flipRecord(ctx context.Context, action, id string, flip func(r *VaultRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.commit(ctx, func(v *Vault, _ []byte) error {
		record, ok := v.Records[id]
		if !ok {
			return fmt.Errorf("%s: %w", id, ErrRecordNotFound)
		}
		if err := flip(record); err != nil {
			return err
		}
		record.LastModified = toMillis(s.now())
		return nil
	})

	s.logAudit(requestID, outcome(action, err), err, map[string]interface{}{"record_id": id})
	return err
}

// GetRecord decrypts a record and joins its fields with the template definition.
//
// Fields are returned in template order followed by any fields the template does not know,
// sorted by id. Unknown fields fall back to {name: id, type: "text"}; a missing template is
// treated the same way, since templates may lag behind record data after a merge.
func (s *VaultStore) GetRecord(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	record, ok := s.vault.Records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}

	var out *Record
	err := s.withKey(func(key []byte) error {
		title, err := s.engine.DecryptToString(record.Title, key)
		if err != nil {
			return fmt.Errorf("record %s title: %w", id, err)
		}

		var tmpl *Template
		if blob, ok := s.vault.Templates[record.Template]; ok {
			tmpl, err = s.decryptTemplate(blob, key)
			if err != nil {
				return fmt.Errorf("record %s template: %w", id, err)
			}
		}

		fields, err := s.decryptFields(record, tmpl, key)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}

		out = &Record{
			ID:           id,
			Title:        title,
			Template:     record.Template,
			Labels:       append([]string{}, record.Labels...),
			Fields:       fields,
			LastModified: fromMillis(record.LastModified),
			Deleted:      record.Deleted,
			LocalOnly:    record.LocalOnly,
		}
		return nil
	})
	return out, err
}

// GetRecordList decrypts record titles only. Entries are ordered by modification time, newest
// first, ties broken by id.
func (s *VaultStore) GetRecordList(opts RecordListOptions) ([]RecordListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	entries := make([]RecordListEntry, 0, len(s.vault.Records))
	err := s.withKey(func(key []byte) error {
		for id, record := range s.vault.Records {
			if record.Deleted && !opts.IncludeDeleted {
				continue
			}
			if opts.Template != "" && record.Template != opts.Template {
				continue
			}
			if opts.Label != "" && !containsString(record.Labels, opts.Label) {
				continue
			}

			title, err := s.engine.DecryptToString(record.Title, key)
			if err != nil {
				return fmt.Errorf("record %s title: %w", id, err)
			}
			entries = append(entries, RecordListEntry{
				ID:           id,
				Title:        title,
				Template:     record.Template,
				Labels:       append([]string{}, record.Labels...),
				LastModified: fromMillis(record.LastModified),
				Deleted:      record.Deleted,
				LocalOnly:    record.LocalOnly,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastModified.Equal(entries[j].LastModified) {
			return entries[i].LastModified.After(entries[j].LastModified)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// encryptContent replaces the title and fields of record with fresh ciphertexts of input
func (s *VaultStore) encryptContent(record *VaultRecord, input RecordInput, key []byte) error {
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("record title cannot be empty")
	}

	title, err := s.engine.EncryptString(input.Title, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt title: %w", err)
	}

	fields := make(map[string]*EncryptedBlob, len(input.Fields))
	for fieldID, value := range input.Fields {
		if fieldID == "" {
			return fmt.Errorf("field id cannot be empty")
		}
		blob, err := s.engine.EncryptString(value, key)
		if err != nil {
			return fmt.Errorf("failed to encrypt field %s: %w", fieldID, err)
		}
		fields[fieldID] = blob
	}

	record.Title = title
	record.Fields = fields
	return nil
}

func (s *VaultStore) decryptFields(record *VaultRecord, tmpl *Template, key []byte) ([]Field, error) {
	fields := make([]Field, 0, len(record.Fields))
	seen := make(map[string]struct{}, len(record.Fields))

	decrypt := func(def Field) error {
		blob, ok := record.Fields[def.ID]
		if !ok {
			return nil
		}
		value, err := s.engine.DecryptToString(blob, key)
		if err != nil {
			return fmt.Errorf("field %s: %w", def.ID, err)
		}
		def.Value = value
		fields = append(fields, def)
		seen[def.ID] = struct{}{}
		return nil
	}

	if tmpl != nil {
		for _, f := range tmpl.Fields {
			if err := decrypt(Field{ID: f.ID, Name: f.Name, Type: f.Type, Optional: f.Optional}); err != nil {
				return nil, err
			}
		}
	}

	for _, fieldID := range sortedKeys(record.Fields) {
		if _, ok := seen[fieldID]; ok {
			continue
		}
		if err := decrypt(Field{ID: fieldID, Name: fieldID, Type: "text"}); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (s *VaultStore) decryptTemplate(blob *EncryptedBlob, key []byte) (*Template, error) {
	plaintext, err := s.engine.Decrypt(blob, key)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(plaintext)

	var tmpl Template
	if err = json.Unmarshal(plaintext, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &tmpl, nil
}

// checkReferences ensures the template and labels a record points at exist
func checkReferences(v *Vault, templateID string, labels []string) error {
	if templateID != "" {
		if _, ok := v.Templates[templateID]; !ok {
			return fmt.Errorf("%s: %w", templateID, ErrTemplateNotFound)
		}
	}
	for _, labelID := range labels {
		if labelID == "" {
			continue
		}
		if _, ok := v.Labels[labelID]; !ok {
			return fmt.Errorf("%s: %w", labelID, ErrLabelNotFound)
		}
	}
	return nil
}
