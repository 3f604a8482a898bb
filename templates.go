package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/awnumar/memguard"
)

// CreateTemplate encrypts tmpl and returns its id. Fields without an id get a new one.
func (s *VaultStore) CreateTemplate(ctx context.Context, tmpl Template) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	id := newID()
	err := s.commit(ctx, func(v *Vault, key []byte) error {
		blob, err := s.encryptTemplate(tmpl, key)
		if err != nil {
			return err
		}
		v.Templates[id] = blob
		return nil
	})

	s.logAudit(requestID, outcome(actionCreateTemplate, err), err, map[string]interface{}{
		"template_id": id,
		"field_count": len(tmpl.Fields),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateTemplate replaces the content of an existing template
func (s *VaultStore) UpdateTemplate(ctx context.Context, id string, tmpl Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.commit(ctx, func(v *Vault, key []byte) error {
		if _, ok := v.Templates[id]; !ok {
			return fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
		}
		blob, err := s.encryptTemplate(tmpl, key)
		if err != nil {
			return err
		}
		v.Templates[id] = blob
		return nil
	})

	s.logAudit(requestID, outcome(actionUpdateTemplate, err), err, map[string]interface{}{"template_id": id})
	return err
}

// DeleteTemplate removes a template. It fails with ErrTemplateInUse while any record that is
// not deleted still references it.
func (s *VaultStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := newRequestID()
	err := s.commit(ctx, func(v *Vault, _ []byte) error {
		if _, ok := v.Templates[id]; !ok {
			return fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
		}
		for recordID, record := range v.Records {
			if !record.Deleted && record.Template == id {
				return fmt.Errorf("template %s used by record %s: %w", id, recordID, ErrTemplateInUse)
			}
		}
		delete(v.Templates, id)
		return nil
	})

	s.logAudit(requestID, outcome(actionDeleteTemplate, err), err, map[string]interface{}{"template_id": id})
	return err
}

// GetTemplate decrypts one template
func (s *VaultStore) GetTemplate(id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	blob, ok := s.vault.Templates[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}

	var tmpl *Template
	err := s.withKey(func(key []byte) error {
		var err error
		tmpl, err = s.decryptTemplate(blob, key)
		return err
	})
	return tmpl, err
}

// GetTemplateList decrypts every template, ordered by name then id
func (s *VaultStore) GetTemplateList() ([]TemplateListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	entries := make([]TemplateListEntry, 0, len(s.vault.Templates))
	err := s.withKey(func(key []byte) error {
		for id, blob := range s.vault.Templates {
			tmpl, err := s.decryptTemplate(blob, key)
			if err != nil {
				return fmt.Errorf("template %s: %w", id, err)
			}
			entries = append(entries, TemplateListEntry{ID: id, Template: *tmpl})
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

func (s *VaultStore) encryptTemplate(tmpl Template, key []byte) (*EncryptedBlob, error) {
	if strings.TrimSpace(tmpl.Name) == "" {
		return nil, fmt.Errorf("template name cannot be empty")
	}

	normalized := Template{Name: tmpl.Name, Fields: make([]TemplateField, 0, len(tmpl.Fields))}
	seen := make(map[string]struct{}, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		if f.ID == "" {
			f.ID = newID()
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("duplicate template field id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.Name == "" {
			f.Name = f.ID
		}
		if f.Type == "" {
			f.Type = "text"
		}
		normalized.Fields = append(normalized.Fields, f)
	}

	plaintext, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise template: %w", err)
	}
	defer memguard.WipeBytes(plaintext)

	return s.engine.Encrypt(plaintext, key)
}
