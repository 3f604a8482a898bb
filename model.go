package memo

import (
	"encoding/json"
	"fmt"
	"time"
)

// VaultRecord is one encrypted entry. Only the title and field values are encrypted; the
// template and label references are ids.
type VaultRecord struct {
	Title    *EncryptedBlob            `json:"title"`
	Fields   map[string]*EncryptedBlob `json:"fields"`
	Template string                    `json:"template"`
	Labels   []string                  `json:"labels"`
	// LastModified is milliseconds since the Unix epoch
	LastModified int64 `json:"last_modified"`
	// Deleted marks a tombstone. Records are never removed so that deletions survive merge.
	Deleted   bool `json:"deleted"`
	LocalOnly bool `json:"local_only"`
}

// Vault is the aggregate root persisted as a whole and exchanged with the remote store
type Vault struct {
	Records   map[string]*VaultRecord   `json:"records"`
	Labels    map[string]*EncryptedBlob `json:"labels"`
	Templates map[string]*EncryptedBlob `json:"templates"`
	// History is append-only; each entry is an opaque version id
	History  []string       `json:"history"`
	KDF      KDFConfig      `json:"kdf"`
	Sentinel *EncryptedBlob `json:"sentinel,omitempty"`
}

// NewVault returns an empty vault using cfg
func NewVault(cfg KDFConfig) *Vault {
	return &Vault{
		Records:   make(map[string]*VaultRecord),
		Labels:    make(map[string]*EncryptedBlob),
		Templates: make(map[string]*EncryptedBlob),
		History:   []string{},
		KDF:       cfg,
	}
}

// Clone returns a deep copy
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	out := &Vault{
		Records:   make(map[string]*VaultRecord, len(v.Records)),
		Labels:    make(map[string]*EncryptedBlob, len(v.Labels)),
		Templates: make(map[string]*EncryptedBlob, len(v.Templates)),
		History:   append([]string{}, v.History...),
		KDF:       v.KDF.Clone(),
		Sentinel:  v.Sentinel.Clone(),
	}
	for id, r := range v.Records {
		out.Records[id] = r.Clone()
	}
	for id, b := range v.Labels {
		out.Labels[id] = b.Clone()
	}
	for id, b := range v.Templates {
		out.Templates[id] = b.Clone()
	}
	return out
}

// normalize replaces nil collections left by older or hand written files
func (v *Vault) normalize() {
	if v.Records == nil {
		v.Records = make(map[string]*VaultRecord)
	}
	if v.Labels == nil {
		v.Labels = make(map[string]*EncryptedBlob)
	}
	if v.Templates == nil {
		v.Templates = make(map[string]*EncryptedBlob)
	}
	if v.History == nil {
		v.History = []string{}
	}
	for _, r := range v.Records {
		if r.Fields == nil {
			r.Fields = make(map[string]*EncryptedBlob)
		}
		if r.Labels == nil {
			r.Labels = []string{}
		}
	}
}

// MarshalVault serialises v in the wire format
func MarshalVault(v *Vault) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalVault parses the wire format
func UnmarshalVault(data []byte) (*Vault, error) {
	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	v.normalize()
	return &v, nil
}

// Clone returns a deep copy
func (r *VaultRecord) Clone() *VaultRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Title = r.Title.Clone()
	out.Fields = make(map[string]*EncryptedBlob, len(r.Fields))
	for id, b := range r.Fields {
		out.Fields[id] = b.Clone()
	}
	out.Labels = append([]string{}, r.Labels...)
	return &out
}

// Template describes the fields of a kind of record
type Template struct {
	Name   string          `json:"name"`
	Fields []TemplateField `json:"fields"`
}

// TemplateField is one ordered field of a template. Type is a UI hint such as "text",
// "password" or "url".
type TemplateField struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
}

// Label is a user defined tag
type Label struct {
	Name string `json:"name"`
}

// Field is a decrypted record field joined with its template definition
type Field struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Value    string `json:"value"`
}

// Record is a decrypted VaultRecord
type Record struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Template     string    `json:"template"`
	Labels       []string  `json:"labels"`
	Fields       []Field   `json:"fields"`
	LastModified time.Time `json:"last_modified"`
	Deleted      bool      `json:"deleted"`
	LocalOnly    bool      `json:"local_only"`
}

// RecordInput carries the plaintext for CreateRecord and UpdateRecord. Fields maps field ids
// to values.
type RecordInput struct {
	Title     string
	Template  string
	Labels    []string
	Fields    map[string]string
	LocalOnly bool
}

// RecordListEntry is the listing view of a record: only the title is decrypted
type RecordListEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Template     string    `json:"template"`
	Labels       []string  `json:"labels"`
	LastModified time.Time `json:"last_modified"`
	Deleted      bool      `json:"deleted"`
	LocalOnly    bool      `json:"local_only"`
}

// RecordListOptions filters GetRecordList
type RecordListOptions struct {
	IncludeDeleted bool
	Label          string
	Template       string
}

// TemplateListEntry pairs a template id with its decrypted content
type TemplateListEntry struct {
	ID string `json:"id"`
	Template
}

// LabelListEntry pairs a label id with its decrypted content
type LabelListEntry struct {
	ID string `json:"id"`
	Label
}

// UserProfile is the application data stored beside the vault. The sync configuration is
// encrypted with the vault's master key.
type UserProfile struct {
	SyncConfig *EncryptedBlob `json:"sync_config,omitempty"`
}

// Clone returns a deep copy
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return &UserProfile{}
	}
	return &UserProfile{SyncConfig: p.SyncConfig.Clone()}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
