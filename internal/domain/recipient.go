package domain

import (
	"encoding/json"
	"fmt"
)

// RecipientType tags which kind of record a Recipient points at.
type RecipientType string

const (
	RecipientLead    RecipientType = "lead"
	RecipientContact RecipientType = "contact"
)

// Recipient references exactly one lead or one contact. The fields are
// unexported so the only way to build one is through LeadRecipient,
// ContactRecipient or ParseRecipient.
type Recipient struct {
	kind RecipientType
	id   string
}

// LeadRecipient references a lead by id.
func LeadRecipient(id string) Recipient { return Recipient{kind: RecipientLead, id: id} }

// ContactRecipient references a contact by id.
func ContactRecipient(id string) Recipient { return Recipient{kind: RecipientContact, id: id} }

// ParseRecipient builds a Recipient from its stored type and id.
func ParseRecipient(kind, id string) (Recipient, error) {
	if id == "" {
		return Recipient{}, fmt.Errorf("recipient id is required")
	}
	switch RecipientType(kind) {
	case RecipientLead:
		return LeadRecipient(id), nil
	case RecipientContact:
		return ContactRecipient(id), nil
	default:
		return Recipient{}, fmt.Errorf("unknown recipient type %q", kind)
	}
}

// Type returns the recipient variant.
func (r Recipient) Type() RecipientType { return r.kind }

// ID returns the referenced record's id.
func (r Recipient) ID() string { return r.id }

// IsZero reports whether r references nothing.
func (r Recipient) IsZero() bool { return r.kind == "" || r.id == "" }

// String renders the recipient as "type:id".
func (r Recipient) String() string { return string(r.kind) + ":" + r.id }

type recipientJSON struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r Recipient) MarshalJSON() ([]byte, error) {
	return json.Marshal(recipientJSON{Type: string(r.kind), ID: r.id})
}

func (r *Recipient) UnmarshalJSON(data []byte) error {
	var raw recipientJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRecipient(raw.Type, raw.ID)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
