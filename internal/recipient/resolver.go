// Package recipient turns a domain.Recipient (a lead or contact reference)
// into the address, display name and attributes needed to send a step.
package recipient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ignite/drip-engine/internal/domain"
)

// ErrNotFound is returned when the directory has no such lead or contact.
var ErrNotFound = errors.New("recipient not found")

// Contact is the resolved form of a recipient.
type Contact struct {
	Email      string                 `json:"email"`
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// FirstName returns the first word of Name.
func (c *Contact) FirstName() string {
	if f := strings.Fields(c.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Bindings flattens the contact into template and condition variables.
// Attributes are exposed both at the top level and under "attributes";
// the email, name and first_name keys always win.
func (c *Contact) Bindings() map[string]interface{} {
	b := make(map[string]interface{}, len(c.Attributes)+4)
	for k, v := range c.Attributes {
		b[k] = v
	}
	b["attributes"] = c.Attributes
	b["email"] = c.Email
	b["name"] = c.Name
	b["first_name"] = c.FirstName()
	return b
}

// Resolver looks recipients up in the owning directory.
type Resolver interface {
	Resolve(ctx context.Context, r domain.Recipient) (*Contact, error)
}

// StaticResolver serves contacts from memory. It backs development setups
// and tests.
type StaticResolver struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewStaticResolver creates an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{contacts: make(map[string]Contact)}
}

// Put registers c under r.
func (s *StaticResolver) Put(r domain.Recipient, c Contact) {
	s.mu.Lock()
	s.contacts[r.String()] = c
	s.mu.Unlock()
}

func (s *StaticResolver) Resolve(_ context.Context, r domain.Recipient) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[r.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
