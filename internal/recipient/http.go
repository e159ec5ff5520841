package recipient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httpretry"
)

// HTTPResolver fetches contacts from a directory service at
// GET {base}/{leads|contacts}/{id}, expecting a Contact JSON body.
type HTTPResolver struct {
	base   string
	token  string
	client httpretry.HTTPDoer
}

// NewHTTPResolver creates a resolver for the directory at baseURL. A non-empty
// token is sent as a bearer token.
func NewHTTPResolver(baseURL, token string, client httpretry.HTTPDoer) *HTTPResolver {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &HTTPResolver{base: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (h *HTTPResolver) Resolve(ctx context.Context, r domain.Recipient) (*Contact, error) {
	u := fmt.Sprintf("%s/%ss/%s", h.base, r.Type(), url.PathEscape(r.ID()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", r, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("resolve %s: directory returned %d: %s", r, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var c Contact
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode contact %s: %w", r, err)
	}
	if c.Email == "" {
		return nil, fmt.Errorf("resolve %s: contact has no email", r)
	}
	return &c, nil
}
