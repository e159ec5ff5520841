package recipient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/domain"
)

type countingResolver struct {
	inner Resolver
	calls int32
}

func (c *countingResolver) Resolve(ctx context.Context, r domain.Recipient) (*Contact, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Resolve(ctx, r)
}

func TestBindings(t *testing.T) {
	c := &Contact{Email: "ada@example.com", Name: "Ada Lovelace", Attributes: map[string]interface{}{"plan": "pro", "email": "shadowed"}}
	b := c.Bindings()
	assert.Equal(t, "ada@example.com", b["email"])
	assert.Equal(t, "Ada", b["first_name"])
	assert.Equal(t, "pro", b["plan"])
	assert.Equal(t, c.Attributes, b["attributes"])
}

func TestStaticResolver(t *testing.T) {
	s := NewStaticResolver()
	s.Put(domain.LeadRecipient("1"), Contact{Email: "a@example.com"})

	c, err := s.Resolve(context.Background(), domain.LeadRecipient("1"))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", c.Email)

	_, err = s.Resolve(context.Background(), domain.ContactRecipient("1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedResolver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	static := NewStaticResolver()
	static.Put(domain.ContactRecipient("9"), Contact{Email: "c@example.com", Name: "Cy"})
	counter := &countingResolver{inner: static}
	cached := NewCachedResolver(counter, client, time.Minute)

	for i := 0; i < 3; i++ {
		c, err := cached.Resolve(ctx, domain.ContactRecipient("9"))
		require.NoError(t, err)
		assert.Equal(t, "c@example.com", c.Email)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&counter.calls))
	assert.True(t, mr.Exists("drip:recipient:contact:9"))

	mr.FastForward(2 * time.Minute)
	_, err := cached.Resolve(ctx, domain.ContactRecipient("9"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&counter.calls))

	require.NoError(t, cached.Invalidate(ctx, domain.ContactRecipient("9")))
	assert.False(t, mr.Exists("drip:recipient:contact:9"))

	_, err = cached.Resolve(ctx, domain.ContactRecipient("404"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("drip:recipient:contact:404"))
}

func TestCachedResolverSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	static := NewStaticResolver()
	static.Put(domain.LeadRecipient("1"), Contact{Email: "a@example.com"})
	c, err := NewCachedResolver(static, client, time.Minute).Resolve(context.Background(), domain.LeadRecipient("1"))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", c.Email)
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/leads/7":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"email":"lead@example.com","name":"Lee","attributes":{"score":42}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHTTPResolver(srv.URL+"/", "secret", srv.Client())
	c, err := h.Resolve(context.Background(), domain.LeadRecipient("7"))
	require.NoError(t, err)
	assert.Equal(t, "lead@example.com", c.Email)
	assert.Equal(t, float64(42), c.Attributes["score"])

	_, err = h.Resolve(context.Background(), domain.ContactRecipient("7"))
	assert.ErrorIs(t, err, ErrNotFound)
}
