package tenant

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound is returned when no published key matches a token's kid.
var ErrKeyNotFound = errors.New("tenant: signing key not found")

// DefaultJWKSCacheTTL is how long fetched keys are trusted before refresh.
const DefaultJWKSCacheTTL = 10 * time.Minute

// JWKS fetches and caches public signing keys, such as those Supabase
// publishes at /auth/v1/.well-known/jwks.json. RSA and P-256 EC keys are
// supported.
type JWKS struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time
	refresh   singleflight.Group
}

// NewJWKS creates a key set for url. A zero ttl uses DefaultJWKSCacheTTL and
// a nil client uses one with a 10 second timeout.
func NewJWKS(url string, ttl time.Duration, client *http.Client) *JWKS {
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKS{url: url, ttl: ttl, client: client, keys: make(map[string]any)}
}

// Key returns the public key for kid. An unknown kid or a stale cache
// triggers one shared refresh. When the refresh fails, previously fetched
// keys are still served.
func (j *JWKS) Key(ctx context.Context, kid string) (any, error) {
	j.mu.RLock()
	key := j.lookupLocked(kid)
	fresh := time.Since(j.fetchedAt) < j.ttl
	j.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	_, err, _ := j.refresh.Do("refresh", func() (any, error) {
		return nil, j.fetch(ctx)
	})

	j.mu.RLock()
	key = j.lookupLocked(kid)
	j.mu.RUnlock()
	switch {
	case key != nil:
		return key, nil
	case err != nil:
		return nil, err
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// lookupLocked finds kid, or the only key when kid is empty.
func (j *JWKS) lookupLocked(kid string) any {
	if kid == "" && len(j.keys) == 1 {
		for _, k := range j.keys {
			return k
		}
	}
	return j.keys[kid]
}

func (j *JWKS) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("tenant: jwks request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("tenant: fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tenant: fetch jwks: status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("tenant: decode jwks: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	j.mu.Lock()
	for kid, k := range keys {
		j.keys[kid] = k
	}
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, err
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		if k.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, err
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("unsupported key type %q", k.Kty)
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("missing key parameter")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
