package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/careloop/careloop/agent/contract"
)

// expiryMargin keeps a token from being served this close to its expiry.
const expiryMargin = 60 * time.Second

const defaultExpiresIn = 3600

// Credentials holds the client-credentials grant settings for one gateway.
type Credentials struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scope         string
}

// Configured reports whether the credential set is usable at all. An
// unconfigured gateway forces callers onto their REST fallback.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.TokenEndpoint) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.ClientSecret) != ""
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// Broker acquires and caches bearer tokens per gateway id. Refreshes are
// single-flighted per gateway so concurrent callers share one exchange.
type Broker struct {
	httpClient *http.Client
	group      singleflight.Group
	now        func() time.Time

	mu     sync.Mutex
	creds  map[string]Credentials
	tokens map[string]accessToken
}

type BrokerOption func(*Broker)

func WithBrokerHTTPClient(client *http.Client) BrokerOption {
	return func(b *Broker) {
		if client != nil {
			b.httpClient = client
		}
	}
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		creds:      make(map[string]Credentials),
		tokens:     make(map[string]accessToken),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds a credential set to a gateway id. Later registrations for
// the same id replace earlier ones and drop any cached token.
func (b *Broker) Register(gatewayID string, creds Credentials) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creds[gatewayID] = creds
	delete(b.tokens, gatewayID)
}

// Token returns a bearer token for the gateway, reusing the cached one while
// it stays clear of the expiry margin.
func (b *Broker) Token(ctx context.Context, gatewayID string) (string, error) {
	b.mu.Lock()
	creds, ok := b.creds[gatewayID]
	tok, cached := b.tokens[gatewayID]
	b.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: gateway %q is not registered", contractx.ErrAuth, gatewayID)
	}
	if !creds.Configured() {
		return "", fmt.Errorf("%w: gateway %q credentials are not configured", contractx.ErrAuth, gatewayID)
	}
	if cached && b.now().Before(tok.expiresAt.Add(-expiryMargin)) {
		return tok.value, nil
	}

	v, err, _ := b.group.Do(gatewayID, func() (any, error) {
		// A waiter queued behind a finished refresh reuses its result.
		b.mu.Lock()
		tok, cached := b.tokens[gatewayID]
		b.mu.Unlock()
		if cached && b.now().Before(tok.expiresAt.Add(-expiryMargin)) {
			return tok.value, nil
		}
		return b.exchange(ctx, gatewayID, creds)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call forces a refresh.
// Callers use it after a downstream 401.
func (b *Broker) Invalidate(gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, gatewayID)
}

func (b *Broker) exchange(ctx context.Context, gatewayID string, creds Credentials) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	if creds.Scope != "" {
		form.Set("scope", creds.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", contractx.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Debug().Str("gateway", gatewayID).Str("endpoint", creds.TokenEndpoint).Msg("requesting gateway access token")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint unreachable: %v", contractx.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: token endpoint returned status %d: %s", contractx.ErrAuth, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", contractx.ErrAuth, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", contractx.ErrAuth)
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = defaultExpiresIn
	}

	tok := accessToken{
		value:     payload.AccessToken,
		expiresAt: b.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	b.mu.Lock()
	b.tokens[gatewayID] = tok
	b.mu.Unlock()

	log.Info().
		Str("gateway", gatewayID).
		Int("token_len", len(tok.value)).
		Int("expires_in", payload.ExpiresIn).
		Msg("gateway access token obtained")
	return tok.value, nil
}
