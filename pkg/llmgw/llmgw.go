// Package llmgw talks to a chat-completions backend sitting behind an
// OAuth2-protected API gateway. Tokens come from the shared broker per
// request, so a rotated credential never strands a long-lived client.
package llmgw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
)

// GatewayID keys the broker credential set for the chat-completions gateway.
const GatewayID = "llm"

type Config struct {
	BaseURL       string        `envconfig:"BASE_URL" split_words:"true"`
	TokenEndpoint string        `envconfig:"TOKEN_ENDPOINT" split_words:"true"`
	ClientID      string        `envconfig:"CLIENT_ID" split_words:"true"`
	ClientSecret  string        `envconfig:"CLIENT_SECRET" split_words:"true"`
	Scope         string        `envconfig:"SCOPE" split_words:"true"`
	Model         string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-mini"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"45s"`
}

// Configured reports whether the generative backend can be used at all.
// When false the agents run heuristic-only.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		gatewayx.Credentials{
			TokenEndpoint: c.TokenEndpoint,
			ClientID:      c.ClientID,
			ClientSecret:  c.ClientSecret,
		}.Configured()
}

func (c Config) Credentials() gatewayx.Credentials {
	return gatewayx.Credentials{
		TokenEndpoint: c.TokenEndpoint,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Scope:         c.Scope,
	}
}

// Client is a thin JSON-mode completion client.
type Client struct {
	api     openaisdk.Client
	broker  *gatewayx.Broker
	model   string
	timeout time.Duration
}

func NewClient(cfg Config, broker *gatewayx.Broker) (*Client, error) {
	if broker == nil {
		return nil, errors.New("token broker is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("chat gateway base url is required")
	}

	api := openaisdk.NewClient(option.WithBaseURL(base))
	return &Client{
		api:     api,
		broker:  broker,
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
	}, nil
}

// Model reports the configured model name, recorded on packs and cards when
// a generative step succeeded.
func (c *Client) Model() string { return c.model }

// CompleteJSON sends a system+user prompt pair in JSON-object mode and
// returns the raw model text. Empty output is an error: the caller's
// heuristic branch handles it the same way as a timeout.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	token, err := c.broker.Token(ctx, GatewayID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrSynthesis, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
		Temperature: openaisdk.Float(0.2),
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}, option.WithAPIKey(token))
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", contractx.ErrSynthesis, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", contractx.ErrSynthesis)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: chat completion returned empty content", contractx.ErrSynthesis)
	}

	log.Debug().
		Str("model", c.model).
		Dur("elapsed", time.Since(started)).
		Int("content_len", len(content)).
		Msg("chat completion received")
	return content, nil
}
