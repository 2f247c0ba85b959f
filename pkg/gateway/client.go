package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ToolErrorKind classifies why a tool invocation failed.
type ToolErrorKind string

const (
	KindNetwork    ToolErrorKind = "network"
	KindHTTPStatus ToolErrorKind = "http_status"
	KindMalformed  ToolErrorKind = "malformed_envelope"
	KindDecode     ToolErrorKind = "payload_decode"
	KindRemote     ToolErrorKind = "remote_tool_error"
)

// ToolError is the failure variant of a tool invocation.
type ToolError struct {
	Kind   ToolErrorKind
	Tool   Tool
	Detail string
	err    error
}

func (e *ToolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("tool %s failed (%s): %s: %v", e.Tool, e.Kind, e.Detail, e.err)
	}
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Kind, e.Detail)
}

func (e *ToolError) Unwrap() error { return e.err }

func toolErr(kind ToolErrorKind, tool Tool, detail string, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Detail: detail, err: err}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rpcResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int64      `json:"id"`
	Result  *rpcResult `json:"result"`
	Error   *rpcError  `json:"error"`
}

// Client invokes named tools on JSON-RPC gateways, authenticating through a
// token broker. It never retries; fallback policy belongs to the caller.
type Client struct {
	broker     *Broker
	httpClient *http.Client
	seq        atomic.Int64
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(broker *Broker, opts ...ClientOption) (*Client, error) {
	if broker == nil {
		return nil, errors.New("token broker is required")
	}
	c := &Client{
		broker:     broker,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CallTool sends a tools/call envelope and unwraps the first text content
// block into a raw JSON payload. Auth failures, transport failures,
// envelope problems, and payload decode problems each come back as a
// *ToolError (auth as the wrapped broker error) so the fallback resolver
// can treat them uniformly.
func (c *Client) CallTool(ctx context.Context, gatewayID, gatewayURL string, tool Tool, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.validateArgs(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, toolErr(KindNetwork, tool, "gateway url is not configured", nil)
	}

	token, err := c.broker.Token(ctx, gatewayID)
	if err != nil {
		return nil, err
	}

	id := c.seq.Add(1)
	envelope := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params:  rpcParams{Name: string(tool), Arguments: args},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, toolErr(KindMalformed, tool, "marshal request envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL, bytes.NewReader(body))
	if err != nil {
		return nil, toolErr(KindNetwork, tool, "build request", err)
	}
	correlationID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	log.Info().
		Str("gateway", gatewayID).
		Str("tool", string(tool)).
		Str("correlation_id", correlationID).
		Int("token_len", len(token)).
		Msg("invoking gateway tool")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, toolErr(KindNetwork, tool, "gateway call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Force a refresh before the caller's next attempt.
		c.broker.Invalidate(gatewayID)
		return nil, toolErr(KindHTTPStatus, tool, "gateway returned status 401", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, toolErr(KindHTTPStatus, tool,
			fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(preview))), nil)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, toolErr(KindMalformed, tool, "decode response envelope", err)
	}
	if rpcResp.Error != nil {
		return nil, toolErr(KindMalformed, tool,
			fmt.Sprintf("gateway error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message), nil)
	}
	if rpcResp.Result == nil {
		return nil, toolErr(KindMalformed, tool, "response envelope has neither result nor error", nil)
	}
	if rpcResp.ID != id {
		return nil, toolErr(KindMalformed, tool,
			fmt.Sprintf("response id %d does not match request id %d", rpcResp.ID, id), nil)
	}
	if rpcResp.Result.IsError {
		detail := "tool reported an error"
		if len(rpcResp.Result.Content) > 0 {
			detail = rpcResp.Result.Content[0].Text
		}
		return nil, toolErr(KindRemote, tool, detail, nil)
	}
	if len(rpcResp.Result.Content) == 0 {
		return nil, toolErr(KindMalformed, tool, "result has no content blocks", nil)
	}

	first := rpcResp.Result.Content[0]
	if first.Type != "text" {
		return nil, toolErr(KindDecode, tool, fmt.Sprintf("first content block has type %q, want text", first.Type), nil)
	}
	payload := json.RawMessage(first.Text)
	if !json.Valid(payload) {
		return nil, toolErr(KindDecode, tool, "text content is not valid JSON", nil)
	}

	log.Debug().
		Str("tool", string(tool)).
		Str("correlation_id", correlationID).
		Int("payload_bytes", len(payload)).
		Msg("gateway tool payload unwrapped")
	return payload, nil
}
