package upstream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

// EvidenceClient calls the evidence agent's search endpoint. It implements
// contract.EvidenceService so the care-plan orchestrator cannot tell a
// remote evidence agent from an in-process one.
type EvidenceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewEvidenceClient(baseURL string, timeout time.Duration) (*EvidenceClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("evidence agent base url is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EvidenceClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

var _ contractx.EvidenceService = (*EvidenceClient)(nil)

func (c *EvidenceClient) Search(ctx context.Context, query contractx.EvidenceQuery) (contractx.EvidencePack, error) {
	var out struct {
		EvidencePack contractx.EvidencePack `json:"evidence_pack"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/agents/evidence/search", query, &out); err != nil {
		return contractx.EvidencePack{}, err
	}
	log.Info().
		Int("trials", len(out.EvidencePack.Trials)).
		Int("analyses", len(out.EvidencePack.Analyses)).
		Msg("evidence pack received")
	return out.EvidencePack, nil
}
