package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
)

// TrialClient lists registry trials, preferring the trial-registry tool
// gateway and falling back to the registry's REST endpoint.
type TrialClient struct {
	gw         *gatewayx.Client
	gatewayID  string
	gatewayURL string
	restBase   string
	httpClient *http.Client
}

func NewTrialClient(gw *gatewayx.Client, gatewayID, gatewayURL, restBase string) *TrialClient {
	return &TrialClient{
		gw:         gw,
		gatewayID:  gatewayID,
		gatewayURL: strings.TrimSpace(gatewayURL),
		restBase:   strings.TrimRight(strings.TrimSpace(restBase), "/"),
		httpClient: &http.Client{Timeout: defaultRESTTimeout},
	}
}

var _ contractx.TrialSource = (*TrialClient)(nil)

// trialWire accepts both the gateway's camelCase fields and the REST
// service's snake_case ones.
type trialWire struct {
	ID                 int      `json:"id"`
	NCTID              string   `json:"nct_id"`
	NCTIDAlt           string   `json:"nctId"`
	Title              string   `json:"title"`
	Condition          string   `json:"condition"`
	Phase              string   `json:"phase"`
	Status             string   `json:"status"`
	SiteDistanceKM     *float64 `json:"site_distance_km"`
	DistanceAlt        *float64 `json:"distance"`
	EligibilitySummary string   `json:"eligibility_summary"`
	EligibilityAlt     string   `json:"eligibilitySummary"`
}

func (w trialWire) normalize() contractx.Trial {
	t := contractx.Trial{
		ID:                 w.ID,
		NCTID:              w.NCTID,
		Title:              w.Title,
		Condition:          w.Condition,
		Phase:              w.Phase,
		Status:             w.Status,
		SiteDistanceKM:     w.SiteDistanceKM,
		EligibilitySummary: w.EligibilitySummary,
	}
	if t.NCTID == "" {
		t.NCTID = w.NCTIDAlt
	}
	if t.NCTID == "" {
		t.NCTID = fmt.Sprintf("NCT%08d", w.ID)
	}
	if t.SiteDistanceKM == nil {
		t.SiteDistanceKM = w.DistanceAlt
	}
	if t.EligibilitySummary == "" {
		t.EligibilitySummary = w.EligibilityAlt
	}
	return t
}

func normalizeTrials(wires []trialWire) []contractx.Trial {
	trials := make([]contractx.Trial, 0, len(wires))
	for _, w := range wires {
		trials = append(trials, w.normalize())
	}
	return trials
}

func (c *TrialClient) ListTrials(ctx context.Context) ([]contractx.Trial, error) {
	return gatewayx.Resolve(ctx, c.viaGateway, c.viaREST)
}

func (c *TrialClient) viaGateway(ctx context.Context) ([]contractx.Trial, error) {
	payload, err := c.gw.CallTool(ctx, c.gatewayID, c.gatewayURL, gatewayx.ToolListTrials, nil)
	if err != nil {
		return nil, err
	}

	// The gateway wraps the list as {totalCount, trials}; a bare array is
	// accepted too.
	var envelope struct {
		TotalCount int         `json:"totalCount"`
		Trials     []trialWire `json:"trials"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Trials != nil {
		log.Info().Int("count", len(envelope.Trials)).Int("total", envelope.TotalCount).Msg("trials fetched via gateway")
		return normalizeTrials(envelope.Trials), nil
	}

	var bare []trialWire
	if err := json.Unmarshal(payload, &bare); err != nil {
		return nil, fmt.Errorf("decode trials payload: %w", err)
	}
	log.Info().Int("count", len(bare)).Msg("trials fetched via gateway")
	return normalizeTrials(bare), nil
}

func (c *TrialClient) viaREST(ctx context.Context) ([]contractx.Trial, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRESTTimeout)
	defer cancel()

	var wires []trialWire
	if err := getJSON(ctx, c.httpClient, c.restBase+"/trials", &wires); err != nil {
		return nil, err
	}
	log.Info().Int("count", len(wires)).Msg("trials fetched via rest fallback")
	return normalizeTrials(wires), nil
}
