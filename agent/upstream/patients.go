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

// PatientClient reads patient summaries, preferring the EHR tool gateway and
// falling back to the EHR REST service.
type PatientClient struct {
	gw         *gatewayx.Client
	gatewayID  string
	gatewayURL string
	restBase   string
	httpClient *http.Client
}

func NewPatientClient(gw *gatewayx.Client, gatewayID, gatewayURL, restBase string) *PatientClient {
	return &PatientClient{
		gw:         gw,
		gatewayID:  gatewayID,
		gatewayURL: strings.TrimSpace(gatewayURL),
		restBase:   strings.TrimRight(strings.TrimSpace(restBase), "/"),
		httpClient: &http.Client{Timeout: defaultRESTTimeout},
	}
}

var _ contractx.PatientSource = (*PatientClient)(nil)

// The gateway emits camelCase lab keys while the REST service emits
// snake_case; both casings decode into the same wire struct.
type patientSummaryWire struct {
	Demographics contractx.Demographics `json:"demographics"`
	Problems     []string               `json:"problems"`
	Medications  []string               `json:"medications"`
	Labs         []contractx.LabValue   `json:"labs"`
	LastA1C      *float64               `json:"last_a1c"`
	LastA1CAlt   *float64               `json:"lastA1c"`
	LastEGFR     *float64               `json:"last_egfr"`
	LastEGFRAlt  *float64               `json:"lastEgfr"`
}

func (w patientSummaryWire) normalize() contractx.PatientContext {
	ctx := contractx.PatientContext{
		Demographics: w.Demographics,
		Problems:     w.Problems,
		Medications:  w.Medications,
		Labs:         w.Labs,
	}
	if w.LastA1C != nil {
		ctx.LastA1C = *w.LastA1C
	} else if w.LastA1CAlt != nil {
		ctx.LastA1C = *w.LastA1CAlt
	}
	if w.LastEGFR != nil {
		ctx.LastEGFR = *w.LastEGFR
	} else if w.LastEGFRAlt != nil {
		ctx.LastEGFR = *w.LastEGFRAlt
	}
	return ctx
}

func (c *PatientClient) Summary(ctx context.Context, patientID string) (contractx.PatientContext, error) {
	if strings.TrimSpace(patientID) == "" {
		return contractx.PatientContext{}, fmt.Errorf("%w: patient id is empty", contractx.ErrValidation)
	}

	return gatewayx.Resolve(ctx,
		func(ctx context.Context) (contractx.PatientContext, error) {
			return c.viaGateway(ctx, patientID)
		},
		func(ctx context.Context) (contractx.PatientContext, error) {
			return c.viaREST(ctx, patientID)
		},
	)
}

func (c *PatientClient) viaGateway(ctx context.Context, patientID string) (contractx.PatientContext, error) {
	payload, err := c.gw.CallTool(ctx, c.gatewayID, c.gatewayURL, gatewayx.ToolPatientSummary, map[string]any{
		"id": patientID,
	})
	if err != nil {
		return contractx.PatientContext{}, err
	}

	var wire patientSummaryWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return contractx.PatientContext{}, fmt.Errorf("decode patient summary payload: %w", err)
	}
	log.Info().Str("patient_id", patientID).Msg("patient summary fetched via gateway")
	return wire.normalize(), nil
}

func (c *PatientClient) viaREST(ctx context.Context, patientID string) (contractx.PatientContext, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRESTTimeout)
	defer cancel()

	var wire patientSummaryWire
	url := fmt.Sprintf("%s/patients/%s/summary", c.restBase, patientID)
	if err := getJSON(ctx, c.httpClient, url, &wire); err != nil {
		return contractx.PatientContext{}, err
	}
	log.Info().Str("patient_id", patientID).Msg("patient summary fetched via rest fallback")
	return wire.normalize(), nil
}
