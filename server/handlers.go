package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	contractx "github.com/careloop/careloop/agent/contract"
)

// CarePlanner is the slice of the care-plan orchestrator the handler needs.
type CarePlanner interface {
	Recommend(ctx context.Context, req contractx.CarePlanRequest) (contractx.PlanCard, error)
}

// RegisterEvidence mounts the evidence agent's search endpoint.
func RegisterEvidence(e *echo.Echo, svc contractx.EvidenceService) {
	e.POST("/agents/evidence/search", func(c echo.Context) error {
		var query contractx.EvidenceQuery
		if err := c.Bind(&query); err != nil {
			return writeError(c, fmt.Errorf("%w: malformed request body", contractx.ErrValidation))
		}

		pack, err := svc.Search(c.Request().Context(), query)
		if err != nil {
			log.Warn().Err(err).Str("correlation_id", correlationID(c)).Msg("evidence search failed")
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"evidence_pack": pack})
	})
}

// RegisterCarePlan mounts the care-plan agent's recommendation endpoint.
func RegisterCarePlan(e *echo.Echo, svc CarePlanner) {
	e.POST("/agents/care-plan/recommendation", func(c echo.Context) error {
		var req contractx.CarePlanRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, fmt.Errorf("%w: malformed request body", contractx.ErrValidation))
		}

		card, err := svc.Recommend(c.Request().Context(), req)
		if err != nil {
			log.Warn().Err(err).Str("correlation_id", correlationID(c)).Msg("care plan recommendation failed")
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"patient_id": req.PatientID,
			"plan_card":  card,
		})
	})
}
