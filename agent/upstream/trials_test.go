package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/careloop/careloop/agent/contract"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
)

func newGatewayClient(t *testing.T, gatewayID string) *gatewayx.Client {
	t.Helper()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	broker := gatewayx.NewBroker()
	broker.Register(gatewayID, gatewayx.Credentials{
		TokenEndpoint: tokenSrv.URL,
		ClientID:      "client-a",
		ClientSecret:  "secret-a",
	})

	client, err := gatewayx.NewClient(broker)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

// toolServer answers any tools/call with the given payload as the first text
// content block, echoing the request id.
func toolServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		text, err := json.Marshal(payload)
		if err != nil {
			t.Errorf("marshal payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":%s}]}}`, req.ID, text)
	}))
}

func TestListTrialsViaGatewayEnvelope(t *testing.T) {
	t.Parallel()

	srv := toolServer(t, `{"totalCount":2,"trials":[
		{"id":1,"nctId":"NCT00000001","title":"Trial A","condition":"Type 2 diabetes","status":"Recruiting","distance":12.5},
		{"id":2,"title":"Trial B","condition":"CKD","status":"Completed"}
	]}`)
	defer srv.Close()

	client := NewTrialClient(newGatewayClient(t, "trials"), "trials", srv.URL, "http://127.0.0.1:1")
	trials, err := client.ListTrials(context.Background())
	if err != nil {
		t.Fatalf("ListTrials() error = %v", err)
	}
	if len(trials) != 2 {
		t.Fatalf("got %d trials, want 2", len(trials))
	}

	first := trials[0]
	if first.NCTID != "NCT00000001" {
		t.Fatalf("camelCase nctId not normalized: %q", first.NCTID)
	}
	if first.SiteDistanceKM == nil || *first.SiteDistanceKM != 12.5 {
		t.Fatalf("distance alias not normalized: %v", first.SiteDistanceKM)
	}

	// A trial without any NCT id gets one synthesized from its numeric id.
	if trials[1].NCTID != "NCT00000002" {
		t.Fatalf("missing nct id not synthesized: %q", trials[1].NCTID)
	}
}

func TestListTrialsFallsBackToREST(t *testing.T) {
	t.Parallel()

	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusInternalServerError)
	}))
	defer gatewaySrv.Close()

	restCalls := 0
	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restCalls++
		if r.URL.Path != "/trials" {
			t.Errorf("path = %q, want /trials", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":7,"nct_id":"NCT00000007","title":"Trial G","condition":"CKD","status":"Recruiting","site_distance_km":3.2,"eligibility_summary":"eGFR >= 30"}]`)
	}))
	defer restSrv.Close()

	client := NewTrialClient(newGatewayClient(t, "trials"), "trials", gatewaySrv.URL, restSrv.URL)
	trials, err := client.ListTrials(context.Background())
	if err != nil {
		t.Fatalf("ListTrials() error = %v", err)
	}
	if restCalls != 1 {
		t.Fatalf("rest fallback called %d times, want 1", restCalls)
	}
	if len(trials) != 1 || trials[0].EligibilitySummary != "eGFR >= 30" {
		t.Fatalf("unexpected trials: %+v", trials)
	}
}

func TestListTrialsBothPathsDown(t *testing.T) {
	t.Parallel()

	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusInternalServerError)
	}))
	defer gatewaySrv.Close()

	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registry down", http.StatusInternalServerError)
	}))
	defer restSrv.Close()

	client := NewTrialClient(newGatewayClient(t, "trials"), "trials", gatewaySrv.URL, restSrv.URL)
	_, err := client.ListTrials(context.Background())

	var upstream *gatewayx.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upstream.Primary == nil || upstream.Secondary == nil {
		t.Fatalf("expected both causes, got %+v", upstream)
	}
}

func TestPatientSummaryNormalizesCasing(t *testing.T) {
	t.Parallel()

	srv := toolServer(t, `{
		"demographics":{"name":"John D","age":61,"gender":"M","mrn":"12873"},
		"problems":["Type 2 diabetes mellitus","CKD stage 3"],
		"medications":["metformin"],
		"lastA1c":8.2,
		"lastEgfr":45.2
	}`)
	defer srv.Close()

	client := NewPatientClient(newGatewayClient(t, "ehr"), "ehr", srv.URL, "http://127.0.0.1:1")
	patient, err := client.Summary(context.Background(), "12873")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if patient.LastA1C != 8.2 {
		t.Fatalf("lastA1c alias not normalized: %v", patient.LastA1C)
	}
	if patient.LastEGFR != 45.2 {
		t.Fatalf("lastEgfr alias not normalized: %v", patient.LastEGFR)
	}
	if patient.Demographics.Age != 61 {
		t.Fatalf("age = %d, want 61", patient.Demographics.Age)
	}
}

func TestPatientSummaryNotFound(t *testing.T) {
	t.Parallel()

	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusInternalServerError)
	}))
	defer gatewaySrv.Close()

	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer restSrv.Close()

	client := NewPatientClient(newGatewayClient(t, "ehr"), "ehr", gatewaySrv.URL, restSrv.URL)
	_, err := client.Summary(context.Background(), "99999")
	if !errors.Is(err, contractx.ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestPatientSummaryEmptyID(t *testing.T) {
	t.Parallel()

	client := NewPatientClient(newGatewayClient(t, "ehr"), "ehr", "http://127.0.0.1:1", "http://127.0.0.1:1")
	_, err := client.Summary(context.Background(), "  ")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
