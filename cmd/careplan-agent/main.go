// The care-plan agent turns a clinician question into a plan card. Trial-only
// questions go straight to the registry; everything else pulls patient
// context from the EHR, asks the evidence agent for graded trials, and
// synthesizes a recommendation. It serves POST /agents/care-plan/recommendation.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	careplanx "github.com/careloop/careloop/agent/careplan"
	contractx "github.com/careloop/careloop/agent/contract"
	synthx "github.com/careloop/careloop/agent/synth"
	upstreamx "github.com/careloop/careloop/agent/upstream"
	configx "github.com/careloop/careloop/pkg/config"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
	llmgwx "github.com/careloop/careloop/pkg/llmgw"
	logx "github.com/careloop/careloop/pkg/logger"
	serverx "github.com/careloop/careloop/server"
)

const (
	ehrGatewayID   = "ehr"
	trialGatewayID = "trials"
)

type AppConfig struct {
	Port string `envconfig:"PORT" default:"8004"`

	EHRMCPURL           string `envconfig:"EHR_MCP_URL"`
	EHRServiceURL       string `envconfig:"EHR_SERVICE_URL" default:"http://127.0.0.1:8001"`
	TrialRegistryMCPURL string `envconfig:"TRIAL_REGISTRY_MCP_URL"`
	TrialRegistryURL    string `envconfig:"TRIAL_REGISTRY_URL" default:"http://127.0.0.1:8002"`
	EvidenceAgentURL    string `envconfig:"EVIDENCE_AGENT_URL" default:"http://127.0.0.1:8003"`

	MCPGatewayTokenEndpoint string `envconfig:"MCP_GATEWAY_TOKEN_ENDPOINT"`
	MCPGatewayClientID      string `envconfig:"MCP_GATEWAY_CLIENT_ID"`
	MCPGatewayClientSecret  string `envconfig:"MCP_GATEWAY_CLIENT_SECRET"`
	MCPGatewayScope         string `envconfig:"MCP_GATEWAY_SCOPE"`

	DefaultGeoLat    float64 `envconfig:"DEFAULT_GEO_LAT" default:"35.15"`
	DefaultGeoLon    float64 `envconfig:"DEFAULT_GEO_LON" default:"-90.05"`
	DefaultGeoRadius float64 `envconfig:"DEFAULT_GEO_RADIUS" default:"25"`
}

func main() {
	logCfg := configx.MustNew[logx.Config]("LOG")
	if logCfg.Service == "" {
		logCfg.Service = "careplan-agent"
	}
	logx.Init(*logCfg)

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmgwx.Config]("API_MANAGER")

	broker := gatewayx.NewBroker()
	mcpCreds := gatewayx.Credentials{
		TokenEndpoint: appCfg.MCPGatewayTokenEndpoint,
		ClientID:      appCfg.MCPGatewayClientID,
		ClientSecret:  appCfg.MCPGatewayClientSecret,
		Scope:         appCfg.MCPGatewayScope,
	}
	broker.Register(ehrGatewayID, mcpCreds)
	broker.Register(trialGatewayID, mcpCreds)

	gw, err := gatewayx.NewClient(broker)
	if err != nil {
		log.Fatal().Err(err).Msg("build gateway client")
	}

	patients := upstreamx.NewPatientClient(gw, ehrGatewayID, appCfg.EHRMCPURL, appCfg.EHRServiceURL)
	trials := upstreamx.NewTrialClient(gw, trialGatewayID, appCfg.TrialRegistryMCPURL, appCfg.TrialRegistryURL)

	evidence, err := upstreamx.NewEvidenceClient(appCfg.EvidenceAgentURL, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("build evidence client")
	}

	opts := []careplanx.Option{}
	if llmCfg.Configured() {
		broker.Register(llmgwx.GatewayID, llmCfg.Credentials())
		llm, err := llmgwx.NewClient(*llmCfg, broker)
		if err != nil {
			log.Fatal().Err(err).Msg("build chat gateway client")
		}
		gen, err := synthx.NewGenerative(llm)
		if err != nil {
			log.Fatal().Err(err).Msg("build generative synthesizer")
		}
		opts = append(opts, careplanx.WithGenerative(gen, llm.Model()))
		log.Info().Str("model", llm.Model()).Msg("generative synthesis enabled")
	} else {
		log.Info().Msg("chat gateway not configured; heuristic synthesis only")
	}

	svc, err := careplanx.New(patients, trials, evidence, careplanx.Config{
		DefaultGeo: contractx.Geo{
			Lat:      appCfg.DefaultGeoLat,
			Lon:      appCfg.DefaultGeoLon,
			RadiusKM: appCfg.DefaultGeoRadius,
		},
	}, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("build care-plan service")
	}

	e := serverx.New("careplan-agent")
	serverx.RegisterCarePlan(e, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + appCfg.Port
		log.Info().Str("addr", addr).Msg("care-plan agent listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
