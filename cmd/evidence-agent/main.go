// The evidence agent ranks registry trials against a patient query and
// grades them, generatively when a chat gateway is configured and
// heuristically otherwise. It serves POST /agents/evidence/search.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	evidencex "github.com/careloop/careloop/agent/evidence"
	synthx "github.com/careloop/careloop/agent/synth"
	upstreamx "github.com/careloop/careloop/agent/upstream"
	configx "github.com/careloop/careloop/pkg/config"
	gatewayx "github.com/careloop/careloop/pkg/gateway"
	llmgwx "github.com/careloop/careloop/pkg/llmgw"
	logx "github.com/careloop/careloop/pkg/logger"
	serverx "github.com/careloop/careloop/server"
)

const trialGatewayID = "trials"

type AppConfig struct {
	Port string `envconfig:"PORT" default:"8003"`

	TrialRegistryMCPURL string `envconfig:"TRIAL_REGISTRY_MCP_URL"`
	TrialRegistryURL    string `envconfig:"TRIAL_REGISTRY_URL" default:"http://127.0.0.1:8002"`

	MCPGatewayTokenEndpoint string `envconfig:"MCP_GATEWAY_TOKEN_ENDPOINT"`
	MCPGatewayClientID      string `envconfig:"MCP_GATEWAY_CLIENT_ID"`
	MCPGatewayClientSecret  string `envconfig:"MCP_GATEWAY_CLIENT_SECRET"`
	MCPGatewayScope         string `envconfig:"MCP_GATEWAY_SCOPE"`
}

func main() {
	logCfg := configx.MustNew[logx.Config]("LOG")
	if logCfg.Service == "" {
		logCfg.Service = "evidence-agent"
	}
	logx.Init(*logCfg)

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmgwx.Config]("API_MANAGER")

	broker := gatewayx.NewBroker()
	broker.Register(trialGatewayID, gatewayx.Credentials{
		TokenEndpoint: appCfg.MCPGatewayTokenEndpoint,
		ClientID:      appCfg.MCPGatewayClientID,
		ClientSecret:  appCfg.MCPGatewayClientSecret,
		Scope:         appCfg.MCPGatewayScope,
	})

	gw, err := gatewayx.NewClient(broker)
	if err != nil {
		log.Fatal().Err(err).Msg("build gateway client")
	}

	trials := upstreamx.NewTrialClient(gw, trialGatewayID, appCfg.TrialRegistryMCPURL, appCfg.TrialRegistryURL)

	opts := []evidencex.Option{}
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
		opts = append(opts, evidencex.WithGenerative(gen, llm.Model()))
		log.Info().Str("model", llm.Model()).Msg("generative grading enabled")
	} else {
		log.Info().Msg("chat gateway not configured; heuristic grading only")
	}

	svc, err := evidencex.New(trials, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("build evidence service")
	}

	e := serverx.New("evidence-agent")
	serverx.RegisterEvidence(e, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + appCfg.Port
		log.Info().Str("addr", addr).Msg("evidence agent listening")
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
