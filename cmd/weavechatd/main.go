package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"weavechat/internal/config"
	"weavechat/internal/llm"
	"weavechat/internal/llm/anthropic"
	"weavechat/internal/llm/google"
	openaillm "weavechat/internal/llm/openai"
	"weavechat/internal/memory"
	"weavechat/internal/observability"
	"weavechat/internal/orchestrator"
	"weavechat/internal/persistence/databases"
	"weavechat/internal/specialists"
	"weavechat/internal/tools"
	"weavechat/internal/workflow/dynamic"
	"weavechat/internal/workflow/triage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("weavechat.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	defaultProvider, defaultModel := buildDefaultProvider(cfg.LLMClient, httpClient)

	mgr, err := databases.NewManager(ctx, cfg.Databases)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init databases")
	}
	defer mgr.Close()

	toolsReg := tools.NewRegistry()
	registry := specialists.NewRegistry(cfg.LLMClient, cfg.Specialists, httpClient, toolsReg)

	memManager := memory.NewManager(mgr.Durable, mgr.Memory, defaultProvider, memory.Config{
		Enabled:           cfg.Memory.Enabled,
		RollingWindowSize: cfg.Memory.RollingWindowSize,
		SummarizeAfterSeq: cfg.Memory.SummarizeAfterSeq,
		Model:             firstNonEmpty(cfg.Memory.Model, defaultModel),
	})

	agentNames := registry.Names()

	orch := orchestrator.New(orchestrator.Config{
		Conversations: mgr.Conversations,
		Memory:        memManager,
		Triage: triage.Config{
			Classifier:      defaultProvider,
			ClassifierModel: defaultModel,
			Specialists:     registry,
			AgentNames:      agentNames,
		},
		Dynamic: dynamic.Config{
			Classifier:      defaultProvider,
			ClassifierModel: defaultModel,
			Summarizer:      defaultProvider,
			SummaryModel:    defaultModel,
			Specialists:     registry,
			AgentNames:      agentNames,
		},
		WorkflowMaxIterations: cfg.WorkflowMaxIterations,
		EventBusCapacity:      cfg.EventBusCapacity,
		WorkflowTimeout:       time.Duration(cfg.WorkflowTimeoutSeconds) * time.Second,
	})

	models := []string{defaultModel}
	api := orchestrator.NewServer(orch, orchestrator.ServerConfig{
		Models:         models,
		ShowFuncResult: true,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/api/", api)

	srv := &http.Server{
		Addr:    ":8088",
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("weavechatd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// buildDefaultProvider constructs the process-default LLM provider from
// cfg.Provider, mirroring the per-specialist provider switch in
// internal/specialists.buildProvider (unexported there, so the process
// default is built once here instead).
func buildDefaultProvider(cfg config.LLMClientConfig, httpClient *http.Client) (llm.Provider, string) {
	switch strings.ToLower(cfg.Provider) {
	case "google":
		prov, err := google.New(cfg.Google, httpClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init google provider")
		}
		return prov, cfg.Google.Model
	case "anthropic":
		return anthropic.New(cfg.Anthropic, httpClient), cfg.Anthropic.Model
	default:
		return openaillm.New(cfg.OpenAI, httpClient), cfg.OpenAI.Model
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
