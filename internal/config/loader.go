package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load resolves Config from the process environment, with SPECIALISTS_CONFIG
// (or a config.yaml/config.yml found in the working directory) providing an
// optional specialist roster and light overrides that environment variables
// always take precedence over.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.LLMClient.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAI.Model = os.Getenv("OPENAI_MODEL")
	cfg.OpenAI.BaseURL = firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL"))
	cfg.OpenAI.API = os.Getenv("OPENAI_API")
	cfg.OpenAI.SummaryModel = os.Getenv("OPENAI_SUMMARY_MODEL")
	cfg.OpenAI.SummaryBaseURL = os.Getenv("OPENAI_SUMMARY_URL")

	cfg.LLMClient.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.LLMClient.Anthropic.Model = os.Getenv("ANTHROPIC_MODEL")
	cfg.LLMClient.Anthropic.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	cfg.LLMClient.Anthropic.PromptCache.Enabled = boolFromEnv("ANTHROPIC_PROMPT_CACHE", false)

	cfg.LLMClient.Google.APIKey = os.Getenv("GOOGLE_LLM_API_KEY")
	cfg.LLMClient.Google.Model = os.Getenv("GOOGLE_LLM_MODEL")
	cfg.LLMClient.Google.BaseURL = os.Getenv("GOOGLE_LLM_BASE_URL")
	cfg.LLMClient.Google.Timeout = intFromEnv("GOOGLE_LLM_TIMEOUT_SECONDS", 0)

	cfg.Workdir = os.Getenv("WORKDIR")
	cfg.LogPath = os.Getenv("LOG_PATH")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	cfg.LogPayloads = boolFromEnv("LOG_PAYLOADS", false)
	cfg.OpenAI.LogPayloads = cfg.LogPayloads

	cfg.MaxCommandSeconds = intFromEnv("MAX_COMMAND_SECONDS", 0)
	cfg.OutputTruncateByte = intFromEnv("OUTPUT_TRUNCATE_BYTES", 0)
	cfg.MaxSteps = intFromEnv("MAX_STEPS", 0)
	cfg.MaxToolParallelism = intFromEnv("MAX_TOOL_PARALLELISM", 0)

	cfg.AgentRunTimeoutSeconds = intFromEnv("AGENT_RUN_TIMEOUT_SECONDS", 0)
	cfg.StreamRunTimeoutSeconds = intFromEnv("STREAM_RUN_TIMEOUT_SECONDS", 0)
	cfg.WorkflowTimeoutSeconds = intFromEnv("WORKFLOW_TIMEOUT_SECONDS", 0)
	cfg.WorkflowMaxIterations = intFromEnv("WORKFLOW_MAX_ITERATIONS", 0)
	cfg.ToolLoopMaxSteps = intFromEnv("TOOL_LOOP_MAX_STEPS", 0)
	cfg.EventBusCapacity = intFromEnv("EVENT_BUS_CAPACITY", 0)

	cfg.Obs.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	cfg.Obs.ServiceVersion = os.Getenv("SERVICE_VERSION")
	cfg.Obs.Environment = os.Getenv("ENVIRONMENT")
	cfg.Obs.OTLP = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.Memory.Enabled = boolFromEnv("MEMORY_ENABLED", true)
	cfg.Memory.RollingWindowSize = intFromEnv("MEMORY_ROLLING_WINDOW_SIZE", 0)
	cfg.Memory.SummarizeAfterSeq = intFromEnv("MEMORY_SUMMARIZE_AFTER_SEQ", 0)
	cfg.Memory.Model = os.Getenv("MEMORY_MODEL")

	cfg.EnableTools = boolFromEnv("ENABLE_TOOLS", true)
	if v := strings.TrimSpace(os.Getenv("ALLOW_TOOLS")); v != "" {
		cfg.ToolAllowList = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("BLOCK_BINARIES")); v != "" {
		for _, b := range splitCSV(v) {
			if strings.ContainsAny(b, `/\`) {
				return nil, fmt.Errorf("BLOCK_BINARIES entry %q must be a bare executable name", b)
			}
			cfg.BlockBinaries = append(cfg.BlockBinaries, b)
		}
	}

	cfg.Databases.DefaultDSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("DB_URL"), os.Getenv("POSTGRES_DSN"))
	cfg.Databases.Chat.Backend = os.Getenv("CHAT_BACKEND")
	cfg.Databases.Chat.DSN = os.Getenv("CHAT_DSN")
	cfg.Databases.Memory.Backend = os.Getenv("MEMORY_BACKEND")
	cfg.Databases.Memory.DSN = os.Getenv("MEMORY_DSN")
	cfg.Databases.Specialists.Backend = os.Getenv("SPECIALISTS_BACKEND")
	cfg.Databases.Specialists.DSN = os.Getenv("SPECIALISTS_DSN")
	cfg.Databases.CacheAddr = firstNonEmpty(os.Getenv("CACHE_ADDR"), os.Getenv("REDIS_ADDR"))
	cfg.Databases.CacheTTLMins = intFromEnv("CACHE_TTL_MINUTES", 0)
	cfg.Databases.CacheDisabled = boolFromEnv("CACHE_DISABLED", false)

	if err := loadSpecialists(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" && cfg.LLMClient.Provider != "anthropic" && cfg.LLMClient.Provider != "google" {
		return nil, errors.New("OPENAI_API_KEY is required (unless LLM_PROVIDER is anthropic or google)")
	}
	if strings.TrimSpace(cfg.Workdir) == "" {
		return nil, errors.New("WORKDIR is required")
	}
	abs, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve WORKDIR: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("WORKDIR %q must exist and be a directory", abs)
	}
	cfg.Workdir = abs

	for i := range cfg.Specialists {
		if strings.TrimSpace(cfg.Specialists[i].Provider) == "" {
			cfg.Specialists[i].Provider = cfg.LLMClient.Provider
		}
	}
	cfg.LLMClient.OpenAI = cfg.OpenAI

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLMClient.Provider == "" {
		cfg.LLMClient.Provider = "openai"
	}
	switch cfg.LLMClient.Provider {
	case "openai", "local", "anthropic", "google":
	default:
		cfg.LLMClient.Provider = "openai"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.API == "" {
		cfg.OpenAI.API = "completions"
	}
	if cfg.OpenAI.SummaryModel == "" {
		cfg.OpenAI.SummaryModel = cfg.OpenAI.Model
	}
	if cfg.OpenAI.SummaryBaseURL == "" {
		cfg.OpenAI.SummaryBaseURL = cfg.OpenAI.BaseURL
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "weavechat"
	}
	if cfg.Obs.ServiceVersion == "" {
		cfg.Obs.ServiceVersion = "dev"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "development"
	}
	if cfg.MaxCommandSeconds <= 0 {
		cfg.MaxCommandSeconds = 30
	}
	if cfg.OutputTruncateByte <= 0 {
		cfg.OutputTruncateByte = 64 * 1024
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	if cfg.ToolLoopMaxSteps <= 0 {
		cfg.ToolLoopMaxSteps = 8
	}
	if cfg.WorkflowMaxIterations <= 0 {
		cfg.WorkflowMaxIterations = 10
	}
	if cfg.EventBusCapacity <= 0 {
		cfg.EventBusCapacity = 1024
	}
	if cfg.AgentRunTimeoutSeconds <= 0 {
		cfg.AgentRunTimeoutSeconds = 120
	}
	if cfg.StreamRunTimeoutSeconds <= 0 {
		cfg.StreamRunTimeoutSeconds = 300
	}
	if cfg.WorkflowTimeoutSeconds <= 0 {
		cfg.WorkflowTimeoutSeconds = 180
	}
	if cfg.Memory.RollingWindowSize <= 0 {
		cfg.Memory.RollingWindowSize = 14
	}
	if cfg.Memory.SummarizeAfterSeq <= 0 {
		cfg.Memory.SummarizeAfterSeq = 5
	}
	if cfg.Memory.Model == "" {
		cfg.Memory.Model = cfg.OpenAI.SummaryModel
	}
	autoBackend := func(backend, dsn string) string {
		if backend != "" {
			return backend
		}
		if dsn != "" || cfg.Databases.DefaultDSN != "" {
			return "postgres"
		}
		return "memory"
	}
	cfg.Databases.Chat.Backend = autoBackend(cfg.Databases.Chat.Backend, cfg.Databases.Chat.DSN)
	cfg.Databases.Memory.Backend = autoBackend(cfg.Databases.Memory.Backend, cfg.Databases.Memory.DSN)
	cfg.Databases.Specialists.Backend = autoBackend(cfg.Databases.Specialists.Backend, cfg.Databases.Specialists.DSN)
	if cfg.Databases.CacheTTLMins <= 0 {
		cfg.Databases.CacheTTLMins = 30
	}
}

// loadSpecialists reads an optional specialist roster from SPECIALISTS_CONFIG
// (falling back to config.yaml/config.yml in the working directory). The
// file may be a bare list of specialists or a wrapper object with a
// "specialists" key alongside a handful of other top-level overrides; any
// environment variable already read into cfg wins over the file.
func loadSpecialists(cfg *Config) error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SPECIALISTS_DISABLED")), "true") {
		return nil
	}

	var paths []string
	if p := strings.TrimSpace(os.Getenv("SPECIALISTS_CONFIG")); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "config.yaml", "config.yml")

	var data []byte
	var chosen string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, chosen = b, p
			break
		}
		if os.IsNotExist(err) {
			continue
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) == 0 {
		return nil
	}
	data = []byte(os.ExpandEnv(string(data)))

	type wrap struct {
		SystemPrompt string             `yaml:"systemPrompt"`
		Specialists  []SpecialistConfig `yaml:"specialists"`
		Routes       []SpecialistRoute  `yaml:"routes"`
	}
	var w wrap
	if err := yaml.Unmarshal(data, &w); err != nil {
		var list []SpecialistConfig
		if err2 := yaml.Unmarshal(data, &list); err2 == nil {
			cfg.Specialists = list
			return nil
		}
		return fmt.Errorf("%s: could not parse specialists configuration: %w", chosen, err)
	}
	if len(w.Specialists) > 0 {
		cfg.Specialists = w.Specialists
	}
	if len(w.Routes) > 0 {
		cfg.SpecialistRoutes = w.Routes
	}
	if cfg.SystemPrompt == "" && strings.TrimSpace(w.SystemPrompt) != "" {
		cfg.SystemPrompt = w.SystemPrompt
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := parseInt(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
