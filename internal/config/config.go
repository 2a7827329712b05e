// Package config loads process configuration from environment variables,
// with an optional specialists.yaml/config.yaml overlay for the specialist
// roster. There is no legacy file-based Config; Load is the only entry point.
package config

// OpenAIConfig configures the OpenAI-compatible chat client. The same shape
// backs both the "openai" and "local" providers (local points BaseURL at a
// self-hosted OpenAI-compatible server and forces the completions API).
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// API selects the OpenAI surface: "completions" (default) or "responses".
	API string
	// SummaryModel/SummaryBaseURL default to Model/BaseURL when unset.
	// SummaryModel is the fallback for Memory.Model (the memory summarizer's
	// model); SummaryBaseURL is loaded but no client reads it.
	SummaryModel   string
	SummaryBaseURL string
	ExtraHeaders   map[string]string
	ExtraParams    map[string]any
	LogPayloads    bool
}

// AnthropicPromptCacheConfig controls Anthropic prompt-cache_control
// annotations on system blocks, tool definitions, and message history.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini client.
type GoogleConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
	// Timeout is the per-request timeout in seconds; 0 uses the client default.
	Timeout int
}

// LLMClientConfig selects and configures the process-default LLM provider.
// Provider is one of "openai", "local", "anthropic", "google".
type LLMClientConfig struct {
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// SpecialistConfig describes one addressable specialist agent, sourced from
// the optional specialists.yaml overlay or from the specialists store.
type SpecialistConfig struct {
	Name                       string
	Description                string
	Provider                   string
	BaseURL                    string
	APIKey                     string
	Model                      string
	API                        string
	SummaryContextWindowTokens int
	EnableTools                bool
	Paused                     bool
	AllowTools                 []string
	ReasoningEffort            string
	System                     string
	ExtraHeaders               map[string]string
	ExtraParams                map[string]any
}

// SpecialistRoute maps a triage classification label to a specialist name,
// used by the Triage workflow's dispatcher step.
type SpecialistRoute struct {
	Label      string
	Specialist string
}

// ObsConfig configures the OTel tracing/metrics exporters.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLP is the OTLP/HTTP collector endpoint (host:port, no scheme).
	OTLP string
}

// DBConfig configures the durable conversation/memory/specialists backends
// and the write-through cache. Backend is "memory" or "postgres"; "auto"
// picks postgres when a DSN is set and falls back to memory otherwise.
type DBConfig struct {
	// DefaultDSN is used by any backend below that does not set its own DSN.
	DefaultDSN string
	Chat       struct {
		Backend string
		DSN     string
	}
	Memory struct {
		Backend string
		DSN     string
	}
	Specialists struct {
		Backend string
		DSN     string
	}
	// CacheAddr is the Redis address backing the conversation write-through
	// cache. Empty disables caching (reads always hit the durable store).
	CacheAddr     string
	CacheTTLMins  int
	CacheDisabled bool
}

// MemoryServiceConfig configures the sliding-window conversation summarizer
// (internal/memory). See the package doc for the trigger/read contract.
type MemoryServiceConfig struct {
	Enabled bool
	// RollingWindowSize is the number of trailing messages (default 14, i.e.
	// 7 rounds) a fresh memory record may cover.
	RollingWindowSize int
	// SummarizeAfterSeq is the assistant sequence number at or after which
	// the trigger contract starts summarizing (default 5, end of round 3).
	SummarizeAfterSeq int
	// Model is the LLM used for summarization; empty uses the process
	// default provider's model.
	Model string
}

// Config is the fully resolved process configuration.
type Config struct {
	Workdir     string
	LogPath     string
	LogLevel    string
	LogPayloads bool

	// SystemPrompt overrides the main orchestrator agent's system prompt.
	SystemPrompt string

	LLMClient LLMClientConfig
	// OpenAI mirrors LLMClient.OpenAI for callers that only deal with the
	// OpenAI surface (e.g. specialists falling back to the process default).
	OpenAI OpenAIConfig

	EnableTools   bool
	ToolAllowList []string
	// BlockBinaries disallows these executable names from the shell-exec
	// tool regardless of ToolAllowList.
	BlockBinaries []string

	MaxSteps            int
	MaxToolParallelism  int
	OutputTruncateByte  int
	MaxCommandSeconds   int

	AgentRunTimeoutSeconds  int
	StreamRunTimeoutSeconds int
	WorkflowTimeoutSeconds  int
	// WorkflowMaxIterations bounds the workflow engine's superstep loop
	// (default 10); exceeding it raises IterationLimitExceeded.
	WorkflowMaxIterations int
	// ToolLoopMaxSteps bounds an agent's tool-call loop (default 8); exceeding
	// it raises ToolLoopExhausted.
	ToolLoopMaxSteps int
	// EventBusCapacity bounds the per-request event bus's FIFO (default 1024).
	EventBusCapacity int

	Specialists      []SpecialistConfig
	SpecialistRoutes []SpecialistRoute

	Memory MemoryServiceConfig

	Obs       ObsConfig
	Databases DBConfig
}
