package domain

// ProviderConfig holds configuration for the model provider
type ProviderConfig struct {
	LLM LLMProviderConfig `json:"llm"`
}

// LLMProviderConfig configures the chat model provider
type LLMProviderConfig struct {
	Mode         string `json:"mode"`          // "local" or "remote"
	LocalURL     string `json:"local_url"`     // "http://localhost:11434"
	RemoteURL    string `json:"remote_url"`    // "https://api.openai.com/v1"
	APIKey       string `json:"api_key"`       // Encrypted in storage
	DefaultModel string `json:"default_model"` // "qwen3:8b" or "deepseek-r1"
}

// LoopConfig carries the orchestration tunables. These are fields of an
// explicit value handed to the loop constructor, never process-wide state.
type LoopConfig struct {
	// MaxToolIterations bounds the reasoning/acting cycle; on reaching it
	// while the model still requests tools, extraction is forced.
	MaxToolIterations int `json:"max_tool_iterations"`

	// MaxContextTokens is the approximate token budget for the history
	// handed to the model; oldest turns are trimmed first.
	MaxContextTokens int `json:"max_context_tokens"`

	// TopCandidates caps the candidate list per step.
	TopCandidates int `json:"top_candidates"`

	// MaxConcurrentSteps limits how many step loops run at once.
	MaxConcurrentSteps int `json:"max_concurrent_steps"`

	// Debug enables verbose per-iteration logging and event publication.
	Debug bool `json:"debug"`
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers"`
	Loop      LoopConfig     `json:"loop"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434",
				DefaultModel: "qwen3:8b",
			},
		},
		Loop: DefaultLoopConfig(),
	}
}

// DefaultLoopConfig returns the documented loop defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxToolIterations:  20,
		MaxContextTokens:   8000,
		TopCandidates:      3,
		MaxConcurrentSteps: 4,
	}
}
