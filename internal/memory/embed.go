package memory

import (
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/sentinel-agent/sentinel/internal/config"
)

// defaultEmbeddingModel is used when an LLM profile doesn't name one.
const defaultEmbeddingModel = "text-embedding-3-small"

// ResolveEmbedFunc picks a concrete EmbedFunc from cfg.LLM profiles: an
// OpenAI-compatible key on any profile first (direct OpenAI, then
// OpenRouter's OpenAI-compatible surface), falling back to a local
// Ollama profile's OpenAI-compatible embeddings endpoint. Returns nil if
// no profile can produce embeddings, in which case the caller should
// run without VectorMemory rather than fail startup.
func ResolveEmbedFunc(cfg *config.Config) EmbedFunc {
	if profile, ok := cfg.LLM["openai"]; ok && profile.APIKey != "" {
		fn := chromem.NewEmbeddingFuncOpenAI(profile.APIKey, chromem.EmbeddingModelOpenAI(defaultEmbeddingModel))
		return EmbedFunc(fn)
	}

	for name, profile := range cfg.LLM {
		if profile.Provider != "openrouter" || profile.APIKey == "" {
			continue
		}
		model := defaultEmbeddingModel
		if !strings.Contains(model, "/") {
			model = "openai/" + model
		}
		fn := chromem.NewEmbeddingFuncOpenAICompat("https://openrouter.ai/api/v1", profile.APIKey, model, nil)
		_ = name
		return EmbedFunc(fn)
	}

	for _, profile := range cfg.LLM {
		if profile.Provider != "ollama" {
			continue
		}
		model := "nomic-embed-text"
		fn := chromem.NewEmbeddingFuncOpenAICompat("http://localhost:11434/v1", "ollama", model, nil)
		return EmbedFunc(fn)
	}

	return nil
}
