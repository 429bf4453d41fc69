package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/medigem-relay/internal/handlers"
	"github.com/MegaGrindStone/medigem-relay/internal/logging"
	"github.com/MegaGrindStone/medigem-relay/internal/services"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are MEDI-GEM, a helpful AI medical assistant. Your primary goal is to provide safe, cautious, and informative general medical advice. You are not a real doctor and cannot diagnose, treat, or prescribe.
ALWAYS begin your first response with a clear disclaimer: "Please remember, I am an AI assistant and not a substitute for professional medical advice. For any real medical concerns, please consult a qualified healthcare provider."
For subsequent responses, you do not need to repeat the full disclaimer.
Your tone should be empathetic, clear, and easy to understand. Avoid overly technical jargon. If a user asks for a diagnosis or prescription, you MUST decline and strongly recommend they see a real doctor.
If a user's query seems to indicate a medical emergency (e.g., "chest pain," "difficulty breathing," "severe bleeding"), you MUST immediately advise them to contact emergency services (e.g., 911 in the US) or go to the nearest emergency room.
Keep your answers concise but informative.`

type config struct {
	Port          string         `yaml:"port" env:"PORT" env-default:"3001"`
	SystemPrompt  string         `yaml:"systemPrompt" env:"SYSTEM_PROMPT"`
	AllowedOrigin string         `yaml:"allowedOrigin" env:"ALLOWED_ORIGIN" env-default:"http://localhost:5173"`
	IdleTimeout   time.Duration  `yaml:"idleTimeout" env:"IDLE_TIMEOUT" env-default:"60s"`
	LLM           llmConfig      `yaml:"llm"`
	Log           logging.Config `yaml:"log"`
}

type llmConfig struct {
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Model    string `yaml:"model" env:"LLM_MODEL"`
	// BaseURL is the API endpoint of the openai, openrouter and anthropic providers.
	BaseURL string `yaml:"baseURL" env:"LLM_BASE_URL"`
	APIKey  string `yaml:"apiKey" env:"LLM_API_KEY"`
	// Host is the ollama server address.
	Host       string                 `yaml:"host" env:"OLLAMA_HOST" env-default:"http://localhost:11434"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

// loadConfig reads the YAML file at path, if there is one, and then applies environment overrides and
// defaults.
func loadConfig(path string) (config, error) {
	var cfg config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return config{}, fmt.Errorf("error reading environment: %w", err)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return cfg, nil
}

func (l llmConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	params := l.Parameters.WithDefaults()

	switch l.Provider {
	case "openai":
		model := l.Model
		if model == "" {
			model = services.DefaultOpenAIModel
		}
		apiKey := l.apiKey("NVIDIA_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("api key is required")
		}
		return services.NewOpenAI(apiKey, l.BaseURL, model, params, logger), nil
	case "openrouter":
		if l.Model == "" {
			return nil, fmt.Errorf("model is required")
		}
		return services.NewOpenRouter(l.apiKey("OPENROUTER_API_KEY"), l.BaseURL, l.Model, params, logger), nil
	case "anthropic":
		if l.Model == "" {
			return nil, fmt.Errorf("model is required")
		}
		return services.NewAnthropic(l.apiKey("ANTHROPIC_API_KEY"), l.BaseURL, l.Model, params, logger), nil
	case "ollama":
		if l.Model == "" {
			return nil, fmt.Errorf("model is required")
		}
		o, err := services.NewOllama(l.Host, l.Model, params, logger)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", l.Provider)
	}
}

func (l llmConfig) apiKey(providerEnv string) string {
	if l.APIKey != "" {
		return l.APIKey
	}
	return os.Getenv(providerEnv)
}
