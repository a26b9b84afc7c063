package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/sentinel-agent/sentinel/internal/logging"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

func (c LLMProviderConfig) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.MaxTokens < 0 {
		return errors.New("max_tokens must be >= 0")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must be >= 0")
	}

	switch c.Provider {
	case "anthropic", "openrouter":
		if c.APIKey == "" {
			return errors.New("api_key is required")
		}
	case "ollama":
		// Local provider, no API key required.
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

func (c ChannelConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Token == "" {
		return errors.New("token is required when enabled=true")
	}
	return nil
}

func (c SecurityConfig) Validate() error {
	if c.CommandTimeout < 0 {
		return errors.New("command_timeout must be >= 0")
	}
	return validateSecurityMode(c.Mode)
}

func (c CostsConfig) Validate() error {
	if c.HourlyLimit < 0 {
		return errors.New("hourly_limit must be >= 0")
	}
	if c.DailyLimit < 0 {
		return errors.New("daily_limit must be >= 0")
	}
	if c.MonthlyLimit < 0 {
		return errors.New("monthly_limit must be >= 0")
	}
	if c.DailyLimit > 0 && c.MonthlyLimit > 0 && c.DailyLimit > c.MonthlyLimit {
		return errors.New("daily_limit cannot be greater than monthly_limit")
	}
	return nil
}

func (c ContextConfig) Validate() error {
	if c.MaxTokens < 0 {
		return errors.New("max_tokens must be >= 0")
	}
	if c.RecentMessages < 0 {
		return errors.New("recent_messages must be >= 0")
	}
	if c.MaxToolCalls < 0 {
		return errors.New("max_tool_calls must be >= 0")
	}
	if c.ToolOutputLength < 0 {
		return errors.New("tool_output_length must be >= 0")
	}
	return nil
}

var webSearchProviders = map[string]bool{
	"brave":  true,
	"tavily": true,
}

func (c WebConfig) Validate() error {
	if c.Search.Provider == "" {
		return nil
	}
	if !webSearchProviders[c.Search.Provider] {
		return fmt.Errorf("unsupported web.search.provider %q", c.Search.Provider)
	}
	return nil
}

// Validate runs every section's self-validation and combines hard failures.
func (c *Config) Validate() error {
	var errs []error

	if len(c.LLM) == 0 {
		errs = append(errs, errors.New("at least one llm.* profile is required"))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channels.* entry is required"))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security: %w", err))
	}
	if err := c.Costs.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("costs: %w", err))
	}
	if err := c.Context.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("context: %w", err))
	}
	if err := c.Web.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("web: %w", err))
	}

	for name, llmCfg := range c.LLM {
		if err := llmCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("llm.%s: %w", name, err))
		}
	}
	for name, chCfg := range c.Channels {
		if err := chCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channels.%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateStartup validates startup configuration and returns every hard
// failure joined into one error (if any); only when there is none does it
// go on to log non-fatal warnings.
func ValidateStartup(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if ch, ok := cfg.Channels[defaultTelegramChannel]; ok && ch.Enabled && len(ch.AllowedUsers) == 0 {
		logging.Logger().Warn("channels.telegram.allowed_users is empty")
	}

	if runtime.GOOS == "linux" {
		if _, err := os.Stat("/sys/kernel/security/landlock"); err != nil {
			logging.Logger().Warn("landlock is unavailable on this host")
		}
	}

	return nil
}
