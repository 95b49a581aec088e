// Package reasoner builds provider-backed reasoning capabilities from
// configuration. The engine itself never depends on a provider; it sees only
// the agent.Reasoner interface.
package reasoner

import (
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/reasoner/anthropic"
	"github.com/seafield/agentrelay/reasoner/openai"
)

// Settings select and tune a reasoning provider.
type Settings struct {
	Provider    string // "openai" or "anthropic"
	Model       string
	Temperature float64
	MaxTokens   int64
}

// New builds a Reasoner for the configured provider.
func New(s Settings) (agent.Reasoner, error) {
	switch s.Provider {
	case "openai":
		return openai.New(func(o *openai.Options) {
			if s.Model != "" {
				o.Model = s.Model
			}
			if s.Temperature != 0 {
				o.Temperature = s.Temperature
			}
			if s.MaxTokens != 0 {
				o.MaxCompletionTokens = s.MaxTokens
			}
		}), nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if s.Model != "" {
				o.Model = sdk.Model(s.Model)
			}
			if s.Temperature != 0 {
				o.Temperature = s.Temperature
			}
			if s.MaxTokens != 0 {
				o.MaxTokens = s.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", s.Provider)
	}
}
