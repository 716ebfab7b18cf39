package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/models"
)

// telegramTokenPattern matches tokens issued by BotFather: numeric bot id,
// a colon, then the secret part.
var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{20,}$`)

// ValidTelegramToken reports whether the token looks like a BotFather token.
func ValidTelegramToken(token string) bool {
	return telegramTokenPattern.MatchString(token)
}

// ModelKey is a resolved model credential: the env var the gateway expects
// and the key to inject. Model is set only for the OpenRouter aggregator,
// where the tier decides which downstream model to route to.
type ModelKey struct {
	EnvVar string
	Key    string
	Model  string
}

// ResolveModelKey picks the model credential for a deployment.
//
// A customer-supplied key wins and is classified by prefix: sk-ant- keys go
// to Anthropic directly, sk-or- keys to OpenRouter, anything else is treated
// as an OpenRouter-compatible key. Without a customer key the platform keys
// apply in priority order Anthropic, OpenAI, OpenRouter; only the aggregator
// fallback carries a tier-selected model.
func ResolveModelKey(customKey, tier string, keys config.ModelKeyConfig) (ModelKey, error) {
	if customKey != "" {
		switch {
		case strings.HasPrefix(customKey, "sk-ant-"):
			return ModelKey{EnvVar: "ANTHROPIC_API_KEY", Key: customKey}, nil
		case strings.HasPrefix(customKey, "sk-or-"):
			return ModelKey{EnvVar: "OPENROUTER_API_KEY", Key: customKey, Model: models.OpenRouterModels[tier]}, nil
		default:
			return ModelKey{EnvVar: "OPENROUTER_API_KEY", Key: customKey, Model: models.OpenRouterModels[tier]}, nil
		}
	}

	if keys.AnthropicKey != "" {
		return ModelKey{EnvVar: "ANTHROPIC_API_KEY", Key: keys.AnthropicKey}, nil
	}
	if keys.OpenAIKey != "" {
		return ModelKey{EnvVar: "OPENAI_API_KEY", Key: keys.OpenAIKey}, nil
	}
	if keys.OpenRouterKey != "" {
		return ModelKey{EnvVar: "OPENROUTER_API_KEY", Key: keys.OpenRouterKey, Model: models.OpenRouterModels[tier]}, nil
	}

	return ModelKey{}, fmt.Errorf("no model API key available")
}

// NewGatewayToken mints a random token for authenticating to the instance
// gateway. 32 bytes of entropy, hex encoded.
func NewGatewayToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate gateway token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// newReferralCode mints a short affiliate referral code.
func newReferralCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
