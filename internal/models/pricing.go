package models

// TierPricing holds the fixed pricing for one tier, in cents.
// Amounts always come from this table, never from client-supplied fields.
type TierPricing struct {
	SetupFeeCents     int64
	MonthlyPriceCents int64
}

// Pricing is the fixed per-tier pricing table (50% off sale prices).
var Pricing = map[string]TierPricing{
	TierStarter:  {SetupFeeCents: 25000, MonthlyPriceCents: 4900},
	TierPro:      {SetupFeeCents: 25000, MonthlyPriceCents: 9900},
	TierBusiness: {SetupFeeCents: 25000, MonthlyPriceCents: 14900},
}

// InstanceSizes maps a tier to a DigitalOcean App Platform instance size slug.
// Valid slugs: basic-xxs, basic-xs, basic-s, basic-m, basic-l.
var InstanceSizes = map[string]string{
	TierStarter:  "basic-xxs",
	TierPro:      "basic-xs",
	TierBusiness: "basic-s",
}

// OpenRouterModels maps a tier to the downstream model used when the
// platform falls back to the OpenRouter aggregator key. The starter tier
// maps to a free-tier model.
var OpenRouterModels = map[string]string{
	TierStarter:  "meta-llama/llama-3.1-8b-instruct:free",
	TierPro:      "anthropic/claude-3.5-sonnet",
	TierBusiness: "openai/gpt-4o",
}

// ValidTier reports whether tier is one of the known plan tiers.
func ValidTier(tier string) bool {
	_, ok := Pricing[tier]
	return ok
}
