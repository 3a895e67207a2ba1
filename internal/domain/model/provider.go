// Package model holds the domain types shared across the gateway: the
// provider catalog, credentialed accounts, runtime configuration and the
// audit log entries written for every proxied request.
package model

import "time"

// ProviderID names one of the upstream vendor web-chat backends the gateway
// impersonates. It doubles as the discriminator used to look up the
// registered vendor adapter and as the account's foreign key.
type ProviderID string

const (
	ProviderDeepSeek ProviderID = "deepseek"
	ProviderGLM      ProviderID = "glm"
	ProviderKimi     ProviderID = "kimi"
	ProviderMiniMax  ProviderID = "minimax"
	ProviderQwen     ProviderID = "qwen"
	ProviderQwenAI   ProviderID = "qwenai"
	ProviderZai      ProviderID = "zai"
)

// AllProviders lists every built-in provider in catalog order.
var AllProviders = []ProviderID{
	ProviderDeepSeek, ProviderGLM, ProviderKimi, ProviderMiniMax,
	ProviderQwen, ProviderQwenAI, ProviderZai,
}

// Valid reports whether id names a provider the gateway knows how to adapt.
func (id ProviderID) Valid() bool {
	for _, p := range AllProviders {
		if p == id {
			return true
		}
	}
	return false
}

// ModelInfo describes one chat model a provider exposes, and the identifier
// the gateway publishes for it under /v1/models. Providers that expose a
// single internal model (e.g. Kimi's "kimi") still get an entry here so the
// catalog stays the single source of truth for model routing.
type ModelInfo struct {
	PublicID      string // e.g. "deepseek-chat"
	UpstreamModel string // vendor-internal model identifier, if any
	ProviderID    ProviderID
	OwnedBy       string
	SupportsTools bool
}

// Provider is the static description of a vendor backend: how to reach it,
// what models it serves and whether it supports our tool-call emulation.
// Providers are seeded from the built-in catalog at startup and persisted so
// operators can disable one without editing code.
type Provider struct {
	ID        ProviderID
	Name      string
	BaseURL   string
	// TokenCheckEndpoint records the vendor's token-check URL from the
	// built-in catalog. The prober does not read it: each adapter's
	// ValidateCredential builds its own check request from the adapter's
	// base URL.
	TokenCheckEndpoint string
	Models             []ModelInfo
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ModelByPublicID returns the ModelInfo published under id, if any.
func (p Provider) ModelByPublicID(id string) (ModelInfo, bool) {
	for _, m := range p.Models {
		if m.PublicID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
