// Package httpapi exposes the gateway's OpenAI-compatible HTTP surface: chat
// completions, model listing, health and request-stats endpoints, plus the
// gin middleware chain (recovery, request logging, API-key gate, CORS)
// wrapping them. It replaces the pack's single-backend HTTP layer with one
// that picks a vendor adapter per request instead of calling one use case.
package httpapi

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/infrastructure/store"
	"github.com/chatgw/gateway/internal/llm/forwarder"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

// ProviderCatalog is the subset of store.Store the HTTP layer needs to
// resolve a public model ID to its owning provider and to report stats.
type ProviderCatalog interface {
	Providers(ctx context.Context) ([]model.Provider, error)
	StatsSince(ctx context.Context, since time.Time) ([]store.Stats, error)
	Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error)
}

// Deps bundles everything the route handlers need. Server owns one Deps
// for its lifetime; handlers receive it by value since every field is
// itself a pointer, map or interface.
type Deps struct {
	Catalog   ProviderCatalog
	Forwarder *forwarder.Forwarder
	Adapters  map[model.ProviderID]vendor.Adapter
	Logger    *zap.Logger
	StartedAt time.Time

	// ActiveConnections counts in-flight /v1/chat/completions requests,
	// surfaced by GET /health's statistics.active_connections. Must be
	// non-nil; NewDeps initializes it.
	ActiveConnections *int64
}

// NewDeps builds a Deps with its atomic counters initialized.
func NewDeps(catalog ProviderCatalog, fwd *forwarder.Forwarder, adapters map[model.ProviderID]vendor.Adapter, logger *zap.Logger, startedAt time.Time) Deps {
	var active int64
	return Deps{
		Catalog:           catalog,
		Forwarder:         fwd,
		Adapters:          adapters,
		Logger:            logger,
		StartedAt:         startedAt,
		ActiveConnections: &active,
	}
}

// BeginRequest increments the active-connection counter and returns a
// func to decrement it, to be deferred by the caller.
func (d Deps) BeginRequest() func() {
	if d.ActiveConnections == nil {
		return func() {}
	}
	atomic.AddInt64(d.ActiveConnections, 1)
	return func() { atomic.AddInt64(d.ActiveConnections, -1) }
}

// ResolveModel finds which enabled provider publishes publicModelID and
// returns the provider ID, its catalog entry and the adapter registered
// for it. The last bool is false if no enabled provider publishes the
// model at all, or if one does but has no adapter wired in.
func (d Deps) ResolveModel(ctx context.Context, publicModelID string) (model.ProviderID, model.ModelInfo, vendor.Adapter, bool) {
	providers, err := d.Catalog.Providers(ctx)
	if err != nil {
		return "", model.ModelInfo{}, nil, false
	}
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		info, ok := p.ModelByPublicID(publicModelID)
		if !ok {
			continue
		}
		adapter, ok := d.Adapters[p.ID]
		if !ok {
			return p.ID, info, nil, false
		}
		return p.ID, info, adapter, true
	}
	return "", model.ModelInfo{}, nil, false
}
