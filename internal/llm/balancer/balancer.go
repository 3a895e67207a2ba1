// Package balancer selects which account to use for an outbound request.
// Selection state (the pinned failover primary, per-account cooldown
// escalation) lives here; durable usage bookkeeping (quota counters,
// persisted status, LastUsedAt) lives in the store. The cooldown
// escalation below is adapted from the pack's per-provider circuit
// breaker, applied per-account instead of per-provider since each
// account authenticates independently.
package balancer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chatgw/gateway/internal/domain/model"
)

// Strategy names the account-selection policy.
type Strategy string

const (
	// StrategyRoundRobin cycles through usable accounts of a provider in
	// turn, spreading load evenly.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyFillFirst always prefers the account with the least usage
	// today, only spilling to the next once the current one is exhausted —
	// exhaust one account before touching another.
	StrategyFillFirst Strategy = "fill_first"

	// StrategyFailover always uses one primary account and only switches
	// away once it becomes non-eligible (exhausted, cooling, disabled),
	// switching back once the primary recovers.
	StrategyFailover Strategy = "failover"
)

// Balancer selects an account for each request and tracks per-account
// cooldown state driven by consecutive failures.
type Balancer struct {
	strategy      Strategy
	cooldownBase  time.Duration
	cooldownMax   time.Duration
	failThreshold int

	mu       sync.Mutex
	failover map[model.ProviderID]string // current primary account ID per provider, failover strategy
}

// New builds a Balancer. An unrecognized strategy falls back to round-robin.
func New(strategy Strategy, cooldownBase, cooldownMax time.Duration, failThreshold int) *Balancer {
	switch strategy {
	case StrategyRoundRobin, StrategyFillFirst, StrategyFailover:
	default:
		strategy = StrategyRoundRobin
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if cooldownBase <= 0 {
		cooldownBase = 10 * time.Second
	}
	if cooldownMax <= 0 {
		cooldownMax = 10 * time.Minute
	}
	return &Balancer{
		strategy:      strategy,
		cooldownBase:  cooldownBase,
		cooldownMax:   cooldownMax,
		failThreshold: failThreshold,
		failover:      make(map[model.ProviderID]string),
	}
}

// Select picks one usable account for provider out of candidates,
// according to the configured strategy. Returns an error if none of the
// candidates are currently usable.
func (b *Balancer) Select(provider model.ProviderID, candidates []model.Account) (model.Account, error) {
	now := time.Now()
	usable := make([]model.Account, 0, len(candidates))
	for _, a := range candidates {
		if a.Usable(now) {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		return model.Account{}, fmt.Errorf("no usable account for provider %q (%d candidates, all exhausted/cooling/disabled)", provider, len(candidates))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.strategy {
	case StrategyFillFirst:
		return fillFirstPick(usable), nil
	case StrategyFailover:
		return b.selectFailover(provider, usable), nil
	default:
		return roundRobinPick(usable), nil
	}
}

// fillFirstPick returns the usable account with the smallest UsedToday,
// tie-broken by smallest ID — spec.md §4.2's "exhaust one account before
// touching another".
func fillFirstPick(accounts []model.Account) model.Account {
	best := accounts[0]
	for _, a := range accounts[1:] {
		if a.UsedToday < best.UsedToday || (a.UsedToday == best.UsedToday && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

// roundRobinPick returns the least-recently-used usable account, tie-broken
// by smallest ID. This is stateless: an account just dispatched gets its
// LastUsedAt bumped by the forwarder's post-dispatch bookkeeping, which
// naturally pushes it to the back of the next selection — equivalent to
// spec.md §4.2's "pick the account whose lastUsed is immediately after the
// account with the newest lastUsed, wrap-around" without needing a
// separately tracked cursor.
func roundRobinPick(accounts []model.Account) model.Account {
	best := accounts[0]
	for _, a := range accounts[1:] {
		if a.LastUsedAt.Before(best.LastUsedAt) || (a.LastUsedAt.Equal(best.LastUsedAt) && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

// creationOrder returns accounts stably sorted by CreatedAt ascending, tie
// broken by ID — spec.md §4.2's failover "stable order by creation time".
func creationOrder(accounts []model.Account) []model.Account {
	sorted := make([]model.Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

func (b *Balancer) selectFailover(provider model.ProviderID, usable []model.Account) model.Account {
	primaryID, ok := b.failover[provider]
	if ok {
		for _, a := range usable {
			if a.ID == primaryID {
				return a
			}
		}
	}
	// Primary missing or unusable: promote the first usable account in
	// stable creation order to primary.
	next := creationOrder(usable)[0]
	b.failover[provider] = next.ID
	return next
}

// CooldownDuration computes the next cooldown window for an account given
// its consecutive-failure count, using exponential backoff capped at
// cooldownMax — the same closed/open/half-open shape as a circuit breaker,
// expressed as a duration instead of explicit states since each account
// is selected independently rather than gating a shared call path.
func (b *Balancer) CooldownDuration(failCount int) time.Duration {
	if failCount < 1 {
		failCount = 1
	}
	d := b.cooldownBase
	for i := 1; i < failCount && d < b.cooldownMax; i++ {
		d *= 2
	}
	if d > b.cooldownMax {
		d = b.cooldownMax
	}
	return d
}

// ShouldCooldown reports whether failCount has crossed the configured
// failure threshold and the account should be pulled out of rotation.
func (b *Balancer) ShouldCooldown(failCount int) bool {
	return failCount >= b.failThreshold
}

// ReleaseFailover clears the pinned primary for a provider, e.g. when an
// operator disables the account currently pinned.
func (b *Balancer) ReleaseFailover(provider model.ProviderID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failover, provider)
}
