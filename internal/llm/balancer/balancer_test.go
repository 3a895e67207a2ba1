package balancer

import (
	"testing"
	"time"

	"github.com/chatgw/gateway/internal/domain/model"
)

func acct(id string, usedToday int) model.Account {
	return model.Account{ID: id, ProviderID: model.ProviderDeepSeek, UsedToday: usedToday, Status: model.AccountStatusActive}
}

func TestBalancer_RoundRobinCyclesAccounts(t *testing.T) {
	b := New(StrategyRoundRobin, time.Second, time.Minute, 3)
	accounts := []model.Account{acct("a", 0), acct("b", 0), acct("c", 0)}
	now := time.Now()
	accounts[0].LastUsedAt = now.Add(-3 * time.Minute)
	accounts[1].LastUsedAt = now.Add(-2 * time.Minute)
	accounts[2].LastUsedAt = now.Add(-1 * time.Minute)

	var order []string
	for i := 0; i < 6; i++ {
		chosen, err := b.Select(model.ProviderDeepSeek, accounts)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		order = append(order, chosen.ID)
		// Simulate the forwarder's post-dispatch bookkeeping: bump the
		// chosen account's LastUsedAt so the next Select rotates onward.
		for i := range accounts {
			if accounts[i].ID == chosen.ID {
				accounts[i].LastUsedAt = time.Now().Add(time.Duration(i) * time.Nanosecond)
			}
		}
	}
	seen := map[string]int{}
	for _, id := range order {
		seen[id]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 2 {
			t.Errorf("account %s selected %d times, want 2 (order: %v)", id, seen[id], order)
		}
	}
	if order[0] != "a" {
		t.Errorf("expected least-recently-used account 'a' picked first, got %s", order[0])
	}
}

func TestBalancer_FillFirstPrefersLeastUsedToday(t *testing.T) {
	b := New(StrategyFillFirst, time.Second, time.Minute, 3)
	accounts := []model.Account{acct("heavy", 50), acct("light", 0), acct("medium", 10)}

	for i := 0; i < 3; i++ {
		chosen, err := b.Select(model.ProviderDeepSeek, accounts)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if chosen.ID != "light" {
			t.Fatalf("expected least-used account every time, got %s", chosen.ID)
		}
	}
}

func TestBalancer_FillFirstTieBreaksByID(t *testing.T) {
	b := New(StrategyFillFirst, time.Second, time.Minute, 3)
	accounts := []model.Account{acct("z-acct", 0), acct("a-acct", 0)}

	chosen, err := b.Select(model.ProviderDeepSeek, accounts)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "a-acct" {
		t.Fatalf("expected tie-break by smallest ID, got %s", chosen.ID)
	}
}

func TestBalancer_SelectSkipsUnusableAccounts(t *testing.T) {
	b := New(StrategyRoundRobin, time.Second, time.Minute, 3)
	cooling := acct("cooling", 0)
	cooling.Status = model.AccountStatusCooldown
	cooling.CooldownUntil = time.Now().Add(time.Hour)
	usable := acct("usable", 0)

	chosen, err := b.Select(model.ProviderDeepSeek, []model.Account{cooling, usable})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "usable" {
		t.Fatalf("expected usable account, got %s", chosen.ID)
	}
}

func TestBalancer_SelectErrorsWhenAllUnusable(t *testing.T) {
	b := New(StrategyRoundRobin, time.Second, time.Minute, 3)
	disabled := acct("disabled", 0)
	disabled.Status = model.AccountStatusDisabled

	if _, err := b.Select(model.ProviderDeepSeek, []model.Account{disabled}); err == nil {
		t.Fatal("expected error when no account is usable")
	}
}

func TestBalancer_CooldownDurationEscalatesAndCaps(t *testing.T) {
	b := New(StrategyRoundRobin, time.Second, 8*time.Second, 3)

	if got := b.CooldownDuration(1); got != time.Second {
		t.Errorf("first cooldown = %v, want 1s", got)
	}
	if got := b.CooldownDuration(2); got != 2*time.Second {
		t.Errorf("second cooldown = %v, want 2s", got)
	}
	if got := b.CooldownDuration(10); got != 8*time.Second {
		t.Errorf("escalated cooldown = %v, want capped at 8s", got)
	}
}

func TestBalancer_ShouldCooldownRespectsThreshold(t *testing.T) {
	b := New(StrategyRoundRobin, time.Second, time.Minute, 3)
	if b.ShouldCooldown(2) {
		t.Error("should not cool down below threshold")
	}
	if !b.ShouldCooldown(3) {
		t.Error("should cool down at threshold")
	}
}

func TestBalancer_FailoverStaysOnPrimaryUntilUnusable(t *testing.T) {
	b := New(StrategyFailover, time.Second, time.Minute, 3)
	now := time.Now()
	primary := acct("primary", 0)
	primary.CreatedAt = now
	backup := acct("backup", 0)
	backup.CreatedAt = now.Add(time.Minute)

	chosen, _ := b.Select(model.ProviderDeepSeek, []model.Account{primary, backup})
	if chosen.ID != "primary" {
		t.Fatalf("expected oldest-created account selected first, got %s", chosen.ID)
	}

	chosen, _ = b.Select(model.ProviderDeepSeek, []model.Account{backup})
	if chosen.ID != "backup" {
		t.Fatalf("expected failover to backup once primary is gone, got %s", chosen.ID)
	}

	// Primary becomes usable again: failover must stick with backup since
	// it only advances, never reverts, while backup remains usable.
	chosen, _ = b.Select(model.ProviderDeepSeek, []model.Account{primary, backup})
	if chosen.ID != "backup" {
		t.Fatalf("expected failover to stay pinned to backup, got %s", chosen.ID)
	}
}
