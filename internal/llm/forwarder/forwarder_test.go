package forwarder

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/llm/balancer"
	"github.com/chatgw/gateway/internal/llm/chatapi"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

type fakeStore struct {
	accounts []model.Account
	usage    []bool
	logs     int
}

func (f *fakeStore) Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) RecordUsage(ctx context.Context, id string, success bool, authExpired bool, errMsg string) error {
	f.usage = append(f.usage, success)
	return nil
}

func (f *fakeStore) AppendLog(ctx context.Context, entry model.LogEntry) error {
	f.logs++
	return nil
}

// fakeAdapter implements vendor.Adapter with a configurable number of
// leading failures, to exercise the forwarder's retry loop.
type fakeAdapter struct {
	id        model.ProviderID
	failTimes int
	calls     int
}

func (a *fakeAdapter) ProviderID() model.ProviderID { return a.id }

func (a *fakeAdapter) Send(ctx context.Context, acc model.Account, req vendor.Request) (*chatapi.ChatCompletionResponse, error) {
	a.calls++
	if a.calls <= a.failTimes {
		return nil, vendor.NewError(vendor.KindTransport, "fake", "boom", 0, nil)
	}
	return &chatapi.ChatCompletionResponse{ID: "ok"}, nil
}

func (a *fakeAdapter) Stream(ctx context.Context, acc model.Account, req vendor.Request, emit func(vendor.StreamEvent) error) error {
	return nil
}

func (a *fakeAdapter) RefreshCredential(ctx context.Context, acc model.Account) (model.Credential, error) {
	return acc.Credential, nil
}

func (a *fakeAdapter) ValidateCredential(ctx context.Context, acc model.Account) error { return nil }

func (a *fakeAdapter) Delete(ctx context.Context, acc model.Account, sessionIDs []string) bool { return true }

func TestForwarder_RetriesOnTransientFailure(t *testing.T) {
	st := &fakeStore{accounts: []model.Account{{ID: "a1", ProviderID: model.ProviderDeepSeek, Status: model.AccountStatusActive}}}
	bal := balancer.New(balancer.StrategyRoundRobin, time.Millisecond, time.Second, 3)
	fwd := New(st, bal, 2, time.Millisecond, zap.NewNop())

	adapter := &fakeAdapter{id: model.ProviderDeepSeek, failTimes: 1}
	resp, err := fwd.Send(context.Background(), model.ProviderDeepSeek, adapter, vendor.Request{Model: "deepseek-chat"}, "req-1")
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if resp.ID != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", adapter.calls)
	}
	if len(st.usage) != 2 || st.usage[0] != false || st.usage[1] != true {
		t.Fatalf("unexpected usage record sequence: %+v", st.usage)
	}
}

func TestForwarder_ExhaustsRetriesAndFails(t *testing.T) {
	st := &fakeStore{accounts: []model.Account{{ID: "a1", ProviderID: model.ProviderDeepSeek, Status: model.AccountStatusActive}}}
	bal := balancer.New(balancer.StrategyRoundRobin, time.Millisecond, time.Second, 3)
	fwd := New(st, bal, 1, time.Millisecond, zap.NewNop())

	adapter := &fakeAdapter{id: model.ProviderDeepSeek, failTimes: 10}
	_, err := fwd.Send(context.Background(), model.ProviderDeepSeek, adapter, vendor.Request{Model: "deepseek-chat"}, "req-2")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if adapter.calls != 2 {
		t.Fatalf("expected 2 attempts (1 retry), got %d", adapter.calls)
	}
}

func TestForwarder_NoAccountsReturnsPolicyError(t *testing.T) {
	st := &fakeStore{}
	bal := balancer.New(balancer.StrategyRoundRobin, time.Millisecond, time.Second, 3)
	fwd := New(st, bal, 2, time.Millisecond, zap.NewNop())

	_, err := fwd.Send(context.Background(), model.ProviderDeepSeek, &fakeAdapter{id: model.ProviderDeepSeek}, vendor.Request{}, "req-3")
	if err == nil {
		t.Fatal("expected error with no accounts registered")
	}
}
