package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/httpapi"
	"github.com/chatgw/gateway/internal/infrastructure/store"
	"github.com/chatgw/gateway/internal/llm/balancer"
	"github.com/chatgw/gateway/internal/llm/chatapi"
	"github.com/chatgw/gateway/internal/llm/forwarder"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCatalog struct {
	providers []model.Provider
}

func (f *fakeCatalog) Providers(ctx context.Context) ([]model.Provider, error) {
	return f.providers, nil
}

func (f *fakeCatalog) StatsSince(ctx context.Context, since time.Time) ([]store.Stats, error) {
	return []store.Stats{{ProviderID: "deepseek", Model: "deepseek-chat", RequestCount: 3}}, nil
}

func (f *fakeCatalog) Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error) {
	return []model.Account{{ID: "acct-1", ProviderID: "deepseek", Status: model.AccountStatusActive, UsedToday: 3}}, nil
}

type fakeAccountStore struct{}

func (fakeAccountStore) Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error) {
	return []model.Account{{ID: "acct-1", ProviderID: provider, Status: model.AccountStatusActive}}, nil
}
func (fakeAccountStore) RecordUsage(ctx context.Context, id string, success, authExpired bool, errMsg string) error {
	return nil
}
func (fakeAccountStore) AppendLog(ctx context.Context, entry model.LogEntry) error { return nil }

type fakeAdapter struct {
	id   model.ProviderID
	resp *chatapi.ChatCompletionResponse
}

func (a *fakeAdapter) ProviderID() model.ProviderID { return a.id }
func (a *fakeAdapter) Send(ctx context.Context, acc model.Account, req vendor.Request) (*chatapi.ChatCompletionResponse, error) {
	return a.resp, nil
}
func (a *fakeAdapter) Stream(ctx context.Context, acc model.Account, req vendor.Request, emit func(vendor.StreamEvent) error) error {
	emit(vendor.StreamEvent{ContentDelta: "hel"})
	emit(vendor.StreamEvent{ContentDelta: "lo", FinishReason: "stop"})
	return nil
}
func (a *fakeAdapter) RefreshCredential(ctx context.Context, acc model.Account) (model.Credential, error) {
	return acc.Credential, nil
}
func (a *fakeAdapter) ValidateCredential(ctx context.Context, acc model.Account) error { return nil }
func (a *fakeAdapter) Delete(ctx context.Context, acc model.Account, sessionIDs []string) bool {
	return true
}

// failingMidStreamAdapter emits some content, then fails before any
// finish_reason is produced, exercising the mid-flight error path.
type failingMidStreamAdapter struct {
	id model.ProviderID
}

func (a *failingMidStreamAdapter) ProviderID() model.ProviderID { return a.id }
func (a *failingMidStreamAdapter) Send(ctx context.Context, acc model.Account, req vendor.Request) (*chatapi.ChatCompletionResponse, error) {
	return nil, vendor.NewError(vendor.KindTransport, string(a.id), "boom", 0, nil)
}
func (a *failingMidStreamAdapter) Stream(ctx context.Context, acc model.Account, req vendor.Request, emit func(vendor.StreamEvent) error) error {
	if err := emit(vendor.StreamEvent{ContentDelta: "partial"}); err != nil {
		return err
	}
	return vendor.NewError(vendor.KindTransport, string(a.id), "connection reset", 0, nil)
}
func (a *failingMidStreamAdapter) RefreshCredential(ctx context.Context, acc model.Account) (model.Credential, error) {
	return acc.Credential, nil
}
func (a *failingMidStreamAdapter) ValidateCredential(ctx context.Context, acc model.Account) error {
	return nil
}
func (a *failingMidStreamAdapter) Delete(ctx context.Context, acc model.Account, sessionIDs []string) bool {
	return true
}

func testDeps() httpapi.Deps {
	provider := model.Provider{
		ID:      model.ProviderDeepSeek,
		Enabled: true,
		Models: []model.ModelInfo{
			{PublicID: "deepseek-chat", UpstreamModel: "deepseek-chat", ProviderID: model.ProviderDeepSeek, OwnedBy: "deepseek"},
		},
	}
	logger := zap.NewNop()
	bal := balancer.New(balancer.StrategyRoundRobin, 0, 0, 0)
	fwd := forwarder.New(fakeAccountStore{}, bal, 0, time.Millisecond, logger)
	adapters := map[model.ProviderID]vendor.Adapter{
		model.ProviderDeepSeek: &fakeAdapter{id: model.ProviderDeepSeek, resp: &chatapi.ChatCompletionResponse{
			Choices: []chatapi.Choice{{Message: chatapi.Message{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
		}},
	}
	return httpapi.NewDeps(&fakeCatalog{providers: []model.Provider{provider}}, fwd, adapters, logger, time.Now())
}

func TestChatCompletions_UnknownModelReturns404(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.POST("/v1/chat/completions", ChatCompletions(deps))

	body := `{"model":"nonexistent","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletions_NonStreamReturnsNormalizedResponse(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.POST("/v1/chat/completions", ChatCompletions(deps))

	body := `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"deepseek-chat"`) {
		t.Fatalf("expected response model field to carry the public model id, got %s", rec.Body.String())
	}
}

func TestChatCompletions_EmptyMessagesRejected(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.POST("/v1/chat/completions", ChatCompletions(deps))

	body := `{"model":"deepseek-chat","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatCompletions_StreamEmitsSSEFramedChunks(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.POST("/v1/chat/completions", ChatCompletions(deps))

	body := `{"model":"deepseek-chat","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	if !strings.Contains(out, "data: ") {
		t.Fatalf("expected SSE-framed output, got %q", out)
	}
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "data: [DONE]") {
		t.Fatalf("expected stream to terminate with [DONE], got %q", out)
	}
}

func TestChatCompletions_MidStreamErrorEmitsTerminalChunkThenDone(t *testing.T) {
	deps := testDeps()
	deps.Adapters[model.ProviderDeepSeek] = &failingMidStreamAdapter{id: model.ProviderDeepSeek}
	router := gin.New()
	router.POST("/v1/chat/completions", ChatCompletions(deps))

	body := `{"model":"deepseek-chat","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := rec.Body.String()
	if !strings.Contains(out, `"finish_reason":"stop"`) {
		t.Fatalf("expected a terminal finish_reason=stop chunk despite the error, got %q", out)
	}
	if !strings.Contains(out, "Error: ") {
		t.Fatalf("expected the terminal chunk to carry an inline error message, got %q", out)
	}
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "data: [DONE]") {
		t.Fatalf("expected stream to still terminate with [DONE], got %q", out)
	}
}

func TestListModels_ReturnsEnabledProviderModels(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.GET("/v1/models", ListModels(deps))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deepseek-chat") {
		t.Fatalf("expected model list to contain deepseek-chat, got %s", rec.Body.String())
	}
}

func TestGetModel_UnknownIDReturns404(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.GET("/v1/models/:id", GetModel(deps))

	req := httptest.NewRequest(http.MethodGet, "/v1/models/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealth_ReportsOK(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.GET("/health", Health(deps))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(out, `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, out)
	}
	for _, field := range []string{`"uptime"`, `"statistics"`, `"totalRequests"`, `"successRequests"`, `"failedRequests"`, `"activeConnections"`} {
		if !strings.Contains(out, field) {
			t.Fatalf("expected health response to carry %s, got %s", field, out)
		}
	}
}

func TestStats_AggregatesSinceWindow(t *testing.T) {
	deps := testDeps()
	router := gin.New()
	router.GET("/stats", Stats(deps))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deepseek") {
		t.Fatalf("expected stats to include deepseek, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "acct-1") {
		t.Fatalf("expected stats to include per-account usage, got %s", rec.Body.String())
	}
}
