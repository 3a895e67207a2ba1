// Package forwarder routes a normalized chat request to the right vendor
// adapter, retrying on the same account on transient failure and recording
// usage/cooldown bookkeeping back to the store. It replaces the pack's
// multi-provider Router with a single-provider, multi-account routing
// policy: a request already knows which provider its model belongs to, and
// the thing being load-balanced is which credential to use, not which
// backend to call.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/llm/balancer"
	"github.com/chatgw/gateway/internal/llm/chatapi"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

// AccountStore is the subset of store.Store the forwarder depends on,
// narrowed to keep this package testable with a fake.
type AccountStore interface {
	Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error)
	RecordUsage(ctx context.Context, id string, success bool, authExpired bool, errMsg string) error
	AppendLog(ctx context.Context, entry model.LogEntry) error
}

// Forwarder dispatches requests to vendor adapters, retrying on the
// account selected for the request when a failure is retryable.
type Forwarder struct {
	store      AccountStore
	balancer   *balancer.Balancer
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New builds a Forwarder. retryDelay is the fixed delay separating retry
// attempts (spec: a 5s fixed delay, not an exponential backoff — the
// exponential schedule lives in the balancer's per-account cooldown, a
// different concern).
func New(store AccountStore, bal *balancer.Balancer, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *Forwarder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Forwarder{
		store:      store,
		balancer:   bal,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("component", "forwarder")),
	}
}

// Send performs a non-streaming chat completion for providerID. The
// account is selected once, and retryable failures are retried on it.
func (f *Forwarder) Send(ctx context.Context, providerID model.ProviderID, adapter vendor.Adapter, req vendor.Request, requestID string) (*chatapi.ChatCompletionResponse, error) {
	var lastErr error

	acc, err := f.pickAccount(ctx, providerID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		start := time.Now()
		resp, sendErr := adapter.Send(ctx, acc, req)
		duration := time.Since(start)

		if sendErr == nil {
			f.recordSuccess(ctx, acc.ID)
			f.log(ctx, requestID, providerID, acc.ID, req, true, 200, "", duration, attempt)
			return resp, nil
		}

		classified := classify(sendErr, providerID)
		f.recordFailure(ctx, acc.ID, classified)
		f.log(ctx, requestID, providerID, acc.ID, req, false, classified.StatusCode, classified.Kind.String(), duration, attempt)
		lastErr = classified

		if attempt == f.maxRetries || !classified.Kind.Retryable() {
			break
		}
		f.sleepRetryDelay(ctx)
	}

	return nil, fmt.Errorf("forward to %s failed after %d attempt(s): %w", providerID, f.maxRetries+1, lastErr)
}

// Stream performs a streaming chat completion, retrying the whole stream
// on the same account if the failure happens before any content was
// emitted to the caller. Once content has started flowing, a mid-stream
// failure is surfaced as a terminal error rather than silently retried,
// since the caller may already have forwarded partial output downstream.
func (f *Forwarder) Stream(ctx context.Context, providerID model.ProviderID, adapter vendor.Adapter, req vendor.Request, requestID string, emit func(vendor.StreamEvent) error) error {
	var lastErr error
	var lastAccount model.Account
	var haveAccount bool
	var sessionIDs []string

	defer func() {
		if !haveAccount || !lastAccount.DeleteSessionAfterChat {
			return
		}
		// Use a detached context: the caller's ctx may already be Done
		// (client disconnect), but teardown must still fire exactly once.
		tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if !adapter.Delete(tctx, lastAccount, sessionIDs) {
			f.logger.Warn("session teardown failed", zap.String("account_id", lastAccount.ID), zap.Strings("session_ids", sessionIDs))
		}
	}()

	acc, err := f.pickAccount(ctx, providerID)
	if err != nil {
		return err
	}
	lastAccount, haveAccount = acc, true

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		start := time.Now()
		emittedAny := false
		wrapped := func(ev vendor.StreamEvent) error {
			emittedAny = emittedAny || ev.ContentDelta != "" || len(ev.ToolCalls) > 0
			if ev.SessionID != "" {
				sessionIDs = append(sessionIDs, ev.SessionID)
			}
			return emit(ev)
		}

		streamErr := adapter.Stream(ctx, acc, req, wrapped)
		duration := time.Since(start)

		if streamErr == nil {
			f.recordSuccess(ctx, acc.ID)
			f.log(ctx, requestID, providerID, acc.ID, req, true, 200, "", duration, attempt)
			return nil
		}

		classified := classify(streamErr, providerID)
		f.recordFailure(ctx, acc.ID, classified)
		f.log(ctx, requestID, providerID, acc.ID, req, false, classified.StatusCode, classified.Kind.String(), duration, attempt)
		lastErr = classified

		if emittedAny || attempt == f.maxRetries || !classified.Kind.Retryable() {
			if emittedAny {
				return fmt.Errorf("stream from %s interrupted mid-response: %w", providerID, classified)
			}
			break
		}
		f.sleepRetryDelay(ctx)
	}

	return fmt.Errorf("stream from %s failed after %d attempt(s): %w", providerID, f.maxRetries+1, lastErr)
}

func (f *Forwarder) pickAccount(ctx context.Context, providerID model.ProviderID) (model.Account, error) {
	candidates, err := f.store.Accounts(ctx, providerID)
	if err != nil {
		return model.Account{}, vendor.NewError(vendor.KindInternalPolicy, string(providerID), "failed to list accounts", 0, err)
	}
	if len(candidates) == 0 {
		return model.Account{}, vendor.NewError(vendor.KindInternalPolicy, string(providerID), "no accounts registered", 0, nil)
	}
	acc, err := f.balancer.Select(providerID, candidates)
	if err != nil {
		return model.Account{}, vendor.NewError(vendor.KindInternalPolicy, string(providerID), "no usable account", 0, err)
	}
	return acc, nil
}

func (f *Forwarder) recordSuccess(ctx context.Context, accountID string) {
	if err := f.store.RecordUsage(ctx, accountID, true, false, ""); err != nil {
		f.logger.Warn("failed to record account success", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (f *Forwarder) recordFailure(ctx context.Context, accountID string, classified *vendor.Error) {
	authExpired := classified.Kind == vendor.KindAuthExpired
	if err := f.store.RecordUsage(ctx, accountID, false, authExpired, classified.Error()); err != nil {
		f.logger.Warn("failed to record account failure", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (f *Forwarder) log(ctx context.Context, requestID string, providerID model.ProviderID, accountID string, req vendor.Request, success bool, statusCode int, errKind string, duration time.Duration, retryCount int) {
	promptChars := 0
	for _, m := range req.Messages {
		promptChars += len(m.Content)
	}
	entry := model.LogEntry{
		RequestID:   requestID,
		ProviderID:  providerID,
		AccountID:   accountID,
		Model:       req.Model,
		Stream:      req.Stream,
		StatusCode:  statusCode,
		ErrorKind:   errKind,
		DurationMS:  duration.Milliseconds(),
		PromptChars: promptChars,
		RetryCount:  retryCount,
	}
	if err := f.store.AppendLog(ctx, entry); err != nil {
		f.logger.Warn("failed to append request log", zap.Error(err))
	}
}

func (f *Forwarder) sleepRetryDelay(ctx context.Context) {
	select {
	case <-time.After(f.retryDelay):
	case <-ctx.Done():
	}
}

func classify(err error, providerID model.ProviderID) *vendor.Error {
	var ve *vendor.Error
	if errors.As(err, &ve) {
		return ve
	}
	return vendor.Classify(err, string(providerID), 0)
}
