package prober

import (
	"context"
	"errors"
	"testing"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/llm/chatapi"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

type fakeAdapter struct {
	validateErr error
	refreshed   model.Credential
	refreshErr  error
}

func (f *fakeAdapter) ProviderID() model.ProviderID { return model.ProviderDeepSeek }
func (f *fakeAdapter) Send(ctx context.Context, acc model.Account, req vendor.Request) (*chatapi.ChatCompletionResponse, error) {
	return nil, nil
}
func (f *fakeAdapter) Stream(ctx context.Context, acc model.Account, req vendor.Request, emit func(vendor.StreamEvent) error) error {
	return nil
}
func (f *fakeAdapter) RefreshCredential(ctx context.Context, acc model.Account) (model.Credential, error) {
	return f.refreshed, f.refreshErr
}
func (f *fakeAdapter) ValidateCredential(ctx context.Context, acc model.Account) error {
	return f.validateErr
}
func (f *fakeAdapter) Delete(ctx context.Context, acc model.Account, sessionIDs []string) bool {
	return true
}

func TestProbe_ExpiredCredentialIsClassified(t *testing.T) {
	adapter := &fakeAdapter{validateErr: vendor.NewError(vendor.KindAuthExpired, "deepseek", "token rejected", 401, nil)}
	res := Probe(context.Background(), adapter, model.Account{})

	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if !res.Expired {
		t.Fatal("expected Expired=true for KindAuthExpired")
	}
}

func TestProbe_TransientFailureIsNotExpired(t *testing.T) {
	adapter := &fakeAdapter{validateErr: vendor.NewError(vendor.KindTransport, "deepseek", "dial timeout", 0, errors.New("timeout"))}
	res := Probe(context.Background(), adapter, model.Account{})

	if res.Valid || res.Expired {
		t.Fatalf("expected invalid, non-expired result, got %+v", res)
	}
}

func TestProbe_DetectsCredentialRotation(t *testing.T) {
	acc := model.Account{Credential: model.Credential{"token": "old"}}
	adapter := &fakeAdapter{refreshed: model.Credential{"token": "new"}}

	res := Probe(context.Background(), adapter, acc)
	if !res.Valid || !res.Rotated {
		t.Fatalf("expected valid+rotated result, got %+v", res)
	}
	if res.Credential["token"] != "new" {
		t.Fatalf("expected rotated credential to be returned, got %v", res.Credential)
	}
}

func TestProbe_NoRotationWhenCredentialUnchanged(t *testing.T) {
	acc := model.Account{Credential: model.Credential{"token": "same"}}
	adapter := &fakeAdapter{refreshed: model.Credential{"token": "same"}}

	res := Probe(context.Background(), adapter, acc)
	if !res.Valid || res.Rotated {
		t.Fatalf("expected valid, non-rotated result, got %+v", res)
	}
}
