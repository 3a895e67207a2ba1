// Package prober validates vendor credentials and, when the adapter's
// contract supports it, rotates them. It sits above vendor.Adapter rather
// than dispatching per vendor: ValidateCredential and RefreshCredential
// are already part of the polymorphic vendor.Adapter contract, so one
// generic probe covers all seven vendors instead of duplicating
// vendor.Create's registry with a second one.
package prober

import (
	"context"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

// Result reports the outcome of probing one account's credential.
type Result struct {
	Valid bool
	Err   error

	// Expired is true when Err is a *vendor.Error classified
	// KindAuthExpired, distinguishing a credential that needs operator
	// attention from a transient probe failure (timeout, vendor outage).
	Expired bool

	// Rotated is true when RefreshCredential returned a credential that
	// differs from the account's stored one. Callers that own a store
	// handle (the accounts CLI, a future periodic job) are responsible
	// for persisting Credential — this package never writes to a store,
	// matching the store's single-owner-writer discipline.
	Rotated    bool
	Credential model.Credential
}

// Probe validates acc's credential against adapter and, if still valid,
// gives the adapter a chance to rotate it. No adapter's ValidateCredential
// parses a vendor response body for account metadata (all of them just
// check the status code), so Result carries no user-info field — adding
// one would mean inventing data no adapter actually produces.
func Probe(ctx context.Context, adapter vendor.Adapter, acc model.Account) Result {
	if err := adapter.ValidateCredential(ctx, acc); err != nil {
		expired := false
		if ve, ok := err.(*vendor.Error); ok {
			expired = ve.Kind == vendor.KindAuthExpired
		}
		return Result{Valid: false, Err: err, Expired: expired}
	}

	refreshed, err := adapter.RefreshCredential(ctx, acc)
	if err != nil {
		return Result{Valid: true, Err: err}
	}
	if changed(acc.Credential, refreshed) {
		return Result{Valid: true, Rotated: true, Credential: refreshed}
	}
	return Result{Valid: true}
}

func changed(old, updated model.Credential) bool {
	if len(old) != len(updated) {
		return true
	}
	for k, v := range updated {
		if old[k] != v {
			return true
		}
	}
	return false
}
