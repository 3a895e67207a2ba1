package model

import "time"

// AccountStatus reflects the outcome of the most recent request made with
// an account's credentials.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusCooldown  AccountStatus = "cooldown"  // failover cooldown in progress
	AccountStatusExhausted AccountStatus = "exhausted"  // daily quota spent
	AccountStatusDisabled  AccountStatus = "disabled"   // operator-disabled
	AccountStatusInvalid   AccountStatus = "invalid"    // credentials rejected by vendor
)

// Credential is the opaque, vendor-specific secret material an account
// carries. Each provider adapter knows how to interpret its own shape;
// the gateway core only ever stores and encrypts it as a blob of named
// fields so new vendors don't require schema changes.
//
// Typical fields by vendor:
//   deepseek: token, device_id
//   glm:      refresh_token, access_token
//   kimi:     refresh_token or token
//   minimax:  jwt, real_user_id, device_id
//   qwen:     cookie
//   qwenai:   jwt, cookie, waf_token
//   zai:      token
type Credential map[string]string

// Clone returns a deep copy so callers can mutate a live credential (e.g.
// after a token refresh) without racing the account's stored copy.
func (c Credential) Clone() Credential {
	out := make(Credential, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Account is one registered vendor identity the balancer can route traffic
// through. Credentials are held encrypted at rest (see internal/infrastructure/crypto)
// and decrypted only in memory for the lifetime of an outbound request.
type Account struct {
	ID            string
	ProviderID    ProviderID
	Label         string // operator-facing nickname
	Credential    Credential
	Status        AccountStatus
	Priority      int // informational; no balancer strategy reads it
	DailyQuota    int // 0 = unlimited
	UsedToday     int
	RequestCount  int64 // cumulative dispatch count, never reset
	QuotaResetAt  time.Time
	LastUsedAt    time.Time
	LastError     string
	FailCount     int // consecutive failures, drives cooldown backoff
	CooldownUntil time.Time
	// DeleteSessionAfterChat tells the forwarder to tear down the vendor's
	// server-side session once a stream terminates, instead of leaving it
	// to expire on its own.
	DeleteSessionAfterChat bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Usable reports whether the account can currently accept new requests,
// independent of balancer strategy — disabled, invalid, exhausted or still
// cooling down accounts are never selected.
func (a Account) Usable(now time.Time) bool {
	switch a.Status {
	case AccountStatusDisabled, AccountStatusInvalid:
		return false
	case AccountStatusExhausted:
		return now.After(a.QuotaResetAt)
	case AccountStatusCooldown:
		return now.After(a.CooldownUntil)
	}
	if a.DailyQuota > 0 && a.UsedToday >= a.DailyQuota {
		return false
	}
	return true
}
