// Package models holds the GORM row types persisted by the gateway.
// Credential field values are stored pre-encrypted by the store layer;
// GORM itself never sees plaintext secrets.
package models

import "time"

// ProviderModel persists the enabled/disabled state of a catalog provider.
// The rest of a provider's description (models, base URL) comes from the
// built-in catalog and is not duplicated here.
type ProviderModel struct {
	ID        string `gorm:"primaryKey"` // ProviderID
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProviderModel) TableName() string { return "providers" }

// AccountModel persists one vendor account, including its encrypted
// credential fields serialized as JSON.
type AccountModel struct {
	ID               string `gorm:"primaryKey"`
	ProviderID       string `gorm:"index"`
	Label            string
	CredentialJSON   string // JSON-encoded map[string]string, values "enc:"-prefixed
	Status           string
	Priority         int
	DailyQuota       int
	UsedToday        int
	RequestCount     int64
	QuotaResetAt     time.Time
	LastUsedAt       time.Time
	LastError        string
	FailCount        int
	CooldownUntil    time.Time
	DeleteSessionAfterChat bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (AccountModel) TableName() string { return "accounts" }

// LogModel persists one request-audit row.
type LogModel struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	RequestID   string `gorm:"index"`
	ProviderID  string `gorm:"index"`
	AccountID   string `gorm:"index"`
	Model       string
	Stream      bool
	StatusCode  int
	ErrorKind   string
	DurationMS  int64
	PromptChars int
	OutputChars int
	ToolCalls   int
	RetryCount  int
	CreatedAt   time.Time `gorm:"index"`
}

func (LogModel) TableName() string { return "request_logs" }
