// Package store persists providers and accounts, decrypting credentials on
// read and encrypting them on write. It owns the single writer discipline
// for account bookkeeping (quota counters, cooldowns, status) so the
// balancer never races a concurrent request's update against another.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/infrastructure/crypto"
	"github.com/chatgw/gateway/internal/infrastructure/persistence/models"
	"github.com/chatgw/gateway/pkg/errors"
	"github.com/chatgw/gateway/pkg/safego"
)

// CooldownPolicy decides, from an account's running consecutive-failure
// count, whether it should be pulled into cooldown and for how long.
// Implemented by *balancer.Balancer; kept as an interface here so store
// never imports the balancer package.
type CooldownPolicy interface {
	ShouldCooldown(failCount int) bool
	CooldownDuration(failCount int) time.Duration
}

// Store is the credential and provider repository backing the gateway.
// Account mutations (create, delete, usage, credential updates, quota
// resets) take an internal lock, so callers never need to coordinate them
// themselves; SetProviderEnabled and AppendLog run without it.
type Store struct {
	db     *gorm.DB
	key    []byte
	logger *zap.Logger
	cool   CooldownPolicy

	mu      sync.Mutex
	catalog map[model.ProviderID]model.Provider
	stopCh  chan struct{}
}

// New builds a Store, reconciles the built-in provider catalog into the
// providers table, and starts the daily quota-reset ticker. cool may be nil,
// in which case failed accounts never automatically cool down.
func New(db *gorm.DB, key []byte, cool CooldownPolicy, logger *zap.Logger) (*Store, error) {
	s := &Store{
		db:      db,
		key:     key,
		logger:  logger,
		cool:    cool,
		catalog: make(map[model.ProviderID]model.Provider),
		stopCh:  make(chan struct{}),
	}

	for _, p := range BuiltinCatalog() {
		s.catalog[p.ID] = p
	}

	if err := s.reconcileCatalog(); err != nil {
		return nil, fmt.Errorf("reconcile provider catalog: %w", err)
	}

	safego.Go(logger, "store.quota-reset-ticker", s.runQuotaResetLoop)

	return s, nil
}

// Close stops the background quota-reset ticker.
func (s *Store) Close() {
	close(s.stopCh)
}

func (s *Store) reconcileCatalog() error {
	for _, p := range s.catalog {
		var existing models.ProviderModel
		err := s.db.First(&existing, "id = ?", string(p.ID)).Error
		if err == gorm.ErrRecordNotFound {
			row := models.ProviderModel{
				ID:        string(p.ID),
				Enabled:   true,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.db.Create(&row).Error; err != nil {
				return fmt.Errorf("insert provider %s: %w", p.ID, err)
			}
		} else if err != nil {
			return fmt.Errorf("lookup provider %s: %w", p.ID, err)
		}
	}
	return nil
}

// Providers returns every catalog provider merged with its persisted
// enabled/disabled state.
func (s *Store) Providers(ctx context.Context) ([]model.Provider, error) {
	var rows []models.ProviderModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.NewInternalErrorWithCause("list providers", err)
	}
	enabled := make(map[string]bool, len(rows))
	for _, r := range rows {
		enabled[r.ID] = r.Enabled
	}

	out := make([]model.Provider, 0, len(s.catalog))
	for _, id := range model.AllProviders {
		p, ok := s.catalog[id]
		if !ok {
			continue
		}
		p.Enabled = enabled[string(id)]
		out = append(out, p)
	}
	return out, nil
}

// Provider returns one catalog provider by ID.
func (s *Store) Provider(ctx context.Context, id model.ProviderID) (model.Provider, error) {
	p, ok := s.catalog[id]
	if !ok {
		return model.Provider{}, errors.NewNotFoundError("unknown provider: " + string(id))
	}
	var row models.ProviderModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return model.Provider{}, errors.NewNotFoundError("provider not found: " + string(id))
		}
		return model.Provider{}, errors.NewInternalErrorWithCause("lookup provider", err)
	}
	p.Enabled = row.Enabled
	return p, nil
}

// SetProviderEnabled enables or disables a provider without touching its
// accounts; model resolution skips a disabled provider, so its accounts
// receive no requests.
func (s *Store) SetProviderEnabled(ctx context.Context, id model.ProviderID, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.ProviderModel{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return errors.NewInternalErrorWithCause("update provider", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NewNotFoundError("provider not found: " + string(id))
	}
	return nil
}

// Accounts returns every account for a provider, decrypted.
func (s *Store) Accounts(ctx context.Context, provider model.ProviderID) ([]model.Account, error) {
	var rows []models.AccountModel
	q := s.db.WithContext(ctx)
	if provider != "" {
		q = q.Where("provider_id = ?", string(provider))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.NewInternalErrorWithCause("list accounts", err)
	}
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		acc, err := s.toEntity(&r)
		if err != nil {
			s.logger.Warn("skipping account with undecryptable credential", zap.String("account_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

// CreateAccount persists a new account with an encrypted credential.
func (s *Store) CreateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.toModel(&acc)
	if err != nil {
		return model.Account{}, err
	}
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	if row.Status == "" {
		row.Status = string(model.AccountStatusActive)
	}
	if row.QuotaResetAt.IsZero() {
		row.QuotaResetAt = nextMidnightUTC(now)
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return model.Account{}, errors.NewInternalErrorWithCause("create account", err)
	}
	return s.toEntity(row)
}

// DeleteAccount removes an account entirely.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.WithContext(ctx).Delete(&models.AccountModel{}, "id = ?", id)
	if res.Error != nil {
		return errors.NewInternalErrorWithCause("delete account", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NewNotFoundError("account not found: " + id)
	}
	return nil
}

// RecordUsage atomically bumps an account's usage counters after a
// request completes. On failure it increments the consecutive-failure
// count and, if the configured CooldownPolicy says the threshold is
// crossed, moves the account into cooldown for the escalated duration.
// authExpired forces the account straight to AccountStatusInvalid
// regardless of the failure count, since a rejected credential will not
// start working again just by waiting.
func (s *Store) RecordUsage(ctx context.Context, id string, success bool, authExpired bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row models.AccountModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.NewNotFoundError("account not found: " + id)
		}
		return errors.NewInternalErrorWithCause("lookup account", err)
	}

	now := time.Now().UTC()
	row.LastUsedAt = now
	row.UpdatedAt = now
	row.RequestCount++

	switch {
	case success:
		row.UsedToday++
		row.FailCount = 0
		row.LastError = ""
		row.Status = string(model.AccountStatusActive)
	case authExpired:
		row.FailCount++
		row.LastError = errMsg
		row.Status = string(model.AccountStatusInvalid)
	default:
		row.FailCount++
		row.LastError = errMsg
		if s.cool != nil && s.cool.ShouldCooldown(row.FailCount) {
			row.CooldownUntil = now.Add(s.cool.CooldownDuration(row.FailCount))
			row.Status = string(model.AccountStatusCooldown)
		}
	}

	return s.db.WithContext(ctx).Save(&row).Error
}

// UpdateCredential persists a refreshed credential (e.g. after a token
// refresh round-trip) without disturbing usage counters.
func (s *Store) UpdateCredential(ctx context.Context, id string, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := crypto.EncryptFields(cred, s.key)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	raw, err := json.Marshal(encrypted)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&models.AccountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"credential_json": string(raw), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return errors.NewInternalErrorWithCause("update credential", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NewNotFoundError("account not found: " + id)
	}
	return nil
}

// AppendLog writes one request-audit row. Best-effort: callers log and
// continue on failure rather than fail the proxied request over it.
func (s *Store) AppendLog(ctx context.Context, entry model.LogEntry) error {
	row := models.LogModel{
		RequestID:   entry.RequestID,
		ProviderID:  string(entry.ProviderID),
		AccountID:   entry.AccountID,
		Model:       entry.Model,
		Stream:      entry.Stream,
		StatusCode:  entry.StatusCode,
		ErrorKind:   entry.ErrorKind,
		DurationMS:  entry.DurationMS,
		PromptChars: entry.PromptChars,
		OutputChars: entry.OutputChars,
		ToolCalls:   entry.ToolCalls,
		RetryCount:  entry.RetryCount,
		CreatedAt:   time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Stats aggregates request counts per provider/model over the last window.
type Stats struct {
	ProviderID   string
	Model        string
	RequestCount int64
	ErrorCount   int64
}

// StatsSince returns per-provider/model aggregates since the given time.
func (s *Store) StatsSince(ctx context.Context, since time.Time) ([]Stats, error) {
	var rows []Stats
	err := s.db.WithContext(ctx).Model(&models.LogModel{}).
		Select("provider_id, model, count(*) as request_count, sum(case when error_kind != '' then 1 else 0 end) as error_count").
		Where("created_at >= ?", since).
		Group("provider_id, model").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.NewInternalErrorWithCause("aggregate stats", err)
	}
	return rows, nil
}

func (s *Store) runQuotaResetLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if err := s.resetExpiredQuotas(context.Background(), now.UTC()); err != nil {
				s.logger.Warn("quota reset pass failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) resetExpiredQuotas(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Model(&models.AccountModel{}).
		Where("quota_reset_at <= ?", now).
		Updates(map[string]any{
			"used_today":     0,
			"quota_reset_at": nextMidnightUTC(now),
			"updated_at":     now,
		}).Error
}

func nextMidnightUTC(from time.Time) time.Time {
	y, m, d := from.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func (s *Store) toModel(acc *model.Account) (*models.AccountModel, error) {
	encrypted, err := crypto.EncryptFields(acc.Credential, s.key)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}
	raw, err := json.Marshal(encrypted)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}
	id := acc.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d", acc.ProviderID, time.Now().UnixNano())
	}
	return &models.AccountModel{
		ID:             id,
		ProviderID:     string(acc.ProviderID),
		Label:          acc.Label,
		CredentialJSON: string(raw),
		Status:         string(acc.Status),
		Priority:       acc.Priority,
		DailyQuota:     acc.DailyQuota,
		UsedToday:      acc.UsedToday,
		RequestCount:   acc.RequestCount,
		QuotaResetAt:   acc.QuotaResetAt,
		LastUsedAt:     acc.LastUsedAt,
		LastError:      acc.LastError,
		FailCount:      acc.FailCount,
		CooldownUntil:  acc.CooldownUntil,
		DeleteSessionAfterChat: acc.DeleteSessionAfterChat,
	}, nil
}

func (s *Store) toEntity(row *models.AccountModel) (model.Account, error) {
	var encrypted map[string]string
	if row.CredentialJSON != "" {
		if err := json.Unmarshal([]byte(row.CredentialJSON), &encrypted); err != nil {
			return model.Account{}, fmt.Errorf("unmarshal credential: %w", err)
		}
	}
	cred, err := crypto.DecryptFields(encrypted, s.key)
	if err != nil {
		return model.Account{}, fmt.Errorf("decrypt credential: %w", err)
	}
	return model.Account{
		ID:            row.ID,
		ProviderID:    model.ProviderID(row.ProviderID),
		Label:         row.Label,
		Credential:    model.Credential(cred),
		Status:        model.AccountStatus(row.Status),
		Priority:      row.Priority,
		DailyQuota:    row.DailyQuota,
		UsedToday:     row.UsedToday,
		RequestCount:  row.RequestCount,
		QuotaResetAt:  row.QuotaResetAt,
		LastUsedAt:    row.LastUsedAt,
		LastError:     row.LastError,
		FailCount:     row.FailCount,
		CooldownUntil: row.CooldownUntil,
		DeleteSessionAfterChat: row.DeleteSessionAfterChat,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// SeedAccounts inserts config-provided accounts that don't already exist
// (matched by provider+label), used on first run to bootstrap credentials
// from config.yaml.
func (s *Store) SeedAccounts(ctx context.Context, provider model.ProviderID, label string, cred model.Credential, priority, dailyQuota int, deleteSessionAfterChat bool) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AccountModel{}).
		Where("provider_id = ? AND label = ?", string(provider), label).
		Count(&count).Error; err != nil {
		return errors.NewInternalErrorWithCause("check existing seed account", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.CreateAccount(ctx, model.Account{
		ProviderID:             provider,
		Label:                  label,
		Credential:             cred,
		Status:                 model.AccountStatusActive,
		Priority:               priority,
		DailyQuota:             dailyQuota,
		DeleteSessionAfterChat: deleteSessionAfterChat,
	})
	return err
}
