// Package creds resolves and persists credential records kept in the secret
// store. Records are JSON maps; the full raw key set is carried through a run
// so writing a token back never drops keys the run did not touch.
package creds

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/pkg/secrets"
)

// Well-known keys inside a credential secret. Any other keys present in the
// record are preserved verbatim on write-back.
const (
	KeyUsername = "username"
	KeyPassword = "password"
	KeyName     = "name"
	KeyToken    = "token"
)

// AdminCredentials is the administrator identity used for provisioning calls.
// Read once at startup, never written back.
type AdminCredentials struct {
	Username string
	Password string
}

// AccountRecord is one service account's stored secret record.
type AccountRecord struct {
	SecretID string
	Username string
	Password string
	Name     string // display name, optional
	Token    string // previously issued token, if any

	raw map[string]string // complete record as read, preserved on write-back
}

// DisplayName returns the account's display name, falling back to the login.
func (r *AccountRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Username
}

// TokenName returns the deterministic token name for this account.
func (r *AccountRecord) TokenName() string {
	return r.Username + "-token"
}

// Store reads and writes credential records through a secrets.Provider.
type Store struct {
	logger   *zap.Logger
	provider secrets.Provider
}

// NewStore constructs a credential store over the given provider.
func NewStore(logger *zap.Logger, provider secrets.Provider) *Store {
	return &Store{
		logger:   logger,
		provider: provider,
	}
}

// DiscoverAccounts lists the account secret references stored under the given
// prefix. The store imposes no naming convention beyond the prefix itself; the
// result is sorted so discovered accounts are processed in a stable order.
func (s *Store) DiscoverAccounts(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover service accounts: %w", err)
	}
	sort.Strings(names)

	s.logger.Info("creds.accounts_discovered",
		zap.String("prefix", prefix),
		zap.Int("count", len(names)),
		zap.Strings("secrets", names))
	return names, nil
}

// Admin resolves the administrator credentials from the given secret.
func (s *Store) Admin(ctx context.Context, secretID string) (AdminCredentials, error) {
	secretMap, err := s.provider.GetSecret(ctx, secretID)
	if err != nil {
		s.logger.Warn("creds.secret_fetch_failed",
			zap.String("secret_id", secretID),
			zap.Error(err))
		return AdminCredentials{}, fmt.Errorf("resolve admin credentials: %w", err)
	}

	admin := AdminCredentials{
		Username: secretMap[KeyUsername],
		Password: secretMap[KeyPassword],
	}
	if admin.Username == "" || admin.Password == "" {
		return AdminCredentials{}, fmt.Errorf("admin secret %q missing %q or %q", secretID, KeyUsername, KeyPassword)
	}

	s.logger.Info("creds.admin_resolved", zap.String("login", admin.Username))
	return admin, nil
}

// Account resolves one service account record from the given secret.
func (s *Store) Account(ctx context.Context, secretID string) (*AccountRecord, error) {
	secretMap, err := s.provider.GetSecret(ctx, secretID)
	if err != nil {
		s.logger.Warn("creds.secret_fetch_failed",
			zap.String("secret_id", secretID),
			zap.Error(err))
		return nil, fmt.Errorf("resolve account record %q: %w", secretID, err)
	}

	rec := &AccountRecord{
		SecretID: secretID,
		Username: secretMap[KeyUsername],
		Password: secretMap[KeyPassword],
		Name:     secretMap[KeyName],
		Token:    secretMap[KeyToken],
		raw:      secretMap,
	}
	if rec.Username == "" || rec.Password == "" {
		return nil, fmt.Errorf("account secret %q missing %q or %q", secretID, KeyUsername, KeyPassword)
	}

	s.logger.Info("creds.account_resolved",
		zap.String("secret_id", secretID),
		zap.String("login", rec.Username))
	return rec, nil
}

// SaveToken writes the record back with the new token set. Every key read
// from the record is re-written unchanged; only the token key is replaced.
// The in-memory record is updated only after the write succeeds.
func (s *Store) SaveToken(ctx context.Context, rec *AccountRecord, token string) error {
	merged := maps.Clone(rec.raw)
	if merged == nil {
		merged = make(map[string]string, 1)
	}
	merged[KeyToken] = token

	if err := s.provider.PutSecret(ctx, rec.SecretID, merged); err != nil {
		s.logger.Error("creds.token_persist_failed",
			zap.String("secret_id", rec.SecretID),
			zap.String("login", rec.Username),
			zap.Error(err))
		return fmt.Errorf("persist token for %q: %w", rec.Username, err)
	}

	rec.raw = merged
	rec.Token = token

	s.logger.Info("creds.token_persisted",
		zap.String("secret_id", rec.SecretID),
		zap.String("login", rec.Username))
	return nil
}
