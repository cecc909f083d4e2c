package creds

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mock Provider ---

type mockProvider struct {
	secrets  map[string]map[string]string
	listed   []string
	getErr   error
	putErr   error
	listErr  error
	getCalls int
	putCalls int
	written  map[string]map[string]string // last value written per secret

	listPrefix string // prefix passed to the last ListSecrets call
}

func (m *mockProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if v, ok := m.secrets[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret not found: %s", key)
}

func (m *mockProvider) PutSecret(_ context.Context, key string, value map[string]string) error {
	m.putCalls++
	if m.putErr != nil {
		return m.putErr
	}
	if m.written == nil {
		m.written = make(map[string]map[string]string)
	}
	m.written[key] = value
	return nil
}

func (m *mockProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	m.listPrefix = prefix
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listed, nil
}

func newTestStore(mock *mockProvider) *Store {
	return NewStore(zap.NewNop(), mock)
}

// --- DiscoverAccounts ---

func TestStore_DiscoverAccounts(t *testing.T) {
	mock := &mockProvider{
		listed: []string{"ci/sonarqube/jenkins", "ci/sonarqube/argo", "ci/sonarqube/renovate"},
	}
	s := newTestStore(mock)

	names, err := s.DiscoverAccounts(context.Background(), "ci/sonarqube/")
	require.NoError(t, err)
	assert.Equal(t, "ci/sonarqube/", mock.listPrefix)
	assert.Equal(t,
		[]string{"ci/sonarqube/argo", "ci/sonarqube/jenkins", "ci/sonarqube/renovate"},
		names, "discovered accounts must come back in a stable order")
}

func TestStore_DiscoverAccounts_Empty(t *testing.T) {
	mock := &mockProvider{}
	s := newTestStore(mock)

	names, err := s.DiscoverAccounts(context.Background(), "ci/sonarqube/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_DiscoverAccounts_ProviderError(t *testing.T) {
	mock := &mockProvider{listErr: fmt.Errorf("aws: access denied")}
	s := newTestStore(mock)

	_, err := s.DiscoverAccounts(context.Background(), "ci/sonarqube/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover service accounts")
	assert.Contains(t, err.Error(), "access denied")
}

// --- Admin ---

func TestStore_Admin_Success(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/sonarqube/admin": {"username": "admin", "password": "hunter2"},
		},
	}
	s := newTestStore(mock)

	admin, err := s.Admin(context.Background(), "ci/sonarqube/admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)
	assert.Equal(t, "hunter2", admin.Password)
	assert.Equal(t, 1, mock.getCalls)
}

func TestStore_Admin_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		secret map[string]string
	}{
		{name: "missing username", secret: map[string]string{"password": "x"}},
		{name: "missing password", secret: map[string]string{"username": "admin"}},
		{name: "empty map", secret: map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockProvider{
				secrets: map[string]map[string]string{"ci/admin": tt.secret},
			}
			s := newTestStore(mock)

			_, err := s.Admin(context.Background(), "ci/admin")
			assert.Error(t, err)
		})
	}
}

func TestStore_Admin_ProviderError(t *testing.T) {
	mock := &mockProvider{getErr: fmt.Errorf("aws: access denied")}
	s := newTestStore(mock)

	_, err := s.Admin(context.Background(), "ci/admin")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

// --- Account ---

func TestStore_Account_Success(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/sonarqube/jenkins": {
				"username": "jenkins",
				"password": "s3cret",
				"name":     "Jenkins CI",
				"token":    "old-token",
			},
		},
	}
	s := newTestStore(mock)

	rec, err := s.Account(context.Background(), "ci/sonarqube/jenkins")
	require.NoError(t, err)
	assert.Equal(t, "ci/sonarqube/jenkins", rec.SecretID)
	assert.Equal(t, "jenkins", rec.Username)
	assert.Equal(t, "s3cret", rec.Password)
	assert.Equal(t, "Jenkins CI", rec.Name)
	assert.Equal(t, "old-token", rec.Token)
}

func TestStore_Account_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		secret  map[string]string
		errText string
	}{
		{
			name:    "missing username",
			secret:  map[string]string{"password": "x"},
			errText: "username",
		},
		{
			name:    "missing password",
			secret:  map[string]string{"username": "jenkins"},
			errText: "password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockProvider{
				secrets: map[string]map[string]string{"ci/acct": tt.secret},
			}
			s := newTestStore(mock)

			_, err := s.Account(context.Background(), "ci/acct")
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestAccountRecord_DisplayNameFallsBackToLogin(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/acct": {"username": "scanner", "password": "x"},
		},
	}
	s := newTestStore(mock)

	rec, err := s.Account(context.Background(), "ci/acct")
	require.NoError(t, err)
	assert.Equal(t, "scanner", rec.DisplayName())
}

func TestAccountRecord_TokenName(t *testing.T) {
	rec := &AccountRecord{Username: "jenkins"}
	assert.Equal(t, "jenkins-token", rec.TokenName())
}

// --- SaveToken ---

func TestStore_SaveToken_PreservesUntouchedKeys(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/acct": {
				"username": "jenkins",
				"password": "s3cret",
				"name":     "Jenkins CI",
				"token":    "stale",
				"host":     "https://sonar.internal", // not a key this run touches
				"note":     "managed by platform team",
			},
		},
	}
	s := newTestStore(mock)

	rec, err := s.Account(context.Background(), "ci/acct")
	require.NoError(t, err)

	require.NoError(t, s.SaveToken(context.Background(), rec, "squ_new"))

	written := mock.written["ci/acct"]
	require.NotNil(t, written, "expected a PutSecret call")
	assert.Equal(t, "squ_new", written["token"])
	assert.Equal(t, "jenkins", written["username"], "username must survive write-back unchanged")
	assert.Equal(t, "s3cret", written["password"], "password must survive write-back unchanged")
	assert.Equal(t, "Jenkins CI", written["name"])
	assert.Equal(t, "https://sonar.internal", written["host"], "unknown keys must be preserved")
	assert.Equal(t, "managed by platform team", written["note"])
	assert.Equal(t, "squ_new", rec.Token)
}

func TestStore_SaveToken_AddsTokenKeyWhenAbsent(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/acct": {"username": "jenkins", "password": "s3cret"},
		},
	}
	s := newTestStore(mock)

	rec, err := s.Account(context.Background(), "ci/acct")
	require.NoError(t, err)
	assert.Empty(t, rec.Token)

	require.NoError(t, s.SaveToken(context.Background(), rec, "squ_first"))
	assert.Equal(t, "squ_first", mock.written["ci/acct"]["token"])
	assert.Len(t, mock.written["ci/acct"], 3)
}

func TestStore_SaveToken_WriteFailureLeavesRecordUntouched(t *testing.T) {
	mock := &mockProvider{
		secrets: map[string]map[string]string{
			"ci/acct": {"username": "jenkins", "password": "s3cret", "token": "stale"},
		},
		putErr: fmt.Errorf("aws: throttled"),
	}
	s := newTestStore(mock)

	rec, err := s.Account(context.Background(), "ci/acct")
	require.NoError(t, err)

	err = s.SaveToken(context.Background(), rec, "squ_new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, "stale", rec.Token, "failed write must not update the in-memory record")
	assert.Equal(t, 1, mock.putCalls)
}
