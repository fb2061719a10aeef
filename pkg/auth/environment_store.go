package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvSessionID = "CLOTHSCAN_SESSION_ID"
	EnvCSRFToken = "CLOTHSCAN_CSRF_TOKEN"
	EnvUserAgent = "CLOTHSCAN_USER_AGENT"
)

// EnvironmentStore is a read-only store over the process environment
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(*Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment session under username, or "default"
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	if !e.Exists(username) {
		return nil, ErrCredentialsNotFound
	}
	if username == "" {
		username = "default"
	}
	return &Account{
		Username:     username,
		SessionID:    os.Getenv(EnvSessionID),
		CSRFToken:    os.Getenv(EnvCSRFToken),
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(string) bool {
	return os.Getenv(EnvSessionID) != "" && os.Getenv(EnvCSRFToken) != ""
}
