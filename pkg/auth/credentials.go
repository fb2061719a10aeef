// Package auth keeps Instagram session credentials for ingestion runs.
//
// Accounts are kept in the system keychain when one is available, in an
// AES-GCM encrypted file otherwise, and can always be supplied through
// CLOTHSCAN_SESSION_ID / CLOTHSCAN_CSRF_TOKEN.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"clothscan/pkg/config"
	"clothscan/pkg/logger"
)

// Account is one Instagram browser session
type Account struct {
	Username     string    `json:"username"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that an account can authenticate requests
func (a *Account) Validate() error {
	switch {
	case a == nil || a.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	case a.SessionID == "":
		return fmt.Errorf("%w: session ID is required", ErrInvalidCredentials)
	case a.CSRFToken == "":
		return fmt.Errorf("%w: CSRF token is required", ErrInvalidCredentials)
	}
	return nil
}

// CredentialStore is one place credentials can be kept
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
	Exists(username string) bool
}

// Manager queries its stores in order; the first one that can write wins
type Manager struct {
	stores []CredentialStore
	logger logger.Logger
}

// NewManager builds the keyring, encrypted file and environment stores.
// The encrypted file lives in dir, which defaults to the user config directory.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
	}

	var stores []CredentialStore
	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	} else {
		logger.GetLogger().DebugWithFields("system keyring unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}

	fs, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, fs, NewEnvironmentStore())

	return NewManagerWithStores(stores...), nil
}

// NewManagerWithStores builds a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores, logger: logger.GetLogger()}
}

// Store saves account in the first store that accepts it
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var errs []error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("failed to store credentials: %w", errors.Join(errs...))
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(username); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for user %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault prefers environment credentials, then the most recently stored account
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrCredentialsNotFound
	}
	newest := accounts[0]
	for _, a := range accounts[1:] {
		if a.LastModified.After(newest.LastModified) {
			newest = a
		}
	}
	return newest, nil
}

// List merges every store's accounts, keeping the newest copy of each, sorted by username
func (m *Manager) List() ([]*Account, error) {
	byName := make(map[string]*Account)
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			m.logger.WarnWithFields("failed to list credential store", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		for _, a := range accounts {
			if existing, ok := byName[a.Username]; !ok || a.LastModified.After(existing.LastModified) {
				byName[a.Username] = a
			}
		}
	}

	result := make([]*Account, 0, len(byName))
	for _, a := range byName {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

// Delete removes username from every store that has it
func (m *Manager) Delete(username string) error {
	deleted := false
	for _, store := range m.stores {
		err := store.Delete(username)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			return fmt.Errorf("failed to delete credentials: %w", err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w for user %s", ErrCredentialsNotFound, username)
	}
	return nil
}

// Resolve fills the session settings of ic that are still empty, using the
// named account or the default one. Explicit settings always win.
func (m *Manager) Resolve(username string, ic config.InstagramConfig) (config.InstagramConfig, error) {
	if ic.SessionID != "" && ic.CSRFToken != "" {
		return ic, nil
	}

	var account *Account
	var err error
	if username != "" {
		account, err = m.Retrieve(username)
	} else {
		account, err = m.RetrieveDefault()
	}
	if err != nil {
		return ic, err
	}

	if ic.SessionID == "" {
		ic.SessionID = account.SessionID
	}
	if ic.CSRFToken == "" {
		ic.CSRFToken = account.CSRFToken
	}
	if ic.UserAgent == "" {
		ic.UserAgent = account.UserAgent
	}
	return ic, nil
}

// ConfigDir returns <user config dir>/clothscan, creating it
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "clothscan")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// SanitizeAccount returns a copy with the secrets masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	masked := *account
	masked.SessionID = maskString(account.SessionID)
	masked.CSRFToken = maskString(account.CSRFToken)
	return &masked
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
