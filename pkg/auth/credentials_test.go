package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clothscan/pkg/config"

	"github.com/zalando/go-keyring"
)

// memoryStore is an in-process CredentialStore with error injection
type memoryStore struct {
	mu        sync.Mutex
	accounts  map[string]Account
	storeErr  error
	listError error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[string]Account)}
}

func (m *memoryStore) Store(a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.accounts[a.Username] = *a
	return nil
}

func (m *memoryStore) Retrieve(username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &a, nil
}

func (m *memoryStore) List() ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listError != nil {
		return nil, m.listError
	}
	var out []*Account
	for _, a := range m.accounts {
		a := a
		out = append(out, &a)
	}
	return out, nil
}

func (m *memoryStore) Delete(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, username)
	return nil
}

func (m *memoryStore) Exists(username string) bool {
	_, err := m.Retrieve(username)
	return err == nil
}

func clearEnv(t *testing.T) {
	t.Setenv(EnvSessionID, "")
	t.Setenv(EnvCSRFToken, "")
	t.Setenv(EnvUserAgent, "")
}

func TestCredentialManager(t *testing.T) {
	clearEnv(t)
	store := newMemoryStore()
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	account := &Account{
		Username:  "testuser",
		SessionID: "test_session_id_12345",
		CSRFToken: "test_csrf_token_67890",
		UserAgent: "TestAgent/1.0",
	}
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.LastModified.IsZero() {
		t.Error("Store should stamp LastModified")
	}

	retrieved, err := manager.Retrieve("testuser")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.SessionID != account.SessionID || retrieved.CSRFToken != account.CSRFToken {
		t.Errorf("Retrieved account mismatch: %+v", retrieved)
	}

	accounts, err := manager.List()
	if err != nil || len(accounts) != 1 {
		t.Errorf("Expected one account, got %d (%v)", len(accounts), err)
	}

	if err := manager.Delete("testuser"); err != nil {
		t.Errorf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("testuser"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
	if err := manager.Delete("testuser"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound deleting twice, got %v", err)
	}
}

func TestManagerRejectsIncompleteAccounts(t *testing.T) {
	manager := NewManagerWithStores(newMemoryStore())
	for _, a := range []*Account{
		{SessionID: "s", CSRFToken: "c"},
		{Username: "u", CSRFToken: "c"},
		{Username: "u", SessionID: "s"},
	} {
		if err := manager.Store(a); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Expected ErrInvalidCredentials for %+v, got %v", a, err)
		}
	}
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := newMemoryStore()
	broken.storeErr = errors.New("keychain locked")
	broken.listError = errors.New("keychain locked")
	backup := newMemoryStore()
	manager := NewManagerWithStores(broken, backup)

	if err := manager.Store(&Account{Username: "u", SessionID: "s", CSRFToken: "c"}); err != nil {
		t.Fatalf("Expected fallback store to accept account: %v", err)
	}
	if !backup.Exists("u") {
		t.Error("Account should be in the fallback store")
	}
	accounts, err := manager.List()
	if err != nil || len(accounts) != 1 {
		t.Errorf("List should skip the failing store, got %d (%v)", len(accounts), err)
	}
}

func TestRetrieveDefault(t *testing.T) {
	clearEnv(t)
	store := newMemoryStore()
	old := time.Now().Add(-time.Hour)
	store.accounts["older"] = Account{Username: "older", SessionID: "s1", CSRFToken: "c1", LastModified: old}
	store.accounts["newer"] = Account{Username: "newer", SessionID: "s2", CSRFToken: "c2", LastModified: time.Now()}
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	a, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if a.Username != "newer" {
		t.Errorf("Expected the newest account, got %s", a.Username)
	}

	t.Setenv(EnvSessionID, "env_session")
	t.Setenv(EnvCSRFToken, "env_csrf")
	a, err = manager.RetrieveDefault()
	if err != nil || a.SessionID != "env_session" {
		t.Errorf("Environment credentials should win, got %+v (%v)", a, err)
	}
}

func TestResolve(t *testing.T) {
	clearEnv(t)
	store := newMemoryStore()
	store.accounts["shop"] = Account{Username: "shop", SessionID: "stored", CSRFToken: "stored_csrf", UserAgent: "UA"}
	manager := NewManagerWithStores(store)

	ic, err := manager.Resolve("shop", config.InstagramConfig{CSRFToken: "explicit"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ic.SessionID != "stored" || ic.CSRFToken != "explicit" || ic.UserAgent != "UA" {
		t.Errorf("Unexpected resolved config: %+v", ic)
	}

	full := config.InstagramConfig{SessionID: "a", CSRFToken: "b"}
	if got, err := NewManagerWithStores().Resolve("", full); err != nil || got != full {
		t.Errorf("Complete settings should pass through, got %+v (%v)", got, err)
	}

	if _, err := manager.Resolve("nobody", config.InstagramConfig{}); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
}

func TestSanitizeAccount(t *testing.T) {
	a := &Account{Username: "u", SessionID: "abcdefghijkl", CSRFToken: "short"}
	s := SanitizeAccount(a)
	if s.SessionID != "abcd...ijkl" {
		t.Errorf("Unexpected mask: %s", s.SessionID)
	}
	if s.CSRFToken != "********" {
		t.Errorf("Short secrets should be fully masked: %s", s.CSRFToken)
	}
	if a.SessionID != "abcdefghijkl" {
		t.Error("SanitizeAccount must not modify its input")
	}
	if SanitizeAccount(nil) != nil {
		t.Error("Expected nil for nil account")
	}
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	for _, a := range []*Account{
		{Username: "b_user", SessionID: "encrypted_session", CSRFToken: "encrypted_csrf"},
		{Username: "a_user", SessionID: "other_session", CSRFToken: "other_csrf"},
	} {
		if err := store.Store(a); err != nil {
			t.Fatalf("Failed to store in encrypted file: %v", err)
		}
	}

	retrieved, err := store.Retrieve("b_user")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.SessionID != "encrypted_session" {
		t.Errorf("SessionID mismatch after encryption/decryption")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(content, []byte("encrypted_session")) || bytes.Contains(content, []byte("encrypted_csrf")) {
		t.Error("File contains plaintext credentials")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	accounts, err := store.List()
	if err != nil || len(accounts) != 2 || accounts[0].Username != "a_user" {
		t.Errorf("Expected two sorted accounts, got %v (%v)", accounts, err)
	}

	// another passphrase cannot read the file
	t.Setenv(EnvPassphrase, "wrong")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Retrieve("b_user"); err == nil {
		t.Error("Expected decryption to fail with the wrong passphrase")
	}

	t.Setenv(EnvPassphrase, "test_passphrase_123")
	if err := store.Delete("a_user"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("b_user"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("File should be removed with its last account")
	}
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	first, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Store(&Account{Username: "u", SessionID: "s", CSRFToken: "c"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".passphrase")); err != nil {
		t.Fatalf("Expected a passphrase file: %v", err)
	}

	second, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Exists("u") {
		t.Error("A new store should reuse the saved passphrase")
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvSessionID, "env_session")
	t.Setenv(EnvCSRFToken, "env_csrf")
	t.Setenv(EnvUserAgent, "")

	store := NewEnvironmentStore()
	account, err := store.Retrieve("")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if account.Username != "default" || account.SessionID != "env_session" || account.CSRFToken != "env_csrf" {
		t.Errorf("Unexpected account: %+v", account)
	}
	if err := store.Store(&Account{}); err != ErrStoreUnavailable {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}

	t.Setenv(EnvCSRFToken, "")
	if store.Exists("") {
		t.Error("Credentials need both the session and the CSRF token")
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("Mock keyring should be available: %v", err)
	}
	for _, name := range []string{"zed", "amy"} {
		if err := store.Store(&Account{Username: name, SessionID: "s_" + name, CSRFToken: "c"}); err != nil {
			t.Fatal(err)
		}
	}

	accounts, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Username != "amy" || accounts[1].SessionID != "s_zed" {
		t.Errorf("Unexpected keyring listing: %+v", accounts)
	}

	if err := store.Delete("amy"); err != nil {
		t.Fatal(err)
	}
	if store.Exists("amy") {
		t.Error("Deleted account should be gone")
	}
	if err := store.Delete("amy"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
	accounts, _ = store.List()
	if len(accounts) != 1 {
		t.Errorf("Expected one account left, got %d", len(accounts))
	}
}
