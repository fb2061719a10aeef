package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "clothscan"
	keyringPrefix  = "instagram_"
	// keyringIndex lists stored usernames, since keychains cannot be enumerated portably
	keyringIndex = "accounts"
)

// KeyringStore keeps accounts in the system keychain
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore checks the keychain and fails when it cannot be written
func NewKeyringStore() (*KeyringStore, error) {
	const availabilityKey = "test_availability"
	if err := keyring.Set(keyringService, availabilityKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, availabilityKey)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(keyringService, keyringPrefix+account.Username, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	names, err := k.names()
	if err != nil {
		return err
	}
	names[account.Username] = struct{}{}
	return k.saveNames(names)
}

func (k *KeyringStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	data, err := keyring.Get(keyringService, keyringPrefix+username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

// List returns the accounts named in the index; stale index entries are skipped
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	names, err := k.names()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	accounts := make([]*Account, 0, len(sorted))
	for _, n := range sorted {
		a, err := k.Retrieve(n)
		if err != nil {
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Delete(keyringService, keyringPrefix+username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	names, err := k.names()
	if err != nil {
		return err
	}
	delete(names, username)
	return k.saveNames(names)
}

func (k *KeyringStore) Exists(username string) bool {
	if username == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+username)
	return err == nil
}

func (k *KeyringStore) names() (map[string]struct{}, error) {
	names := make(map[string]struct{})
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to decode keyring index: %w", err)
	}
	for _, n := range list {
		names[n] = struct{}{}
	}
	return names, nil
}

func (k *KeyringStore) saveNames(names map[string]struct{}) error {
	if len(names) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keyring index: %w", err)
		}
		return nil
	}
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	sort.Strings(list)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring index: %w", err)
	}
	return nil
}
