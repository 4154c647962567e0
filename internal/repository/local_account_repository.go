package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

const accountsKey = "accounts"

// ErrDuplicateEmail is returned when an account with the same email exists.
var ErrDuplicateEmail = errors.New("account email already registered")

// LocalAccountRepository keeps teacher accounts in device-local storage.
type LocalAccountRepository struct {
	store keyValueStore
	mu    sync.Mutex
}

// NewLocalAccountRepository constructs a LocalAccountRepository.
func NewLocalAccountRepository(store keyValueStore) *LocalAccountRepository {
	return &LocalAccountRepository{store: store}
}

// FindByEmail returns the account for email or sql.ErrNoRows.
func (r *LocalAccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.read()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &account, nil
}

// Create stores a new account. Emails are unique case-insensitively.
func (r *LocalAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.read()
	if err != nil {
		return err
	}
	key := strings.ToLower(account.Email)
	if _, exists := accounts[key]; exists {
		return ErrDuplicateEmail
	}
	accounts[key] = *account

	payload, err := json.Marshal(accountsOnDisk(accounts))
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	return r.store.SetItem(accountsKey, payload)
}

// storedAccount keeps the password hash in the stored document; the model
// hides it from API JSON.
type storedAccount struct {
	models.Account
	PasswordHash string `json:"passwordHash"`
}

func accountsOnDisk(accounts map[string]models.Account) map[string]storedAccount {
	out := make(map[string]storedAccount, len(accounts))
	for k, a := range accounts {
		out[k] = storedAccount{Account: a, PasswordHash: a.PasswordHash}
	}
	return out
}

func (r *LocalAccountRepository) read() (map[string]models.Account, error) {
	raw, err := r.store.GetItem(accountsKey)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return map[string]models.Account{}, nil
		}
		return nil, err
	}
	var stored map[string]storedAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	accounts := make(map[string]models.Account, len(stored))
	for k, s := range stored {
		a := s.Account
		a.PasswordHash = s.PasswordHash
		accounts[k] = a
	}
	return accounts, nil
}
