package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangePasswordSQL replaces the password hash of the named account and
// returns the updated row.
var ChangePasswordSQL = `UPDATE "accounts"
SET
	"password_hash" = ?,
	"password_changed_at" = ?,
	"updated_at" = ?
WHERE
	"name" = ?
RETURNING *;`

// lockStripes is the number of per-name locks.  Names hashing to the same
// stripe share a lock.
const lockStripes = 64

// Tx is the set of account operations available inside a transaction.
type Tx interface {
	// FindAccountByName returns the account called name, or nil and no
	// error when there is none.
	FindAccountByName(ctx context.Context, name string) (*Account, error)

	// CreateAccount inserts a new account called name after init has
	// prepared it.
	CreateAccount(ctx context.Context, name string, init func(*Account) error) (*Account, error)
}

// Backend is the identity backend as seen by the bridge.
type Backend interface {
	Notifier

	// WithTransaction runs fn in a transaction for the account called name.
	// Transactions for the same name are serialized, so a lookup followed by
	// a create cannot interleave with another transaction doing the same.
	WithTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx Tx) error) error

	// CreatePassword prepares the stored form of a plain password.
	CreatePassword(ctx context.Context, plain string) (string, error)

	// VerifyPassword reports whether plain matches the stored hash.
	VerifyPassword(ctx context.Context, plain, hash string) (bool, error)
}

// NewAccountsRepository returns the accounts repository, looking accounts up
// by name.
func NewAccountsRepository(db *bun.DB) repository.Repository[*Account] {
	return repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})
}

// Store is a Backend persisting accounts with bun.
type Store struct {
	db       *bun.DB
	accounts repository.Repository[*Account]
	locks    [lockStripes]sync.Mutex
	events   *Broadcaster
	hashCost int
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ Backend                       = (*Store)(nil)
	_ repository.TransactionManager = (*Store)(nil)
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHashCost sets the bcrypt cost of new passwords.
func WithHashCost(cost int) StoreOption {
	return func(s *Store) {
		if cost > 0 {
			s.hashCost = cost
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store using db.  Call CreateSchema before first use on
// an empty database.
func NewStore(db *bun.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:       db,
		accounts: NewAccountsRepository(db),
		events:   NewBroadcaster(),
		hashCost: DefaultHashCost,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateSchema creates the accounts table if it does not exist.
func (s *Store) CreateSchema(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "identity: creating schema: %w") }()

	_, err = s.db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx)

	return err
}

// Subscribe implements the Notifier interface for *Store.
func (s *Store) Subscribe(fn func(PasswordChanged)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// RunInTx implements the repository.TransactionManager interface for *Store.
func (s *Store) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

// WithTransaction implements the Backend interface for *Store.
func (s *Store) WithTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx Tx) error) error {
	unlock := s.lock(name)
	defer unlock()

	return s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &storeTx{tx: tx, accounts: s.accounts, now: s.now})
	})
}

// lock acquires the stripe guarding name and returns its release.
func (s *Store) lock(name string) (unlock func()) {
	mu := &s.locks[stripeOf(name)]
	mu.Lock()

	return mu.Unlock
}

func stripeOf(name string) uint64 {
	return xxhash.Sum64String(name) % lockStripes
}

// CreatePassword implements the Backend interface for *Store.
func (s *Store) CreatePassword(_ context.Context, plain string) (string, error) {
	return HashPassword(plain, s.hashCost)
}

// VerifyPassword implements the Backend interface for *Store.
func (s *Store) VerifyPassword(_ context.Context, plain, hash string) (bool, error) {
	return ComparePasswordAndHash(plain, hash)
}

// FindAccountByName returns the account called name outside of any
// transaction.
func (s *Store) FindAccountByName(ctx context.Context, name string) (*Account, error) {
	return findAccountByName(ctx, s.accounts, s.db, name)
}

// ChangePassword replaces the password of the account called name and, once
// committed, notifies subscribers.  The hash is computed before the name is
// locked.
func (s *Store) ChangePassword(ctx context.Context, name, plain string) (err error) {
	defer func() { err = errors.Annotate(err, "identity: changing password of %q: %w", name) }()

	hash, err := s.CreatePassword(ctx, plain)
	if err != nil {
		return err
	}

	now := s.now()

	unlock := s.lock(name)
	err = s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		updated, uerr := s.accounts.RawTx(ctx, tx, ChangePasswordSQL, hash, now, now, name)
		if uerr != nil {
			return uerr
		}

		if len(updated) == 0 {
			return ErrAccountNotFound
		}

		return nil
	})
	unlock()
	if err != nil {
		return err
	}

	s.logger.Debug("password changed", "name", name)
	s.events.Publish(PasswordChanged{Name: name, At: now})

	return nil
}

type storeTx struct {
	tx       bun.Tx
	accounts repository.Repository[*Account]
	now      func() time.Time
}

var _ Tx = (*storeTx)(nil)

// FindAccountByName implements the Tx interface for *storeTx.
func (t *storeTx) FindAccountByName(ctx context.Context, name string) (*Account, error) {
	return findAccountByName(ctx, t.accounts, t.tx, name)
}

// CreateAccount implements the Tx interface for *storeTx.  A name taken by
// a writer outside this process yields ErrAccountExists.
func (t *storeTx) CreateAccount(ctx context.Context, name string, init func(*Account) error) (*Account, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	account := &Account{Name: name}
	if init != nil {
		if err := init(account); err != nil {
			return nil, fmt.Errorf("initializing account: %w", err)
		}
	}
	account.Name = name
	prepareAccountDefaults(account, t.now())

	created, err := t.accounts.CreateTx(ctx, t.tx, account)
	if err != nil {
		existing, ferr := findAccountByName(ctx, t.accounts, t.tx, name)
		if ferr == nil && existing != nil {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}

	return created, nil
}

func findAccountByName(
	ctx context.Context,
	accounts repository.Repository[*Account],
	db bun.IDB,
	name string,
) (*Account, error) {
	account, err := accounts.GetByIdentifierTx(ctx, db, name)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding account %q: %w", name, err)
	}

	return account, nil
}
