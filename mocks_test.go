package bridge_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
)

// MockBackend implements identity.Backend
type MockBackend struct {
	mock.Mock
	Tx *MockTx

	inTx bool
	// CalledInTx lists the password methods invoked while a transaction was
	// open.
	CalledInTx []string
}

func newMockBackend() *MockBackend {
	return &MockBackend{Tx: &MockTx{}}
}

func (m *MockBackend) Subscribe(fn func(identity.PasswordChanged)) func() {
	m.Called(fn)
	return func() {}
}

func (m *MockBackend) WithTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx identity.Tx) error) error {
	args := m.Called(ctx, name)
	if err := args.Error(0); err != nil {
		return err
	}

	m.inTx = true
	defer func() { m.inTx = false }()

	return fn(ctx, m.Tx)
}

func (m *MockBackend) CreatePassword(ctx context.Context, plain string) (string, error) {
	if m.inTx {
		m.CalledInTx = append(m.CalledInTx, "CreatePassword")
	}
	args := m.Called(ctx, plain)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) VerifyPassword(ctx context.Context, plain, hash string) (bool, error) {
	if m.inTx {
		m.CalledInTx = append(m.CalledInTx, "VerifyPassword")
	}
	args := m.Called(ctx, plain, hash)
	return args.Bool(0), args.Error(1)
}

// MockTx implements identity.Tx
type MockTx struct {
	mock.Mock
}

func (m *MockTx) FindAccountByName(ctx context.Context, name string) (*identity.Account, error) {
	args := m.Called(ctx, name)
	if acc := args.Get(0); acc != nil {
		return acc.(*identity.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTx) CreateAccount(ctx context.Context, name string, init func(*identity.Account) error) (*identity.Account, error) {
	args := m.Called(ctx, name)

	acc := &identity.Account{Name: name}
	if init != nil {
		if err := init(acc); err != nil {
			return nil, err
		}
	}

	if err := args.Error(0); err != nil {
		return nil, err
	}

	return acc, nil
}

// MockTokenIssuer implements bridge.TokenIssuer
type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) Issue(subject string) (string, error) {
	args := m.Called(subject)
	return args.String(0), args.Error(1)
}

func (m *MockTokenIssuer) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	args := m.Called(subject, ttl)
	return args.String(0), args.Error(1)
}

// MockPasswordChanger implements bridge.PasswordChanger
type MockPasswordChanger struct {
	mock.Mock
}

func (m *MockPasswordChanger) FindAccountByName(ctx context.Context, name string) (*identity.Account, error) {
	args := m.Called(ctx, name)
	if acc := args.Get(0); acc != nil {
		return acc.(*identity.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPasswordChanger) VerifyPassword(ctx context.Context, plain, hash string) (bool, error) {
	args := m.Called(ctx, plain, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordChanger) ChangePassword(ctx context.Context, name, plain string) error {
	args := m.Called(ctx, name, plain)
	return args.Error(0)
}
