package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
	validation "github.com/go-ozzo/ozzo-validation"
)

// Exchange statuses and actions.
const (
	StatusOK    = "OK"
	StatusError = "error"

	ActionRegister = "register"
	ActionLogin    = "login"
)

// ExchangeRequest is the body of an exchange call.
type ExchangeRequest struct {
	Login    string `json:"login" form:"login"`
	Password string `json:"password" form:"password"`
	// Remember selects the extended token validity window.
	Remember bool `json:"remember,omitempty" form:"remember"`
}

// Validate will validate the payload
func (r ExchangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Login, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// ExchangeResponse is the outcome of a completed exchange.
type ExchangeResponse struct {
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
	Name   string `json:"name"`
	JWT    string `json:"jwt,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Exchanger performs the login-or-register operation against the identity
// backend.
type Exchanger struct {
	backend     identity.Backend
	tokens      TokenIssuer
	logger      Logger
	metrics     *Metrics
	extendedTTL time.Duration
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithExchangeLogger sets the logger.
func WithExchangeLogger(l Logger) ExchangerOption {
	return func(e *Exchanger) {
		e.logger = l
	}
}

// WithExchangeMetrics sets the metrics sink.
func WithExchangeMetrics(m *Metrics) ExchangerOption {
	return func(e *Exchanger) {
		e.metrics = m
	}
}

// WithExtendedTTL sets the validity window used for requests with Remember
// set.  Zero disables extended tokens.
func WithExtendedTTL(ttl time.Duration) ExchangerOption {
	return func(e *Exchanger) {
		e.extendedTTL = ttl
	}
}

// NewExchanger returns an Exchanger.
func NewExchanger(backend identity.Backend, tokens TokenIssuer, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		backend: backend,
		tokens:  tokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = defaultLogger(e.logger)
	return e
}

// Exchange logs the account in, or registers it when it does not exist, and
// returns a response carrying a fresh token.  A wrong password is a
// completed exchange with StatusError and no token.  Missing fields yield
// ErrClientInput before any backend call; other failures are wrapped in
// ErrBackendUnavailable.
func (e *Exchanger) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	e.logger.Debug("exchange requested", "login", req.Login)

	if err := req.Validate(); err != nil {
		e.logger.Debug("exchange rejected", "login", req.Login, slogutil.KeyError, err)
		e.metrics.observeExchange(outcomeClientError)
		return nil, fmt.Errorf("%w: %w", ErrClientInput, err)
	}

	var (
		token   string
		account *identity.Account
	)
	err := e.backend.WithTransaction(ctx, req.Login, func(ctx context.Context, tx identity.Tx) (err error) {
		if token, err = e.issue(req); err != nil {
			return err
		}

		account, err = tx.FindAccountByName(ctx, req.Login)
		return err
	})

	var resp *ExchangeResponse
	if err == nil {
		if account == nil {
			resp, err = e.register(ctx, req, token)
		} else {
			resp, err = e.login(ctx, account, req, token)
		}
	}
	if err != nil {
		e.logger.Error("exchange failed", "login", req.Login, slogutil.KeyError, err)
		e.metrics.observeExchange(outcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	e.metrics.observeExchange(exchangeOutcome(resp))

	return resp, nil
}

func (e *Exchanger) issue(req ExchangeRequest) (string, error) {
	if req.Remember && e.extendedTTL > 0 {
		return e.tokens.IssueWithTTL(req.Login, e.extendedTTL)
	}
	return e.tokens.Issue(req.Login)
}

// register hashes the password outside of any transaction, then creates
// the account unless another exchange registered the name meanwhile, in which
// case it falls back to login.
func (e *Exchanger) register(ctx context.Context, req ExchangeRequest, token string) (*ExchangeResponse, error) {
	e.logger.Debug("account not found, registering", "login", req.Login)

	hash, err := e.backend.CreatePassword(ctx, req.Password)
	if err != nil {
		return nil, fmt.Errorf("creating password: %w", err)
	}

	var existing *identity.Account
	err = e.backend.WithTransaction(ctx, req.Login, func(ctx context.Context, tx identity.Tx) (err error) {
		existing, err = tx.FindAccountByName(ctx, req.Login)
		if err != nil || existing != nil {
			return err
		}

		_, err = tx.CreateAccount(ctx, req.Login, func(a *identity.Account) error {
			a.SetPassword(hash).SetPremium(false)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	if existing != nil {
		e.logger.Debug("account registered concurrently", "login", req.Login)
		return e.login(ctx, existing, req, token)
	}

	e.logger.Debug("account registered", "login", req.Login)

	return &ExchangeResponse{
		Status: StatusOK,
		Action: ActionRegister,
		Name:   req.Login,
		JWT:    token,
	}, nil
}

func (e *Exchanger) login(
	ctx context.Context,
	account *identity.Account,
	req ExchangeRequest,
	token string,
) (*ExchangeResponse, error) {
	e.logger.Debug("account found, verifying password", "login", req.Login)

	ok, err := e.backend.VerifyPassword(ctx, req.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	if !ok {
		e.logger.Debug("password mismatch", "login", req.Login)

		return &ExchangeResponse{
			Status: StatusError,
			Name:   req.Login,
			Error:  ErrCredentialMismatch.Error(),
		}, nil
	}

	e.logger.Debug("password verified", "login", req.Login)

	return &ExchangeResponse{
		Status: StatusOK,
		Action: ActionLogin,
		Name:   req.Login,
		JWT:    token,
	}, nil
}
