package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/middleware/jwtware"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// errPasswordTooLong is a client input error with its own message.
const errPasswordTooLong errors.Error = "password is too long"

// PasswordChanger is the part of the identity backend the password route
// needs.
type PasswordChanger interface {
	FindAccountByName(ctx context.Context, name string) (*identity.Account, error)
	VerifyPassword(ctx context.Context, plain, hash string) (bool, error)
	ChangePassword(ctx context.Context, name, plain string) error
}

var _ PasswordChanger = (*identity.Store)(nil)

// Controller holds the gateway's route handlers.
type Controller struct {
	Exchanger *Exchanger
	Tokens    TokenValidator
	Passwords PasswordChanger
	Metrics   *Metrics
	Logger    Logger
}

type claimsValidator interface {
	ValidateClaims(token string) (*SessionClaims, error)
}

// badRequest carries a message that is safe to return to the client.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

// handle maps errors returned by h to responses.  Internal details are
// logged, never returned.
func (a *Controller) handle(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		err := h(ctx)
		if err == nil {
			return nil
		}

		var br *badRequest
		switch {
		case errors.As(err, &br):
			return ctx.JSON(router.StatusBadRequest, errorBody{
				Status: StatusError,
				Error:  br.msg,
			})
		case errors.Is(err, ErrClientInput):
			return ctx.JSON(router.StatusBadRequest, errorBody{
				Status: StatusError,
				Error:  ErrClientInput.Error(),
			})
		case IsUnauthorized(err):
			return ctx.Status(router.StatusUnauthorized).SendString(jwtware.UnauthorizedBody)
		default:
			a.Logger.Error("request failed", "path", ctx.Path(), slogutil.KeyError, err)
			return ctx.JSON(http.StatusInternalServerError, errorBody{
				Status: StatusError,
				Error:  "internal server error",
			})
		}
	}
}

// Exchange handles POST /api/exchange.
func (a *Controller) Exchange(ctx router.Context) error {
	payload := new(ExchangeRequest)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Debug("exchange parse payload", slogutil.KeyError, err)
		return fmt.Errorf("%w: %w", ErrClientInput, err)
	}

	if len(payload.Password) > MaxPasswordBytes {
		return &badRequest{msg: errPasswordTooLong.Error()}
	}

	resp, err := a.Exchanger.Exchange(ctx.Context(), *payload)
	if err != nil {
		return err
	}

	a.Logger.Debug("exchange response", "login", payload.Login, "body", print.MaybePrettyJSON(redacted(resp)))

	return ctx.JSON(router.StatusOK, resp)
}

// Me handles GET /api/me.
func (a *Controller) Me(ctx router.Context) error {
	subject, ok := SubjectFromRouter(ctx)
	if !ok {
		return ErrUnauthorized
	}

	res := map[string]any{
		"status": StatusOK,
		"name":   subject,
	}

	if cv, ok := a.Tokens.(claimsValidator); ok {
		raw, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors(jwtware.DefaultTokenLookup))
		if err == nil {
			if claims, err := cv.ValidateClaims(raw); err == nil {
				res["expires_at"] = claims.Expires().UTC().Format(time.RFC3339)
			}
		}
	}

	return ctx.JSON(router.StatusOK, res)
}

// ChangePasswordPayload is the body of a password change.
type ChangePasswordPayload struct {
	Password    string `json:"password" form:"password"`
	NewPassword string `json:"new_password" form:"new_password"`
}

// Validate will validate the payload
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
		validation.Field(
			&r.NewPassword,
			validation.Required,
			validation.By(maxBytes(MaxPasswordBytes)),
		),
	)
}

// ChangePassword handles POST /api/password for the authenticated account.
// The identity backend notifies password change subscribers on success.
func (a *Controller) ChangePassword(ctx router.Context) error {
	subject, ok := SubjectFromRouter(ctx)
	if !ok {
		return ErrUnauthorized
	}

	payload := new(ChangePasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return &badRequest{msg: "failed to parse body"}
	}

	if err := payload.Validate(); err != nil {
		a.Metrics.observePasswordChange(outcomeClientError)
		return &badRequest{msg: err.Error()}
	}

	reqCtx := ctx.Context()

	account, err := a.Passwords.FindAccountByName(reqCtx, subject)
	if err != nil {
		a.Metrics.observePasswordChange(outcomeFailure)
		return fmt.Errorf("finding account: %w", err)
	}
	if account == nil {
		// The token outlived the account.
		a.Metrics.observePasswordChange(outcomeFailure)
		return ErrUnauthorized
	}

	valid, err := a.Passwords.VerifyPassword(reqCtx, payload.Password, account.PasswordHash)
	if err != nil {
		a.Metrics.observePasswordChange(outcomeFailure)
		return fmt.Errorf("verifying password: %w", err)
	}
	if !valid {
		a.Logger.Debug("password change rejected", "name", subject)
		a.Metrics.observePasswordChange(outcomeMismatch)
		return ctx.JSON(router.StatusOK, errorBody{
			Status: StatusError,
			Error:  ErrCredentialMismatch.Error(),
		})
	}

	if err = a.Passwords.ChangePassword(reqCtx, subject, payload.NewPassword); err != nil {
		a.Metrics.observePasswordChange(outcomeFailure)
		return err
	}

	a.Logger.Debug("password changed", "name", subject)
	a.Metrics.observePasswordChange(outcomeChanged)

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": StatusOK,
		"name":   subject,
	})
}

func maxBytes(n int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return errors.Error(fmt.Sprintf("must be at most %d bytes", n))
		}
		return nil
	}
}

func redacted(resp *ExchangeResponse) ExchangeResponse {
	out := *resp
	if out.JWT != "" {
		out.JWT = "[redacted]"
	}
	return out
}
