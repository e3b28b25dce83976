package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is a player account.
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                uuid.UUID  `bun:"id,pk,type:varchar(36)" json:"id"`
	Name              string     `bun:"name,notnull,unique" json:"name"`
	PasswordHash      string     `bun:"password_hash,notnull" json:"-"`
	Premium           bool       `bun:"premium,notnull" json:"premium"`
	PasswordChangedAt *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// SetPassword stores an already prepared password hash.
func (a *Account) SetPassword(hash string) *Account {
	a.PasswordHash = hash
	return a
}

// SetPremium marks the account as premium or not.
func (a *Account) SetPremium(premium bool) *Account {
	a.Premium = premium
	return a
}

func prepareAccountDefaults(a *Account, now time.Time) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// PasswordChanged is emitted after an account's password was changed and
// the change committed.
type PasswordChanged struct {
	Name string
	At   time.Time
}
