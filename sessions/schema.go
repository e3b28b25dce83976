package sessions

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Schema names the tables and columns of the web application's store.
type Schema struct {
	// UsersTable holds one row per web account.
	UsersTable string
	// UserIDColumn is the numeric primary key of UsersTable.
	UserIDColumn string
	// UsernameColumn holds the account name in UsersTable.
	UsernameColumn string

	// SessionsTable holds the web sessions.
	SessionsTable string
	// SessionUserIDColumn references UserIDColumn.
	SessionUserIDColumn string
}

// DefaultSchema returns the table layout of a stock Laravel application.
func DefaultSchema() Schema {
	return Schema{
		UsersTable:          "users",
		UserIDColumn:        "id",
		UsernameColumn:      "username",
		SessionsTable:       "sessions",
		SessionUserIDColumn: "user_id",
	}
}

// Validate will validate the schema.  Names come from configuration and are
// restricted to plain SQL identifiers, optionally schema qualified.
func (s Schema) Validate() error {
	ident := []validation.Rule{validation.Required, validation.Match(identifierRe)}

	return validation.ValidateStruct(&s,
		validation.Field(&s.UsersTable, ident...),
		validation.Field(&s.UserIDColumn, ident...),
		validation.Field(&s.UsernameColumn, ident...),
		validation.Field(&s.SessionsTable, ident...),
		validation.Field(&s.SessionUserIDColumn, ident...),
	)
}
