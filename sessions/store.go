package sessions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/uptrace/bun"
)

// ErrStorageFailure wraps errors of the web application's store.
const ErrStorageFailure errors.Error = "session storage failure"

// Store deletes web sessions from the web application's store.
type Store struct {
	db bun.IDB
}

// NewStore returns a Store using db.
func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

// DeleteByName resolves name to the account id and deletes all sessions of
// that account in one transaction.  found is false when no account is
// called name.
func (s *Store) DeleteByName(ctx context.Context, schema Schema, name string) (deleted int64, found bool, err error) {
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) (txErr error) {
		var id int64
		id, found, txErr = findUserID(ctx, tx, schema, name)
		if txErr != nil || !found {
			return txErr
		}

		deleted, txErr = deleteSessions(ctx, tx, schema, id)

		return txErr
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return deleted, found, nil
}

func findUserID(ctx context.Context, db bun.IDB, schema Schema, name string) (id int64, found bool, err error) {
	err = db.NewSelect().
		TableExpr("?", bun.Ident(schema.UsersTable)).
		ColumnExpr("?", bun.Ident(schema.UserIDColumn)).
		Where("? = ?", bun.Ident(schema.UsernameColumn), name).
		Limit(1).
		Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("finding user id: %w", err)
	}

	return id, true, nil
}

func deleteSessions(ctx context.Context, db bun.IDB, schema Schema, userID int64) (int64, error) {
	res, err := db.NewDelete().
		TableExpr("?", bun.Ident(schema.SessionsTable)).
		Where("? = ?", bun.Ident(schema.SessionUserIDColumn), userID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted sessions: %w", err)
	}

	return n, nil
}
