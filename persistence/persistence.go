// Package persistence opens pooled bun connections to the relational stores
// the bridge works with.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// Drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrUnknownDriver is returned by Open for an unsupported driver.
const ErrUnknownDriver errors.Error = "unknown database driver"

// Pool defaults.
const (
	DefaultMaxOpenConns    = 20
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultConnMaxIdleTime = 10 * time.Minute
	DefaultConnectTimeout  = 15 * time.Second
	DefaultPingTimeout     = 3 * time.Second
)

// Config describes a database connection.
type Config struct {
	Driver   string
	Host     string
	Database string
	User     string
	Password string
	// Path is the database file for DriverSQLite.
	Path string

	Port int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// Debug logs every query.
	Debug bool
}

func (c *Config) withDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Open connects to the database described by c and checks the connection.
func Open(ctx context.Context, logger *slog.Logger, c Config) (db *bun.DB, err error) {
	defer func() { err = errors.Annotate(err, "opening %s database: %w", c.Driver) }()

	c.withDefaults()

	switch c.Driver {
	case DriverMySQL:
		db, err = openMySQL(c)
	case DriverSQLite:
		db, err = openSQLite(c)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if err != nil {
		return nil, err
	}

	if c.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	err = db.PingContext(pingCtx)
	if err != nil {
		return nil, errors.WithDeferred(err, db.Close())
	}

	logger.InfoContext(ctx, "database connected", "driver", c.Driver, "max_open", c.MaxOpenConns)

	return db, nil
}

func openMySQL(c Config) (*bun.DB, error) {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Timeout = c.ConnectTimeout
	mc.ReadTimeout = DefaultPingTimeout * 10
	mc.WriteTimeout = DefaultPingTimeout * 10

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}

	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(c.MaxOpenConns)
	sqldb.SetMaxIdleConns(c.MaxIdleConns)
	sqldb.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	return bun.NewDB(sqldb, mysqldialect.New()), nil
}

func openSQLite(c Config) (*bun.DB, error) {
	if c.Path == "" {
		return nil, errors.Error("sqlite path is required")
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, SQLiteDSN(c.Path))
	if err != nil {
		return nil, err
	}

	// SQLite serializes writers.  One connection avoids lock errors.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// SQLiteDSN returns the data source name for the sqlite file at path.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_busy_timeout=5000"
}
