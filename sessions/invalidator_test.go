package sessions_test

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/sessions"
)

// MockMessenger implements notify.Messenger
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Notify(ctx context.Context, player, message string) (bool, error) {
	args := m.Called(ctx, player, message)
	return args.Bool(0), args.Error(1)
}

// syncBuffer is a bytes.Buffer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newWebDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "web.db") + "?_busy_timeout=5000"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, q := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL UNIQUE)`,
		`CREATE TABLE sessions (id TEXT PRIMARY KEY, user_id INTEGER, payload TEXT)`,
		`INSERT INTO users (id, username) VALUES (1, 'alice'), (2, 'bob')`,
		`INSERT INTO sessions (id, user_id, payload) VALUES
			('s1', 1, ''), ('s2', 1, ''), ('s3', 1, ''), ('s4', 2, ''), ('s5', NULL, '')`,
	} {
		_, err = db.ExecContext(ctx, q)
		require.NoError(t, err)
	}

	return db
}

func countSessions(t *testing.T, db *bun.DB) int {
	t.Helper()

	n, err := db.NewSelect().TableExpr("sessions").Count(context.Background())
	require.NoError(t, err)

	return n
}

type fixture struct {
	inv       *sessions.Invalidator
	db        *bun.DB
	logs      *syncBuffer
	messenger *MockMessenger
	reg       *prometheus.Registry
}

func newFixture(t *testing.T, schema sessions.Schema) *fixture {
	t.Helper()

	db := newWebDB(t)
	logs := &syncBuffer{}
	messenger := &MockMessenger{}
	reg := prometheus.NewRegistry()

	inv, err := sessions.New(&sessions.Config{
		Logger: slogutil.New(&slogutil.Config{
			Output:       logs,
			Format:       slogutil.FormatText,
			Level:        slogutil.LevelDebug,
			AddTimestamp: false,
		}),
		Deleter:   sessions.NewStore(db),
		Messenger: messenger,
		Metrics:   sessions.NewMetrics(reg),
		Schema:    schema,
		Message:   "&cSession reset failed",
		Workers:   2,
	})
	require.NoError(t, err)

	return &fixture{
		inv:       inv,
		db:        db,
		logs:      logs,
		messenger: messenger,
		reg:       reg,
	}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.inv.Shutdown(ctx))
}

func TestInvalidator_DeletesSessions(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())

	require.NoError(t, f.inv.OnPasswordChanged("alice"))
	f.drain(t)

	assert.Equal(t, 2, countSessions(t, f.db))
	assert.Contains(t, f.logs.String(), "sessions reset")
	assert.Contains(t, f.logs.String(), "name=alice count=3")
	f.messenger.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)

	err := testutil.GatherAndCompare(f.reg, strings.NewReader(`
# HELP bridge_sessions_deleted_total Web session rows deleted after password changes.
# TYPE bridge_sessions_deleted_total counter
bridge_sessions_deleted_total 3
`), "bridge_sessions_deleted_total")
	assert.NoError(t, err)
}

func TestInvalidator_UnknownPlayer(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())

	require.NoError(t, f.inv.OnPasswordChanged("mallory"))
	f.drain(t)

	assert.Equal(t, 5, countSessions(t, f.db))
	assert.Contains(t, f.logs.String(), "level=WARN")
	assert.Contains(t, f.logs.String(), "player not found")
	assert.Contains(t, f.logs.String(), "name=mallory")
	f.messenger.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidator_NoSessions(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())

	require.NoError(t, f.inv.OnPasswordChanged("bob"))
	require.NoError(t, f.inv.OnPasswordChanged("bob"))
	f.drain(t)

	assert.Equal(t, 4, countSessions(t, f.db))
	assert.Contains(t, f.logs.String(), "name=bob count=1")
	assert.Contains(t, f.logs.String(), "name=bob count=0")
}

func TestInvalidator_FailureNotifiesPlayer(t *testing.T) {
	schema := sessions.DefaultSchema()
	schema.SessionsTable = "missing_sessions"

	f := newFixture(t, schema)
	f.messenger.On("Notify", mock.Anything, "alice", "§cSession reset failed").Return(true, nil).Once()

	require.NoError(t, f.inv.OnPasswordChanged("alice"))
	f.drain(t)

	f.messenger.AssertExpectations(t)
	assert.Contains(t, f.logs.String(), "level=ERROR")
	assert.Contains(t, f.logs.String(), "resetting sessions")

	// The transaction was rolled back and nothing was deleted.
	assert.Equal(t, 5, countSessions(t, f.db))
}

func TestInvalidator_FailureMessengerError(t *testing.T) {
	schema := sessions.DefaultSchema()
	schema.UsersTable = "missing_users"

	f := newFixture(t, schema)
	f.messenger.On("Notify", mock.Anything, "alice", mock.Anything).Return(false, errors.Error("proxy down")).Once()

	require.NoError(t, f.inv.OnPasswordChanged("alice"))
	f.drain(t)

	f.messenger.AssertExpectations(t)
	assert.Contains(t, f.logs.String(), "notifying player")
}

func TestInvalidator_Shutdown(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())
	f.drain(t)

	err := f.inv.OnPasswordChanged("alice")
	assert.ErrorIs(t, err, sessions.ErrShutdown)
	assert.Equal(t, 5, countSessions(t, f.db))
}

// blockingDeleter blocks until release is closed and records the peak
// number of concurrent calls.
type blockingDeleter struct {
	release chan struct{}
	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (d *blockingDeleter) DeleteByName(_ context.Context, _ sessions.Schema, _ string) (int64, bool, error) {
	n := d.current.Add(1)
	defer d.current.Add(-1)

	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}

	d.calls.Add(1)
	<-d.release

	return 1, true, nil
}

func TestInvalidator_Bounded(t *testing.T) {
	deleter := &blockingDeleter{release: make(chan struct{})}

	inv, err := sessions.New(&sessions.Config{
		Logger:  slogutil.NewDiscardLogger(),
		Deleter: deleter,
		Schema:  sessions.DefaultSchema(),
		Workers: 2,
	})
	require.NoError(t, err)

	const events = 10
	for range events {
		start := time.Now()
		require.NoError(t, inv.OnPasswordChanged("alice"))
		assert.Less(t, time.Since(start), time.Second, "event source must not block")
	}

	require.Eventually(t, func() bool {
		return deleter.current.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("shutdown times out while work is blocked", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, inv.Shutdown(ctx), context.DeadlineExceeded)
	})

	close(deleter.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, inv.Shutdown(ctx))

	assert.Equal(t, int32(events), deleter.calls.Load())
	assert.LessOrEqual(t, deleter.peak.Load(), int32(2))
}

func TestInvalidator_Subscribe(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())

	b := identity.NewBroadcaster()
	unsubscribe := f.inv.Subscribe(b)

	b.Publish(identity.PasswordChanged{Name: "alice", At: time.Now()})
	unsubscribe()
	b.Publish(identity.PasswordChanged{Name: "bob", At: time.Now()})

	f.drain(t)

	assert.Equal(t, 2, countSessions(t, f.db))
	assert.NotContains(t, f.logs.String(), "name=bob")
}

func TestInvalidator_Reconfigure(t *testing.T) {
	f := newFixture(t, sessions.DefaultSchema())

	bad := sessions.DefaultSchema()
	bad.UsersTable = "users; DROP TABLE users"
	assert.Error(t, f.inv.Reconfigure(bad, "msg"))

	renamed := sessions.DefaultSchema()
	renamed.SessionsTable = "missing_sessions"
	require.NoError(t, f.inv.Reconfigure(renamed, "&eTry again"))

	f.messenger.On("Notify", mock.Anything, "alice", "§eTry again").Return(false, nil).Once()

	require.NoError(t, f.inv.OnPasswordChanged("alice"))
	f.drain(t)

	f.messenger.AssertExpectations(t)
}

func TestSchema_Validate(t *testing.T) {
	assert.NoError(t, sessions.DefaultSchema().Validate())

	qualified := sessions.DefaultSchema()
	qualified.UsersTable = "web.users"
	assert.NoError(t, qualified.Validate())

	for _, name := range []string{"", "1users", "users--", "users`", `us"ers`, "a.b.c", "users; DROP"} {
		s := sessions.DefaultSchema()
		s.SessionsTable = name
		assert.Error(t, s.Validate(), name)
	}

	_, err := sessions.New(&sessions.Config{
		Logger: slogutil.NewDiscardLogger(),
		Schema: sessions.Schema{},
	})
	assert.Error(t, err)
}
