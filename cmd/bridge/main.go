// Command bridge runs the identity bridge gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	bridge "github.com/ZinovevEzCode/BaronessLaravelBridge"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/config"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/notify"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/persistence"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/sessions"
)

// shutdownTimeout bounds the graceful stop of the server and the
// invalidator.
const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	verbose    bool
	rotateKey  bool
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %s\n", err)
		cancel()
		os.Exit(1)
	}
}

func parseOptions(args []string) (opts options, err error) {
	flagSet := pflag.NewFlagSet("bridge", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "config.yml", "path to the configuration file")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&opts.rotateKey, "rotate-key", false, "generate and save a new signing key on start")

	err = flagSet.Parse(args)

	return opts, err
}

func newLogger(output io.Writer, debug bool) (l *slog.Logger) {
	lvl := slog.LevelInfo
	if debug {
		lvl = slogutil.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})
}

func logOutput(conf *config.Config) (w io.Writer) {
	if conf.LogFile == "" {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   conf.LogFile,
		MaxSize:    conf.LogMaxSizeMB,
		MaxBackups: conf.LogMaxBackups,
		MaxAge:     conf.LogMaxAgeDays,
		Compress:   conf.LogCompress,
	}
}

// run starts all components in order and blocks until ctx is done or the
// server fails.
func run(ctx context.Context, opts options) (err error) {
	boot := newLogger(os.Stderr, opts.verbose)

	confStore, err := config.Load(ctx, boot, opts.configPath)
	if err != nil {
		return err
	}

	conf := confStore.Config()
	output := logOutput(conf)
	if c, ok := output.(io.Closer); ok {
		defer func() { err = errors.WithDeferred(err, c.Close()) }()
	}

	logger := newLogger(output, opts.verbose || conf.Debug)
	defer slogutil.RecoverAndLog(ctx, logger)

	keys := bridge.NewKeyManager(
		confStore,
		bridge.WithKeyManagerLogger(logger.With(slogutil.KeyPrefix, "keys")),
	)

	var key bridge.SigningKey
	if opts.rotateKey {
		key, err = keys.Rotate(ctx, conf.JWTSecret)
	} else {
		key, err = keys.ResolveKey(ctx, conf.JWTSecret)
	}
	if err != nil {
		return err
	}

	ts, err := newTokenService(key, conf, logger)
	if err != nil {
		return err
	}
	tokens := bridge.NewTokenHolder(ts)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	identityDB, err := persistence.Open(ctx, logger.With(slogutil.KeyPrefix, "identity_db"), conf.IdentityDatabase())
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, identityDB.Close()) }()

	accounts := identity.NewStore(identityDB, identity.WithLogger(logger.With(slogutil.KeyPrefix, "identity")))
	err = accounts.CreateSchema(ctx)
	if err != nil {
		return err
	}

	webDB, err := persistence.Open(ctx, logger.With(slogutil.KeyPrefix, "web_db"), conf.Database())
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, webDB.Close()) }()

	sessLogger := logger.With(slogutil.KeyPrefix, "sessions")
	invalidator, err := sessions.New(&sessions.Config{
		Logger:    sessLogger,
		Deleter:   sessions.NewStore(webDB),
		Messenger: notify.New(conf.NotifyURL, conf.NotifyTimeout, sessLogger),
		Metrics:   sessions.NewMetrics(reg),
		Schema:    schemaFromConfig(conf),
		Message:   conf.MessageToPlayer,
		Workers:   conf.Workers,
	})
	if err != nil {
		return err
	}
	unsubscribe := invalidator.Subscribe(accounts)

	metrics := bridge.NewMetrics(reg)
	httpLogger := logger.With(slogutil.KeyPrefix, "http")
	server := bridge.NewServer(bridge.ServerConfig{
		Exchanger: bridge.NewExchanger(
			accounts,
			tokens,
			bridge.WithExchangeLogger(httpLogger),
			bridge.WithExchangeMetrics(metrics),
			bridge.WithExtendedTTL(conf.ExtendedTokenTTL),
		),
		Tokens:         tokens,
		Passwords:      accounts,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Metrics:        metrics,
		Logger:         httpLogger,
	})

	r := &reloader{
		logger:      logger.With(slogutil.KeyPrefix, "reload"),
		baseLogger:  logger,
		keys:        keys,
		tokens:      tokens,
		invalidator: invalidator,
		secret:      key.Encode(),
	}
	confStore.Subscribe(r.onReload)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		defer slogutil.RecoverAndLog(watchCtx, logger)

		if werr := confStore.Watch(watchCtx); werr != nil {
			logger.ErrorContext(watchCtx, "configuration watcher stopped", slogutil.KeyError, werr)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(conf.HTTPAddress)
	}()

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
	case err = <-errCh:
		logger.ErrorContext(ctx, "server failed", slogutil.KeyError, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	unsubscribe()
	stopWatch()

	return errors.Join(
		err,
		server.Shutdown(shutdownCtx),
		invalidator.Shutdown(shutdownCtx),
	)
}

func newTokenService(key bridge.SigningKey, conf *config.Config, logger *slog.Logger) (*bridge.TokenService, error) {
	return bridge.NewTokenService(
		key,
		bridge.WithTokenTTL(conf.TokenTTL),
		bridge.WithMaxTokenTTL(conf.ExtendedTokenTTL),
		bridge.WithIssuer(conf.Issuer),
		bridge.WithTokenLogger(logger.With(slogutil.KeyPrefix, "tokens")),
	)
}

func schemaFromConfig(conf *config.Config) sessions.Schema {
	return sessions.Schema{
		UsersTable:          conf.TableUsers,
		UserIDColumn:        conf.ColumnUserID,
		UsernameColumn:      conf.ColumnUsername,
		SessionsTable:       conf.TableSessions,
		SessionUserIDColumn: conf.ColumnSessionUserID,
	}
}
