package bridge

import (
	"context"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-router"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/middleware/jwtware"
)

// Route paths.
const (
	RouteAPI      = "/api"
	RouteExchange = RouteAPI + "/exchange"
	RouteMe       = RouteAPI + "/me"
	RoutePassword = RouteAPI + "/password"
	RouteMetrics  = "/metrics"
	RouteHealth   = "/healthz"
)

// ServerConfig holds the collaborators of the HTTP gateway.
type ServerConfig struct {
	// Exchanger is required.
	Exchanger *Exchanger
	// Tokens is required.
	Tokens TokenValidator
	// Passwords enables the password change route when set.
	Passwords PasswordChanger
	// MetricsHandler is served on RouteMetrics when set.
	MetricsHandler http.Handler
	Metrics        *Metrics
	Logger         Logger
}

// Server is the HTTP gateway.
type Server struct {
	srv        router.Server[*fiber.App]
	controller *Controller
	logger     Logger
}

// NewServer builds the fiber backed router and mounts all routes.
func NewServer(cfg ServerConfig) *Server {
	logger := defaultLogger(cfg.Logger)

	s := &Server{
		logger: logger,
		controller: &Controller{
			Exchanger: cfg.Exchanger,
			Tokens:    cfg.Tokens,
			Passwords: cfg.Passwords,
			Metrics:   cfg.Metrics,
			Logger:    logger,
		},
	}

	s.srv = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          s.fiberErrorHandler,
		})
		app.Use(recover.New())

		if cfg.MetricsHandler != nil {
			app.Get(RouteMetrics, adaptor.HTTPHandler(cfg.MetricsHandler))
		}

		return app
	})

	protected := jwtware.New(jwtware.Config{
		TokenValidator:  cfg.Tokens,
		ContextEnricher: WithSubject,
		ErrorHandler:    s.unauthorizedHandler(cfg.Metrics),
		ValidationListeners: []jwtware.ValidationListener{
			s.acceptanceListener(cfg.Metrics),
		},
	})

	RegisterGatewayRoutes(s.srv.Router(), s.controller, protected)

	return s
}

// RegisterGatewayRoutes mounts the gateway routes on app.  The exchange
// route is public, every other route under RouteAPI runs protected first.
func RegisterGatewayRoutes[T any](app router.Router[T], c *Controller, protected router.MiddlewareFunc) {
	app.Get(RouteHealth, func(ctx router.Context) error {
		return ctx.SendString("OK")
	})

	api := app.Group(RouteAPI)

	api.Post(trimAPI(RouteExchange), c.handle(c.Exchange))
	api.Get(trimAPI(RouteMe), c.handle(c.Me), protected)
	if c.Passwords != nil {
		api.Post(trimAPI(RoutePassword), c.handle(c.ChangePassword), protected)
	}

	// Unknown routes are still rejected without a valid token.
	api.Get("/*", c.handle(notFound), protected)
	api.Post("/*", c.handle(notFound), protected)
}

func trimAPI(route string) string {
	return route[len(RouteAPI):]
}

func notFound(ctx router.Context) error {
	return ctx.JSON(http.StatusNotFound, errorBody{
		Status: StatusError,
		Error:  "not found",
	})
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.srv.WrappedRouter()
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("rest api listening", "addr", addr)

	err := s.srv.Serve(addr)
	if err != nil {
		return errors.Annotate(err, "listening on %s: %w", addr)
	}

	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("rest api stopped")

	return nil
}

func (s *Server) unauthorizedHandler(m *Metrics) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		s.logger.Debug("bearer check failed", "path", ctx.Path(), slogutil.KeyError, err)
		m.observeTokenRejection()
		return ctx.Status(router.StatusUnauthorized).SendString(jwtware.UnauthorizedBody)
	}
}

func (s *Server) acceptanceListener(m *Metrics) jwtware.ValidationListener {
	return func(ctx router.Context, subject string) error {
		s.logger.Debug("bearer accepted", "path", ctx.Path(), "name", subject)
		m.observeTokenAcceptance()
		return nil
	}
}

// fiberErrorHandler covers errors that never reach a controller, such as
// recovered panics and unmatched routes.
func (s *Server) fiberErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody{
			Status: StatusError,
			Error:  fe.Message,
		})
	}

	s.logger.Error("request failed", "path", c.Path(), slogutil.KeyError, err)

	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{
		Status: StatusError,
		Error:  "internal server error",
	})
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
