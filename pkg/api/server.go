package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/deposit"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
)

// Server is the public deposit registration API.
type Server struct {
	e           *echo.Echo
	addresses   *deposit.AddressManager
	store       db.Store
	nativeChain types.BridgeChainId
	evmChain    types.BridgeChainId
	evmName     string
	opts        config.ApiConfig
	now         func() time.Time
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func NewServer(cfg *config.Config, addresses *deposit.AddressManager, store db.Store) *Server {
	opts := cfg.Api
	if opts.MaxMessageAge == 0 {
		opts.MaxMessageAge = 300 * time.Second
	}
	if opts.MaxClockSkew == 0 {
		opts.MaxClockSkew = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	evmName := cfg.Evm.Name
	if evmName == "" {
		evmName = "ethereum"
	}
	s := &Server{
		addresses:   addresses,
		store:       store,
		nativeChain: cfg.NativeChainID(),
		evmChain:    cfg.EvmChainID(),
		evmName:     evmName,
		opts:        opts,
		now:         time.Now,
	}
	s.routes()
	return s
}

// WithClock replaces the clock used for timestamp checks.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) routes() {
	s.e = echo.New()
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Validator = &requestValidator{validate: validator.New()}
	s.e.HTTPErrorHandler = s.handleError

	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.Str("requestId", v.RequestID).Str("method", v.Method).Str("uri", v.URI).
				Int("status", v.Status).Dur("latency", v.Latency).Msg("[DepositApi] request")
			return nil
		},
	}))

	group := s.e.Group("/deposit")
	group.POST("/generate", s.handleGenerate)
	group.POST("/link-addresses", s.handleLinkAddresses)
	group.GET("/query/:address", s.handleQuery)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.ListenAddr).Msg("[DepositApi] [Start] listening")
		errCh <- s.e.Start(s.opts.ListenAddr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("deposit api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
	} else {
		log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("[DepositApi] internal error")
	}
	if err := c.JSON(code, ErrorResponse{Error: message}); err != nil {
		log.Error().Err(err).Msg("[DepositApi] failed to write error response")
	}
}

func badRequest(format string, args ...interface{}) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}
