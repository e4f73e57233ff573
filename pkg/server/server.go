package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/rs/zerolog/log"
)

// SigningServer exposes one authority's signing key to the aggregators.
type SigningServer struct {
	r      chi.Router
	signer *committee.AuthoritySigner
	opts   Options
}

type Options struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewSigningServer(signer *committee.AuthoritySigner, opts Options) *SigningServer {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*", "http://*"}
	}
	s := &SigningServer{signer: signer, opts: opts}
	s.routes()
	return s
}

func (s *SigningServer) routes() {
	s.r = chi.NewRouter()
	s.r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Recoverer)
	s.r.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.r.Use(middleware.Timeout(s.opts.RequestTimeout))

	s.r.Get(committee.PingPath, s.handlePing)
	s.r.Post(committee.SignPath, s.handleSign)
}

func (s *SigningServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled.
func (s *SigningServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.ListenAddr).Str("authority", s.signer.Address().Hex()).
			Msg("[SigningServer] [Start] listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("signing server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Fprintf(w, "%s", err.Error())
	}
}

// ERROR writes an error body carrying a machine readable code.
func ERROR(w http.ResponseWriter, statusCode int, code string, err error) {
	JSON(w, statusCode, committee.ErrorResponse{Error: err.Error(), Code: code})
}
