package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/media"
	"github.com/clipcycle/clipcycle/internal/rotation"
	"github.com/clipcycle/clipcycle/internal/youtube"
)

// AuthService is the slice of the OAuth layer the dashboard needs: the
// connect handshake, the connected flag and a token for analytics calls.
type AuthService interface {
	AuthURL() (string, string)
	Exchange(ctx context.Context, code, state string) error
	Token(ctx context.Context) (*oauth2.Token, error)
	Disconnect() error
	Connected() bool
}

// AnalyticsService proxies channel reporting for the dashboard charts.
type AnalyticsService interface {
	Analytics(ctx context.Context, tok *oauth2.Token, days int) (*youtube.AnalyticsReport, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port        int
	Ledger      *ledger.Service
	Rotation    *rotation.Manager
	Auth        AuthService
	Analytics   AnalyticsService
	MediaServer media.Service
	Logger      *slog.Logger
	StartTime   time.Time
	Version     string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
