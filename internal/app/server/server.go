package server

import (
	"cargolink/internal/app/server/handlers"
	"cargolink/internal/config"
	"cargolink/pkg/middleware"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type Server struct {
	log    *slog.Logger
	cfg    config.Config
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(
	log *slog.Logger,
	cfg config.Config,
	wsHandler *handlers.WSHandler,
	apiHandler *handlers.APIHandler,
) *Server {
	s := &Server{
		log: log,
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.routes(wsHandler, apiHandler)

	handler := middleware.TracerMiddleware(cfg.Service.Name)(
		middleware.RequestLogger(log)(s.mux),
	)
	s.server = &http.Server{
		Addr:        cfg.Service.Add,
		Handler:     handler,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// Websocket writes carry their own deadlines.
		WriteTimeout: 0,
	}
	return s
}

func (s *Server) routes(wsHandler *handlers.WSHandler, apiHandler *handlers.APIHandler) {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// The websocket endpoint authenticates itself so it can reply 401
	// before upgrading.
	s.mux.HandleFunc("/ws", wsHandler.Handler)

	api := http.TimeoutHandler(apiHandler.Router(s.cfg.HTTP.AllowedOrigins), s.cfg.HTTP.WriteTimeout, "request timed out")
	s.mux.Handle("/api/", api)
}

func (s *Server) Start() error {
	s.log.Info("server - start - listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server - shutdown - draining connections")
	return s.server.Shutdown(ctx)
}

// CheckOrigin builds the websocket origin policy from the allow list.
// "*" or an empty list accepts every origin.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
