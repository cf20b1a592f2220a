package handlers

import (
	"cargolink/internal/app/server/ws"
	"cargolink/internal/config"
	"cargolink/internal/core/services"
	"cargolink/internal/platform/logger"
	"cargolink/pkg/logging"
	"cargolink/pkg/middleware"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	sessions *services.SessionService
	manager  *services.ManagerService
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(
	sessions *services.SessionService,
	manager *services.ManagerService,
	cfg config.RealtimeConfig,
	checkOrigin func(r *http.Request) bool,
) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		manager:  manager,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	// The credential is checked before the upgrade so a rejected client
	// gets a plain 401.
	session, err := s.sessions.Authenticate(r.Context(), middleware.BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized: "+err.Error(), HTTPStatus(err))
		return
	}
	span.SetAttributes(
		attribute.String("user.id", session.UserID),
		attribute.String("ws.conn_id", session.ID),
	)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	// The connection outlives the request span but keeps its values.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	socket := ws.NewWebSocket(ctx, conn)
	client := ws.NewClient(ctx, socket, session.ID, session.UserID, s.cfg.SendBufferSize)
	defer client.Close()

	if err := s.sessions.Connect(ctx, client); err != nil {
		log.ErrorContext(ctx, "ws handler - connect failed", logging.User(session.UserID), logging.Err(err))
		return
	}
	defer s.sessions.Disconnect(context.WithoutCancel(ctx), client)
	log.InfoContext(ctx, "ws handler - ws connection established", logging.User(session.UserID), logging.Connection(session.ID))

	socket.ReadLoop(s.cfg.MaxMessageBytes, s.cfg.HeartbeatTimeout, func(data []byte) {
		hctx, hcancel := context.WithTimeout(ctx, s.handlerTimeout())
		defer hcancel()
		reqType, err := s.manager.HandleMessage(hctx, client, data)
		if err == nil {
			return
		}
		if isInternal(err) {
			log.ErrorContext(ctx, "ws handler - handle message - internal error", logging.User(session.UserID), logging.Event(string(reqType)), logging.Err(err))
		}
		frame, mErr := json.Marshal(ErrorEvent(err, reqType))
		if mErr != nil {
			return
		}
		_ = client.Send(ctx, frame)
	})
	log.InfoContext(ctx, "ws handler - ws connection closed", logging.User(session.UserID), logging.Connection(session.ID))
}

func (s *WSHandler) handlerTimeout() time.Duration {
	if s.cfg.HandlerTimeout > 0 {
		return s.cfg.HandlerTimeout
	}
	return 10 * time.Second
}
