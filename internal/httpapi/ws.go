package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sharedcontext/server/internal/notify"
)

// ServeWS upgrades GET /ws?resource=<uri> to a WebSocket connection and
// subscribes it to the Notification Hub for the duration of the
// connection, unifying this transport with the MCP SSE stream behind the
// same Hub.Subscribe/Deliver contract.
//
// Browsers cannot set an Authorization header on the WebSocket handshake,
// so the bearer token is also accepted as a ?token= query parameter;
// authMiddleware's header form still works for non-browser agents.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	resourceURI := r.URL.Query().Get("resource")
	if resourceURI == "" {
		writeError(w, r, 400, "resource is required")
		return
	}

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		authHeader := r.Header.Get("Authorization")
		tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenStr == "" {
		writeError(w, r, 401, "missing token")
		return
	}
	claims, err := s.Tokens.Resolve(r.Context(), tokenStr)
	if err != nil {
		writeError(w, r, 401, "authentication failed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept failed")
		return
	}

	idleTimeout := s.WSIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 300 * time.Second
	}

	subscriberID := uuid.NewString()
	ctx := conn.CloseRead(context.Background())

	deliver := func(p notify.Payload) error {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return wsjson.Write(wctx, conn, p)
	}
	s.Deps.Hub.Subscribe(subscriberID, claims.Subject, resourceURI, deliver)
	defer s.Deps.Hub.Unsubscribe(subscriberID, resourceURI)

	ticker := time.NewTicker(idleTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}
