package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/session"
)

// Authenticator resolves a session token to an identity id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type AuthenticatorFunc func(ctx context.Context, token string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

type userIDKey struct{}

// Handler upgrades authenticated requests and keeps the connection in the
// identity's group until the client goes away. Client frames are ignored.
func (h *Hub) Handler(auth Authenticator) http.Handler {
	ws := websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw := session.TokenFromRequest(r)
		if raw == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		userID, err := auth.Authenticate(r.Context(), raw)
		if err != nil || strings.TrimSpace(userID) == "" {
			logger.Debug("realtime handshake rejected", map[string]any{
				"remote": r.RemoteAddr,
				"error":  errString(err),
			})
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ws.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	userID, _ := conn.Request().Context().Value(userIDKey{}).(string)
	group := GroupName(userID)
	p := newPeer(conn)

	h.join(group, p)
	defer h.leave(group, p)

	logger.Debug("realtime connected", map[string]any{"user_id": userID})

	var discard []byte
	for {
		if err := websocket.Message.Receive(conn, &discard); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("realtime read ended", map[string]any{
					"user_id": userID,
					"error":   err.Error(),
				})
			}
			return
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
