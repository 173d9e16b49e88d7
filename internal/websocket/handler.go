package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades requests to WebSocket connections served by hub.
// originPatterns lists cross-origin hosts allowed to connect; same-origin
// requests are always accepted.
func Handler(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "remote", r.RemoteAddr, "error", err)
			return
		}

		logger.Debug("websocket connected", "remote", r.RemoteAddr)
		NewClient(hub, conn).Run(r.Context())
		logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
	}
}
