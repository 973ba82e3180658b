package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// notifications upgrades to a websocket and streams every notification as a
// JSON object until the client goes away or the server shuts down.
func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(s.opts.AllowedOrigins),
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	notes, unsubscribe := s.notes.Subscribe(streamBuffer)
	defer unsubscribe()

	s.metrics.streams.Inc()
	defer s.metrics.streams.Dec()

	// The stream is write-only; CloseRead handles pings and the close frame.
	ctx := conn.CloseRead(r.Context())

	s.logger.Debug("notification stream opened")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case n, ok := <-notes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}

			if err := s.writeNotification(ctx, conn, n); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Debug("notification stream write failed", slog.String("error", err.Error()))
				}

				return
			}

			s.metrics.notifications.WithLabelValues(string(n.Kind)).Inc()
		}
	}
}

func (s *Server) writeNotification(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, v)
}

// originHosts converts CORS origins ("http://localhost:*") to the host
// patterns the websocket handshake checks ("localhost:*").
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))

	for _, o := range origins {
		if rest, ok := strings.CutPrefix(o, "https://"); ok {
			o = rest
		} else if rest, ok := strings.CutPrefix(o, "http://"); ok {
			o = rest
		}

		out = append(out, o)
	}

	return out
}
