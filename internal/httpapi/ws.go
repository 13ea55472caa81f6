package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashishshetty777/auction-app/internal/metrics"
	"github.com/ashishshetty777/auction-app/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Feed streams bus messages to websocket clients. Clients only listen;
// anything they send is discarded.
type Feed struct {
	bus      notify.Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewFeed returns a Feed over bus. allow decides which browser origins may
// connect.
func NewFeed(bus notify.Bus, allow func(origin string) bool, logger *slog.Logger) *Feed {
	return &Feed{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allow(origin)
			},
		},
		logger: logger,
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so a client never misses a
	// message published right after it connects. The request context ends
	// when the handler returns, so the subscription lives on its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	msgs, err := f.bus.Subscribe(ctx)
	if err != nil {
		cancel()
		f.logger.ErrorContext(ctx, "subscribing live feed", slog.Any("error", err))
		http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		// Upgrade has already written the error response.
		f.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	metrics.LiveClients.Inc()
	f.logger.DebugContext(ctx, "live client connected", slog.String("remote", r.RemoteAddr))

	go f.writePump(ctx, conn, msgs)
	go f.readPump(conn, cancel)
}

// readPump handles pongs and notices when the client goes away.
func (f *Feed) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(ctx context.Context, conn *websocket.Conn, msgs <-chan notify.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		metrics.LiveClients.Dec()
	}()

	for {
		select {
		case msg, ok := <-msgs:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				f.logger.DebugContext(ctx, "live client write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
