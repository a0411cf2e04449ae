package trigger

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/host"
)

// WebSocket serves long-lived socket connections. Unlike the one-shot
// dispatchers it binds one instance to the whole connection: the open,
// every frame, and the close all run through the same instance, so the
// guest can keep per-connection state in its resource handles. Teardown
// happens when the connection ends, on every path.
type WebSocket struct {
	addr     string
	spawner  *host.Spawner
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocket builds the websocket dispatcher.
func NewWebSocket(spawner *host.Spawner, logger zerolog.Logger) *WebSocket {
	return &WebSocket{
		addr:    spawner.Runtime().Config.SocketAddr,
		spawner: spawner,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("dispatcher", "websocket").Logger(),
	}
}

// Name implements Dispatcher.
func (ws *WebSocket) Name() string { return "websocket" }

// Handler returns the upgrade handler (for tests).
func (ws *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ws.handleConnection)
	return mux
}

// Run serves until the context is cancelled.
func (ws *WebSocket) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ws.addr,
		Handler: ws.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		ws.logger.Info().Str("addr", ws.addr).Msg("websocket listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (ws *WebSocket) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ws.spawner.Runtime().Metrics.RecordTrigger("socket")

	connID := uuid.NewString()
	logger := ws.logger.With().Str("conn", connID).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("connection established")

	ctx := r.Context()
	inst := ws.spawner.Spawn()
	defer inst.Teardown(context.WithoutCancel(ctx))

	// The close event tells the guest the connection is gone before its
	// instance is torn down. Skipped if the open handshake already failed.
	opened := false
	defer func() {
		if opened {
			_, _ = ws.dispatch(ctx, inst, api.SocketEvent{Kind: api.SocketClose, ConnID: connID})
		}
	}()

	reply, err := ws.dispatch(ctx, inst, api.SocketEvent{Kind: api.SocketOpen, ConnID: connID})
	if err != nil {
		logger.Warn().Err(err).Msg("open handshake failed")
		return
	}
	opened = true
	if done := ws.writeReply(conn, logger, reply); done {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		reply, err := ws.dispatch(ctx, inst, api.SocketEvent{
			Kind:   api.SocketMessage,
			ConnID: connID,
			Text:   msgType == websocket.TextMessage,
			Data:   data,
		})
		if err != nil {
			// One bad frame does not end the connection, but a dead
			// instance cannot handle the next one either.
			logger.Warn().Err(err).Msg("guest handler failed")
			if ge, ok := host.AsGuestError(err); ok && ge.Timeout {
				return
			}
			continue
		}
		if done := ws.writeReply(conn, logger, reply); done {
			return
		}
	}
}

// dispatch runs one socket event through the connection's instance and
// decodes the guest's reply. A nil reply means the guest had nothing to say.
func (ws *WebSocket) dispatch(ctx context.Context, inst *host.Instance, ev api.SocketEvent) (*api.SocketReply, error) {
	input, err := api.Encode(ev)
	if err != nil {
		return nil, err
	}
	out, err := ws.spawner.Run(ctx, inst, host.ExportSocketHandle, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	var reply api.SocketReply
	if err := api.Decode(out, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// writeReply sends the guest's reply frame, if any. Returns true when the
// guest asked to close the connection.
func (ws *WebSocket) writeReply(conn *websocket.Conn, logger zerolog.Logger, reply *api.SocketReply) bool {
	if reply == nil {
		return false
	}
	if len(reply.Data) > 0 {
		msgType := websocket.BinaryMessage
		if reply.Text {
			msgType = websocket.TextMessage
		}
		if err := conn.WriteMessage(msgType, reply.Data); err != nil {
			logger.Debug().Err(err).Msg("write failed")
			return true
		}
	}
	if reply.Close {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return true
	}
	return false
}
