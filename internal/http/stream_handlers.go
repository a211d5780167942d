package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/stream"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/ws"
)

var errUnsupportedTransport = errors.New("stream requires a websocket upgrade or Accept: text/event-stream")

// streamConnector builds the transport lazily so nothing is upgraded before
// the session is authorized. attached reports whether the response was taken over.
type streamConnector struct {
	router   *Router
	w        http.ResponseWriter
	req      *http.Request
	attached bool
	kind     string
	via      string
}

func (c *streamConnector) connect() (stream.Transport, error) {
	if websocket.IsWebSocketUpgrade(c.req) {
		c.attached = true
		c.via = "websocket"
		conn, err := c.router.upgrader.Upgrade(c.w, c.req, nil)
		if err != nil {
			return nil, err
		}
		return ws.NewClient(conn, c.router.logger), nil
	}
	if !strings.Contains(c.req.Header.Get("Accept"), "text/event-stream") {
		return nil, errUnsupportedTransport
	}
	flusher, ok := c.w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	c.attached = true
	c.via = "sse"
	headers := c.w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return ws.NewSSEClient(c.req.Context(), c.w, flusher, c.router.logger), nil
}

func (r *Router) handleMetricsStream(w http.ResponseWriter, req *http.Request) {
	conn := &streamConnector{router: r, w: w, req: req, kind: string(stream.KindMetrics), via: "none"}
	session, err := r.streams.OpenMetrics(req.Context(), streamToken(req), conn.connect)
	r.serveSession(w, req, conn, session, err)
}

func (r *Router) handleLogsStream(w http.ResponseWriter, req *http.Request) {
	conn := &streamConnector{router: r, w: w, req: req, kind: string(stream.KindLogs), via: "none"}
	session, err := r.streams.OpenLogs(req.Context(), streamToken(req), req.PathValue("deploymentId"), conn.connect)
	r.serveSession(w, req, conn, session, err)
}

// serveSession keeps the handler alive for the session's lifetime; an SSE
// response ends when the handler returns.
func (r *Router) serveSession(w http.ResponseWriter, req *http.Request, conn *streamConnector, session *stream.Session, err error) {
	if err != nil {
		if conn.attached {
			recordStreamConnect(conn.kind, conn.via, streamFailed)
			r.logger.Warn("stream setup failed after connect", "path", req.URL.Path, "error", err)
			return
		}
		recordStreamConnect(conn.kind, conn.via, streamRejected)
		if errors.Is(err, errUnsupportedTransport) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.writeServiceError(w, req, err)
		return
	}
	recordStreamConnect(conn.kind, conn.via, streamOpened)
	<-session.Done()
}
