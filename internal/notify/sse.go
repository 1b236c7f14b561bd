package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter adapts an http.ResponseWriter into a Hub transport: its
// Deliver method is a Deliver callback, so an MCP GET /mcp stream
// subscribes through Hub.Subscribe exactly like httpapi/ws.go's
// WebSocket adapter does, instead of keeping a second, SSE-only
// delivery path.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	eventID int
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSSEWriter prepares w to stream Server-Sent Events and ties the
// stream's lifetime to ctx; Close (or ctx's own cancellation) ends it.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("notify: response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	streamCtx, cancel := context.WithCancel(ctx)
	return &SSEWriter{w: w, flusher: flusher, ctx: streamCtx, cancel: cancel}, nil
}

// Deliver writes one "message" SSE frame per notification, with an
// incrementing id a reconnecting client could resume from via
// Last-Event-ID. It satisfies the Deliver signature Hub.Subscribe expects.
func (s *SSEWriter) Deliver(p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	s.eventID++
	fmt.Fprintf(s.w, "event: message\n")
	fmt.Fprintf(s.w, "id: %d\n", s.eventID)
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
	return nil
}

// Close ends the stream.
func (s *SSEWriter) Close() {
	s.cancel()
}

// Done reports the stream's lifetime: closed by Close or by the
// context passed to NewSSEWriter being cancelled (e.g. client disconnect).
func (s *SSEWriter) Done() <-chan struct{} {
	return s.ctx.Done()
}
