package api

import (
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEWriter streams a generation as server-sent events: one
// generation.chunk per character, then the completed generation object,
// then the [DONE] marker.
type SSEWriter struct {
	w       io.Writer
	flush   func()
	started bool
}

// NewSSEWriter prepares c's response for streaming. It fails when the
// underlying writer cannot flush.
func NewSSEWriter(c *echo.Context) (*SSEWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by this connection")
	}
	return &SSEWriter{w: res, flush: flusher.Flush}, nil
}

func (s *SSEWriter) Delta(delta string) error {
	return s.send(GenerationChunk{Object: "generation.chunk", Delta: delta})
}

func (s *SSEWriter) Complete(gen Generation) error {
	if err := s.send(gen); err != nil {
		return err
	}
	return s.done()
}

func (s *SSEWriter) Failed(err error) error {
	errType := "server_error"
	if errors.Is(err, ErrInvalidRequest) {
		errType = "invalid_request_error"
	}
	payload := map[string]any{
		"error": ResponseError{Message: err.Error(), Type: errType},
	}
	if sendErr := s.send(payload); sendErr != nil {
		return sendErr
	}
	return s.done()
}

func (s *SSEWriter) Started() bool { return s.started }

func (s *SSEWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.started = true
	s.flush()
	return nil
}

func (s *SSEWriter) done() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}
