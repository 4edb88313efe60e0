// Package notify queues outbound notification requests and hands them to a
// sink on a background goroutine, so delivery never blocks a request path.
package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Request asks the delivery layer to send Template to To. Content carries the
// template variables (links, plan names, dates).
type Request struct {
	To        string            `json:"to"`
	Template  string            `json:"template"`
	Content   map[string]string `json:"content,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sink delivers notification requests. Implementations must be safe for
// use by one goroutine at a time; the dispatcher never calls Send
// concurrently.
type Sink interface {
	Send(ctx context.Context, req Request) error
}

// NoOpSink drops every request.
type NoOpSink struct{}

func (NoOpSink) Send(context.Context, Request) error { return nil }

// ChannelSink forwards requests into a buffered channel.
type ChannelSink struct {
	requests chan Request
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{requests: make(chan Request, buffer)}
}

func (s *ChannelSink) Send(ctx context.Context, req Request) error {
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Requests() <-chan Request { return s.requests }

// JSONWriterSink writes one JSON object per line, for an outbox file or a
// pipe into a mailer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Send(_ context.Context, req Request) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// LogSink writes each request as a structured log line. It suits
// development setups with no mailer attached.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(_ context.Context, req Request) error {
	ev := s.Log.Info().Str("to", req.To).Str("template", req.Template)
	if req.AccountID != "" {
		ev = ev.Str("account_id", req.AccountID)
	}
	ev.Msg("notification")
	return nil
}
