package relay

import (
	"context"
	"io"

	"github.com/gaspardpetit/chatrelay/internal/ollama"
)

// Backend is the inference server as seen by the relay. *ollama.Client
// implements it.
type Backend interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error)
	ChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error)
}

var _ Backend = (*ollama.Client)(nil)
