package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gaspardpetit/chatrelay/internal/config"
	"github.com/gaspardpetit/chatrelay/internal/ollama"
)

// NoResponse replaces an empty reply from the backend.
const NoResponse = "No response generated"

// ChatRequest is the inbound chat message.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is the non-streaming answer: the trimmed input echoed back and
// the generated text.
type ChatReply struct {
	Transcription string `json:"transcription"`
	Response      string `json:"response"`
}

// ValidationError reports a request rejected before any backend call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ErrEmptyMessage is returned for messages that are empty after trimming.
var ErrEmptyMessage = &ValidationError{Reason: "message is empty"}

// Options configures both relay components.
type Options struct {
	Model          string
	SystemPrompt   string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
}

// OptionsFromConfig extracts the relay options from the server config.
func OptionsFromConfig(cfg config.ServerConfig) Options {
	return Options{
		Model:          cfg.ModelName,
		SystemPrompt:   cfg.SystemPrompt,
		RequestTimeout: cfg.RequestTimeout,
		StreamTimeout:  cfg.StreamTimeout,
	}
}

// normalize returns the trimmed message or ErrEmptyMessage.
func normalize(req ChatRequest) (string, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return text, nil
}

func (o Options) chatRequest(text string, stream bool) ollama.ChatRequest {
	msgs := make([]ollama.Message, 0, 2)
	if o.SystemPrompt != "" {
		msgs = append(msgs, ollama.Message{Role: ollama.RoleSystem, Content: o.SystemPrompt})
	}
	msgs = append(msgs, ollama.Message{Role: ollama.RoleUser, Content: text})
	return ollama.ChatRequest{Model: o.Model, Messages: msgs, Stream: stream}
}

// Outcome classifies err into a short label used by metrics and logs.
func Outcome(err error) string {
	var ve *ValidationError
	var ue *ollama.BackendUnavailableError
	var be *ollama.BackendError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &ue):
		return "unavailable"
	case errors.As(err, &be):
		return "backend_error"
	default:
		return "error"
	}
}
