package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/ollama"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

// maxRequestBody caps inbound chat bodies.
const maxRequestBody = 1 << 20

// Chatter answers one chat message with a complete reply.
type Chatter interface {
	Chat(ctx context.Context, req relay.ChatRequest) (relay.ChatReply, error)
}

// Streamer relays one chat message as a sequence of events.
type Streamer interface {
	Stream(ctx context.Context, req relay.ChatRequest) (<-chan relay.Event, error)
}

var (
	_ Chatter  = (*relay.Gateway)(nil)
	_ Streamer = (*relay.Streamer)(nil)
)

// errorBody is the JSON shape of every error reply.
type errorBody struct {
	Detail string `json:"detail"`
}

// ChatHandler handles POST /chat.
func ChatHandler(g Chatter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChat(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reply, err := g.Chat(r.Context(), req)
		if err != nil {
			writeError(w, chatStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func decodeChat(w http.ResponseWriter, r *http.Request) (relay.ChatRequest, error) {
	var req relay.ChatRequest
	if r.Body == nil {
		return req, errors.New("missing request body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("missing request body")
		}
		return req, errors.New("invalid request body")
	}
	return req, nil
}

// chatStatus maps a gateway error to its HTTP status.
func chatStatus(err error) int {
	var ve *relay.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// streamStatus maps an error seen before the first fragment to its HTTP status.
func streamStatus(err error) int {
	var ve *relay.ValidationError
	var ue *ollama.BackendUnavailableError
	var be *ollama.BackendError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	case errors.As(err, &be):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
