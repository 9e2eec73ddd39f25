package relay

import (
	"context"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
)

const componentGateway = "gateway"

// Gateway answers a chat message with one complete reply.
type Gateway struct {
	backend Backend
	opts    Options
}

// NewGateway returns a Gateway sending requests to backend.
func NewGateway(backend Backend, opts Options) *Gateway {
	return &Gateway{backend: backend, opts: opts}
}

// Chat validates req, forwards it to the backend with streaming disabled and
// returns the reply. The backend call is bounded by Options.RequestTimeout.
// Failures are returned on the first attempt.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (reply ChatReply, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRequest(componentGateway, Outcome(err))
	}()

	text, err := normalize(req)
	if err != nil {
		return ChatReply{}, err
	}

	done := metrics.TrackInFlight(componentGateway)
	defer done()
	if g.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
	}

	reqID := chiMiddleware.GetReqID(ctx)
	logx.Log.Debug().Str("request_id", reqID).Str("model", g.opts.Model).Int("chars", len(text)).Msg("chat dispatch")
	resp, err := g.backend.Chat(ctx, g.opts.chatRequest(text, false))
	dur := time.Since(start)
	metrics.ObserveRequestDuration(componentGateway, g.opts.Model, dur)
	if err != nil {
		logx.Log.Warn().Str("request_id", reqID).Str("model", g.opts.Model).Str("outcome", Outcome(err)).Dur("duration", dur).Err(err).Msg("chat failed")
		return ChatReply{}, err
	}
	metrics.RecordModelTokens(g.opts.Model, "in", resp.PromptEvalCount)
	metrics.RecordModelTokens(g.opts.Model, "out", resp.EvalCount)

	content := resp.Message.Content
	if content == "" {
		content = NoResponse
	}
	logx.Log.Info().Str("request_id", reqID).Str("model", g.opts.Model).Dur("duration", dur).Msg("chat complete")
	return ChatReply{Transcription: text, Response: content}, nil
}
