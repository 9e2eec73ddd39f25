package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/ollama"
)

const (
	componentStream = "stream"
	maxLineSize     = 4 << 20
)

// EventKind tags a stream Event.
type EventKind int

const (
	// EventFragment carries one piece of generated text in Event.Text.
	EventFragment EventKind = iota
	// EventError carries the failure that ended the stream in Event.Err.
	EventError
	// EventEnd marks a stream the backend completed normally.
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one item of a relayed stream. Every stream ends with exactly one
// EventError or EventEnd unless the caller's context is cancelled first.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Streamer relays a chat reply fragment by fragment as the backend
// generates it.
type Streamer struct {
	backend Backend
	opts    Options
}

// NewStreamer returns a Streamer sending requests to backend.
func NewStreamer(backend Backend, opts Options) *Streamer {
	return &Streamer{backend: backend, opts: opts}
}

// Stream validates req and opens a streaming backend call. Validation errors
// are returned directly; every later outcome arrives on the channel, which
// is closed after the final event. Cancelling ctx aborts the backend call and
// stops the producer. When Options.StreamTimeout is positive it bounds the
// whole stream. Reading stops at the first record marked done; anything the
// backend sends after it is ignored.
func (s *Streamer) Stream(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	text, err := normalize(req)
	if err != nil {
		metrics.RecordRequest(componentStream, Outcome(err))
		return nil, err
	}
	out := make(chan Event)
	go s.run(ctx, text, out)
	return out, nil
}

func (s *Streamer) run(ctx context.Context, text string, out chan<- Event) {
	defer close(out)
	done := metrics.TrackInFlight(componentStream)
	defer done()

	start := time.Now()
	streamID := uuid.NewString()
	reqID := chiMiddleware.GetReqID(ctx)
	fragments := 0
	var result error
	defer func() {
		dur := time.Since(start)
		metrics.RecordRequest(componentStream, Outcome(result))
		metrics.ObserveRequestDuration(componentStream, s.opts.Model, dur)
		metrics.RecordFragments(s.opts.Model, fragments)
		ev := logx.Log.Info()
		if result != nil {
			ev = logx.Log.Warn().Err(result)
		}
		ev.Str("request_id", reqID).Str("stream_id", streamID).Str("model", s.opts.Model).
			Int("fragments", fragments).Str("outcome", Outcome(result)).Dur("duration", dur).Msg("stream end")
	}()
	send := func(ev Event) bool {
		if ev.Kind == EventError {
			result = ev.Err
		}
		if !emit(ctx, out, ev) {
			result = ctx.Err()
			return false
		}
		return true
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.StreamTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.opts.StreamTimeout)
	}
	defer cancel()

	logx.Log.Debug().Str("request_id", reqID).Str("stream_id", streamID).Str("model", s.opts.Model).Msg("stream dispatch")
	body, err := s.backend.ChatStream(callCtx, s.opts.chatRequest(text, true))
	if err != nil {
		send(Event{Kind: EventError, Err: err})
		return
	}
	defer func() {
		_ = body.Close()
	}()
	// Unblock the reader when the call is cancelled or times out.
	stop := context.AfterFunc(callCtx, func() { _ = body.Close() })
	defer stop()

	reader := bufio.NewReaderSize(body, 64<<10)
	finished := false
	for !finished {
		line, tooLong, rerr := readLine(reader, maxLineSize)
		if tooLong {
			metrics.RecordDroppedLine()
			logx.Log.Debug().Str("stream_id", streamID).Int("limit", maxLineSize).Msg("skip oversized stream line")
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			var rec ollama.ChatResponse
			if uerr := json.Unmarshal(line, &rec); uerr != nil {
				metrics.RecordDroppedLine()
				logx.Log.Debug().Str("stream_id", streamID).Err(uerr).Msg("skip malformed stream line")
			} else {
				if rec.Message.Content != "" {
					if !send(Event{Kind: EventFragment, Text: rec.Message.Content}) {
						return
					}
					fragments++
				}
				if rec.Done {
					metrics.RecordModelTokens(s.opts.Model, "in", rec.PromptEvalCount)
					metrics.RecordModelTokens(s.opts.Model, "out", rec.EvalCount)
					finished = true
				}
			}
		}
		if !finished && rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				err = rerr
			}
			break
		}
	}
	if !finished && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			result = ctx.Err()
			return
		}
		send(Event{Kind: EventError, Err: &ollama.BackendUnavailableError{Err: err}})
		return
	}
	send(Event{Kind: EventEnd})
}

// readLine returns the next newline-terminated line from r. A line longer
// than limit is consumed and reported as tooLong with no data.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if rerr != bufio.ErrBufferFull {
			return line, tooLong, rerr
		}
	}
}

// emit delivers ev unless ctx is done first.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
