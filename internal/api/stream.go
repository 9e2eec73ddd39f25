package api

import (
	"context"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

// StreamErrorTrailer carries the failure of a stream that already sent
// fragments.
const StreamErrorTrailer = "X-Stream-Error"

// ChatStreamHandler handles POST /chat-stream. The status is committed only
// once the first event is known: a backend failure before any fragment is
// reported as a JSON error, a later one through StreamErrorTrailer.
// Clients therefore see 503 or 502 with a detail body, never an empty 200
// stream, when the backend fails up front.
func ChatStreamHandler(s Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChat(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events, err := s.Stream(ctx, req)
		if err != nil {
			writeError(w, streamStatus(err), err.Error())
			return
		}
		first, ok := <-events
		if !ok {
			return
		}
		if first.Kind == relay.EventError {
			writeError(w, streamStatus(first.Err), first.Err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Trailer", StreamErrorTrailer)
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}

		reqID := chiMiddleware.GetReqID(r.Context())
		ev := first
		for {
			switch ev.Kind {
			case relay.EventFragment:
				if _, err := w.Write([]byte(ev.Text)); err != nil {
					logx.Log.Debug().Str("request_id", reqID).Err(err).Msg("client gone")
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case relay.EventError:
				logx.Log.Warn().Str("request_id", reqID).Err(ev.Err).Msg("stream aborted after first fragment")
				w.Header().Set(StreamErrorTrailer, ev.Err.Error())
				return
			case relay.EventEnd:
				return
			}
			if ev, ok = <-events; !ok {
				return
			}
		}
	}
}
