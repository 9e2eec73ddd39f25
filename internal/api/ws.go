package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

// WSEvent is the JSON frame sent to /chat-ws clients.
type WSEvent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func wsEvent(ev relay.Event) WSEvent {
	switch ev.Kind {
	case relay.EventFragment:
		return WSEvent{Type: "fragment", Text: ev.Text}
	case relay.EventError:
		return WSEvent{Type: "error", Detail: ev.Err.Error()}
	default:
		return WSEvent{Type: "end"}
	}
}

// ChatWSHandler handles GET /chat-ws. Each text frame {"message": "..."} is
// answered by the events of one relayed stream, ending with an "error" or
// "end" frame. Messages on one connection are served in order.
func ChatWSHandler(s Streamer, allowedOrigins []string) http.HandlerFunc {
	opts := &websocket.AcceptOptions{}
	if patterns := originPatterns(allowedOrigins); len(patterns) == 1 && patterns[0] == "*" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = patterns
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			logx.Log.Warn().Err(err).Msg("websocket accept")
			return
		}
		defer func() { _ = c.CloseNow() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		reqID := chiMiddleware.GetReqID(r.Context())
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				var ce websocket.CloseError
				if errors.As(err, &ce) && (ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway) {
					logx.Log.Debug().Str("request_id", reqID).Msg("websocket closed")
				} else if ctx.Err() == nil {
					logx.Log.Warn().Str("request_id", reqID).Err(err).Msg("websocket read")
				}
				return
			}
			if typ != websocket.MessageText {
				_ = c.Close(websocket.StatusUnsupportedData, "text frames only")
				return
			}
			var req relay.ChatRequest
			if err := json.Unmarshal(data, &req); err != nil {
				if writeWS(ctx, c, WSEvent{Type: "error", Detail: "invalid request body"}) != nil {
					return
				}
				continue
			}
			events, err := s.Stream(ctx, req)
			if err != nil {
				if writeWS(ctx, c, WSEvent{Type: "error", Detail: err.Error()}) != nil {
					return
				}
				continue
			}
			for ev := range events {
				if err := writeWS(ctx, c, wsEvent(ev)); err != nil {
					logx.Log.Debug().Str("request_id", reqID).Err(err).Msg("websocket write")
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, c *websocket.Conn, ev WSEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

// originPatterns converts CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
