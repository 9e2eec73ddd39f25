package api

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/chatrelay/internal/logx"
)

var openapiJSON = mustOpenAPISchema()

// Document describes the relay HTTP surface.
func Document() *openapi3.T {
	str := openapi3.NewStringSchema
	chatRequest := openapi3.NewObjectSchema().WithProperty("message", str())
	chatRequest.Required = []string{"message"}
	chatReply := openapi3.NewObjectSchema().
		WithProperty("transcription", str()).
		WithProperty("response", str())
	detail := openapi3.NewObjectSchema().WithProperty("detail", str())
	state := openapi3.NewObjectSchema().
		WithProperty("status", str()).
		WithProperty("draining", openapi3.NewBoolSchema()).
		WithProperty("uptime_seconds", openapi3.NewFloat64Schema()).
		WithProperty("in_flight", openapi3.NewInt64Schema()).
		WithProperty("model", str()).
		WithProperty("backend", openapi3.NewObjectSchema()).
		WithProperty("host", openapi3.NewObjectSchema())

	jsonResp := func(desc string, s *openapi3.Schema) *openapi3.ResponseRef {
		return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(desc).WithJSONSchema(s)}
	}
	textResp := func(desc string) *openapi3.ResponseRef {
		return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(desc).
			WithContent(openapi3.NewContentWithSchema(str(), []string{"text/plain"}))}
	}
	wsEvent := openapi3.NewObjectSchema().
		WithProperty("type", openapi3.NewStringSchema().WithEnum("fragment", "error", "end")).
		WithProperty("text", str()).
		WithProperty("detail", str())
	rpc := openapi3.NewObjectSchema().
		WithProperty("jsonrpc", str()).
		WithProperty("id", openapi3.NewSchema()).
		WithProperty("method", str()).
		WithProperty("params", openapi3.NewObjectSchema())
	body := &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(chatRequest)}

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: "chatrelay API", Version: "1.0.0"},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/chat", &openapi3.PathItem{Post: &openapi3.Operation{
				OperationID: "chat",
				Summary:     "Answer a message with one complete reply",
				RequestBody: body,
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, jsonResp("Reply", chatReply)),
					openapi3.WithStatus(http.StatusBadRequest, jsonResp("Invalid request", detail)),
					openapi3.WithStatus(http.StatusInternalServerError, jsonResp("Backend failure", detail)),
				),
			}}),
			openapi3.WithPath("/chat-stream", &openapi3.PathItem{Post: &openapi3.Operation{
				OperationID: "chatStream",
				Summary:     "Stream the reply as plain text fragments",
				RequestBody: body,
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, textResp("Reply fragments")),
					openapi3.WithStatus(http.StatusBadRequest, jsonResp("Invalid request", detail)),
					openapi3.WithStatus(http.StatusBadGateway, jsonResp("Backend rejected the request", detail)),
					openapi3.WithStatus(http.StatusServiceUnavailable, jsonResp("Backend unavailable", detail)),
				),
			}}),
			openapi3.WithPath("/chat-ws", &openapi3.PathItem{Get: &openapi3.Operation{
				OperationID: "chatWS",
				Summary:     "Relay chat streams over a WebSocket",
				Description: "Each text frame carries a chat request object. The reply arrives as " +
					"fragment frames followed by one end or error frame.",
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusSwitchingProtocols, jsonResp("WebSocket frames", wsEvent)),
					openapi3.WithStatus(http.StatusForbidden, textResp("Origin not allowed")),
				),
			}}),
			openapi3.WithPath("/mcp", &openapi3.PathItem{Post: &openapi3.Operation{
				OperationID: "mcp",
				Summary:     "MCP streamable HTTP endpoint exposing the chat tool",
				RequestBody: &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(rpc)},
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, jsonResp("JSON-RPC response", rpc)),
					openapi3.WithStatus(http.StatusAccepted, textResp("Notification accepted")),
				),
			}}),
			openapi3.WithPath("/metrics", &openapi3.PathItem{Get: &openapi3.Operation{
				OperationID: "metrics",
				Summary:     "Prometheus metrics, served here when metrics_addr matches the main port",
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, textResp("Prometheus text exposition")),
				),
			}}),
			openapi3.WithPath("/healthz", &openapi3.PathItem{Get: &openapi3.Operation{
				OperationID: "healthz",
				Summary:     "Health check",
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, textResp("OK")),
					openapi3.WithStatus(http.StatusServiceUnavailable, textResp("Draining")),
				),
			}}),
			openapi3.WithPath("/api/state", &openapi3.PathItem{Get: &openapi3.Operation{
				OperationID: "getState",
				Summary:     "Get relay state",
				Responses: openapi3.NewResponses(
					openapi3.WithStatus(http.StatusOK, jsonResp("State", state)),
				),
			}}),
		),
	}
}

func mustOpenAPISchema() []byte {
	b, err := Document().MarshalJSON()
	if err != nil {
		panic(err)
	}
	return b
}

// OpenAPIHandler serves the OpenAPI schema.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(openapiJSON); err != nil {
			logx.Log.Error().Err(err).Msg("write openapi")
		}
	}
}

const swaggerPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>chatrelay API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
  window.onload = () => {
    SwaggerUIBundle({
      url: 'openapi.json',
      dom_id: '#swagger-ui'
    });
  };
  </script>
</body>
</html>`

// SwaggerHandler serves a minimal Swagger UI.
func SwaggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(swaggerPage)); err != nil {
			logx.Log.Error().Err(err).Msg("write swagger page")
		}
	}
}
