package adapters

// relay.go implements the POST /v1/relay endpoint.

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/proxy"
)

// RelayHandler handles POST /v1/relay requests
type RelayHandler struct {
	pipeline  *proxy.Pipeline
	forwarder proxy.Forwarder
}

// NewRelayHandler creates a relay handler
func NewRelayHandler(pipeline *proxy.Pipeline, forwarder proxy.Forwarder) *RelayHandler {
	return &RelayHandler{
		pipeline:  pipeline,
		forwarder: forwarder,
	}
}

// HandleRelay godoc
//
//	@Summary		Relay a sealed payload
//	@Description	The request body names a forward target and carries the payload as a sealed envelope in `data`.
//	@Description
//	@Description	The envelope is checked for freshness, authenticated and decrypted. The decrypted JSON is sent to the
//	@Description	target with the inbound method and the target's JSON response is returned as a new sealed envelope.
//	@Description
//	@Description	The response status is always 200 when the target was reached; the target's status is in `X-Upstream-Status`.
//
//	@Tags			Proxy
//
//	@Param			request	body		proxy.RelayRequest	true	"forward target and sealed payload"
//
//	@Success		200		{object}	crypto.Envelope		"sealed target response"
//	@Failure		400		{object}	api.ErrorResponse	"Malformed request or invalid envelope"
//	@Failure		403		{object}	api.ErrorResponse	"Target not allowed"
//	@Failure		409		{object}	api.ErrorResponse	"Envelope replayed"
//	@Failure		502		{object}	api.ErrorResponse	"Target unreachable or returned a non-JSON response"
//
//	@Router			/v1/relay [post]
func (h *RelayHandler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)

	body, err := readRequestBody(r)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	var req proxy.RelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "request body is not a valid relay request"))
		return
	}
	if req.Target == "" || len(req.Data) == 0 || bytes.Equal(bytes.TrimSpace(req.Data), []byte("null")) {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("relay request requires target and data"))
		return
	}

	var payload json.RawMessage
	if err := h.pipeline.UnsealInto(ctx, req.Data, &payload); err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	resp, err := h.forwarder.Forward(ctx, proxy.ForwardRequest{
		Target: req.Target,
		Method: r.Method,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   payload,
	})
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	reqLogger.Debug("relayed sealed payload", slog.Int("upstream_status", resp.StatusCode))
	respondSealed(w, r, h.pipeline, resp)
}
