package adapters

// sealed_proxy.go implements the POST /api/proxy endpoint used by the Go client.

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/proxy"
)

// SealedProxyHandler handles POST /api/proxy requests
type SealedProxyHandler struct {
	pipeline  *proxy.Pipeline
	forwarder proxy.Forwarder
}

// NewSealedProxyHandler creates a sealed proxy handler
func NewSealedProxyHandler(pipeline *proxy.Pipeline, forwarder proxy.Forwarder) *SealedProxyHandler {
	return &SealedProxyHandler{
		pipeline:  pipeline,
		forwarder: forwarder,
	}
}

// HandleSealedProxy godoc
//
//	@Summary		Forward a sealed request
//	@Description	The request body is an envelope sealing `{"target": url, "data": {"method", "headers", "body"}}`.
//	@Description	`X-Encryption-Timestamp` and `X-Encryption-Signature` must repeat the envelope's timestamp and signature.
//	@Description
//	@Description	The described request is sent to the target and the target's JSON response is returned sealed.
//
//	@Tags			Proxy
//
//	@Param			X-Encryption-Timestamp	header		string				true	"envelope timestamp (ms)"
//	@Param			X-Encryption-Signature	header		string				true	"envelope signature"
//	@Param			request					body		crypto.Envelope		true	"sealed proxy.ProxyRequest"
//
//	@Success		200						{object}	crypto.Envelope		"sealed target response"
//	@Failure		400						{object}	api.ErrorResponse	"Malformed request or invalid envelope"
//	@Failure		403						{object}	api.ErrorResponse	"Target not allowed"
//	@Failure		409						{object}	api.ErrorResponse	"Envelope replayed"
//	@Failure		502						{object}	api.ErrorResponse	"Target unreachable or returned a non-JSON response"
//
//	@Router			/api/proxy [post]
func (h *SealedProxyHandler) HandleSealedProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqLogger := logger.ContextRequestLogger(ctx)

	timestampHeader := r.Header.Get(api.HeaderEncryptionTimestamp)
	signatureHeader := r.Header.Get(api.HeaderEncryptionSignature)
	if timestampHeader == "" || signatureHeader == "" {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("missing encryption headers"))
		return
	}

	body, err := readRequestBody(r)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	env, err := h.pipeline.Validate(body)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	timestamp, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil || timestamp != env.Timestamp || signatureHeader != env.Signature {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("encryption headers do not match the envelope"))
		return
	}

	var req proxy.ProxyRequest
	if err := h.pipeline.Open(ctx, env, &req); err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}
	if req.Target == "" {
		api.RespondWithErrorResponse(w, r, api.NewMalformedRequestError("sealed request has no target"))
		return
	}

	fwd, err := req.Data.ForwardRequest(req.Target)
	if err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapMalformedRequestError(err, "sealed request body is not valid JSON"))
		return
	}

	resp, err := h.forwarder.Forward(ctx, fwd)
	if err != nil {
		api.RespondWithErrorResponse(w, r, err)
		return
	}

	reqLogger.Debug("forwarded sealed request",
		slog.String("method", fwd.Method),
		slog.Int("upstream_status", resp.StatusCode),
	)
	respondSealed(w, r, h.pipeline, resp)
}
