package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/metrics"
	"github.com/theamanone/encstream/internal/replay"
)

// Pipeline is the sequence every inbound envelope goes through:
// structural and freshness check, signature check and decryption, then the replay check.
//
// A Pipeline is safe for concurrent use.
type Pipeline struct {
	codec     *crypto.Codec
	validator *crypto.Validator
	guard     replay.Guard
	metrics   *metrics.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithGuard sets the replay guard. Without one replays inside the freshness window are accepted.
func WithGuard(g replay.Guard) PipelineOption {
	return func(p *Pipeline) {
		p.guard = g
	}
}

// WithMetrics records envelope results on m.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline creates a pipeline around codec and validator.
func NewPipeline(codec *crypto.Codec, validator *crypto.Validator, opts ...PipelineOption) (*Pipeline, error) {
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if validator == nil {
		validator = crypto.NewValidator(crypto.DefaultMaxAge)
	}

	p := &Pipeline{
		codec:     codec,
		validator: validator,
		guard:     replay.NopGuard{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Validate checks the structure and freshness of raw and returns the parsed envelope.
// Rejections are returned as crypto rejected errors.
func (p *Pipeline) Validate(raw []byte) (*crypto.Envelope, error) {
	env, reason := p.validator.Inspect(raw)
	if reason != crypto.ReasonNone {
		if p.metrics != nil {
			p.metrics.EnvelopeRejected(string(reason))
		}
		return nil, crypto.NewRejectedError(reason)
	}
	return env, nil
}

// Open authenticates and decrypts env into dst, then records it with the replay guard.
//
// The guard is only consulted once the signature has been verified.
func (p *Pipeline) Open(ctx context.Context, env *crypto.Envelope, dst any) error {
	if err := p.codec.OpenInto(env, dst); err != nil {
		p.recordOpen(err)
		return err
	}

	if err := replay.Check(ctx, p.guard, env); err != nil {
		p.recordOpen(err)
		if _, ok := crypto.ErrorCodeOf(err); ok {
			return err
		}
		return api.WrapInternalError(err, "replay guard unavailable")
	}

	p.recordOpen(nil)
	return nil
}

// Unseal runs the whole inbound pipeline on raw and returns the decrypted value.
func (p *Pipeline) Unseal(ctx context.Context, raw []byte) (any, error) {
	var value any
	if err := p.UnsealInto(ctx, raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// UnsealInto is like Unseal but decodes the payload into dst.
func (p *Pipeline) UnsealInto(ctx context.Context, raw []byte, dst any) error {
	env, err := p.Validate(raw)
	if err != nil {
		return err
	}
	return p.Open(ctx, env, dst)
}

// Seal seals an outbound value.
func (p *Pipeline) Seal(value any) (*crypto.Envelope, error) {
	env, err := p.codec.Seal(value)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.EnvelopeSealed()
	}
	return env, nil
}

// MaxAge returns the validator's freshness window.
func (p *Pipeline) MaxAge() time.Duration {
	return p.validator.MaxAge()
}

func (p *Pipeline) recordOpen(err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.EnvelopeOpened(openResult(err))
}

func openResult(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	code, ok := crypto.ErrorCodeOf(err)
	if !ok {
		return metrics.ResultError
	}
	switch code {
	case crypto.ErrCodeAuthentication:
		return metrics.ResultAuth
	case crypto.ErrCodeDecryption:
		return metrics.ResultDecrypt
	case crypto.ErrCodeFormat:
		return metrics.ResultFormat
	case crypto.ErrCodeReplayed:
		return metrics.ResultReplayed
	default:
		return metrics.ResultError
	}
}
