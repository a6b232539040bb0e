package services

import (
	"context"
	"errors"
	"time"

	"dlgate/internal/config"
	"dlgate/internal/models"
	"dlgate/internal/store"

	"go.uber.org/zap"
)

// Outcome codes returned to verifier clients. These are wire-stable legacy
// strings; do not rename.
const (
	OutcomeIPMatch           = "IP_MATCH"
	OutcomeIPMismatchAllowed = "IP_MISMATCH_ALLOWED"
	OutcomeIPMismatchStrict  = "IP_MISMATCH_STRICT"
	OutcomeTokenExpired      = "TOKEN_EXPIRED"
	OutcomeTokenNotFound     = "TOKEN_NOT_FOUND"
	OutcomeLimitExceeded     = "MAX_DOWNLOADS_EXCEEDED"
	OutcomeDisabled          = "IP_VERIFICATION_DISABLED"
	OutcomeInvalidToken      = "INVALID_TOKEN"
	OutcomeInvalidIP         = "INVALID_IP"
)

// VerifyResult is the engine's decision for one redemption attempt. OK means
// the file may be released; Record is nil when the token never resolved.
type VerifyResult struct {
	Code    string
	OK      bool
	Message string
	Record  *models.DownloadToken
}

// Engine evaluates redemption attempts. It reads the token once, decides in
// a fixed order (missing token, unknown, expired, over limit, policy
// disabled, missing IP, match, mismatch-allowed, strict reject) and performs
// the counter update through the store's conditional redeem so concurrent
// attempts cannot overshoot the limit.
type Engine struct {
	tokens store.TokenStore
	sink   *AuditSink
	logger *zap.Logger
}

func NewEngine(tokens store.TokenStore, sink *AuditSink, logger *zap.Logger) *Engine {
	return &Engine{tokens: tokens, sink: sink, logger: logger}
}

func (e *Engine) Verify(ctx context.Context, tokenStr, presentedIP, userAgent string, pol config.VerifyPolicy) (*VerifyResult, error) {
	now := time.Now()

	if tokenStr == "" {
		return e.reject(ctx, nil, tokenStr, presentedIP, userAgent,
			OutcomeInvalidToken, "verification token missing"), nil
	}

	record, err := e.tokens.GetByToken(ctx, tokenStr)
	if errors.Is(err, store.ErrTokenNotFound) {
		return e.reject(ctx, nil, tokenStr, presentedIP, userAgent,
			OutcomeTokenNotFound, "token does not exist"), nil
	}
	if err != nil {
		return nil, err
	}

	if record.Expired(now) {
		return e.reject(ctx, record, tokenStr, presentedIP, userAgent,
			OutcomeTokenExpired, "download token has expired"), nil
	}

	// blocked is terminal; it reports as expired since verifier clients only
	// know the fixed outcome codes
	if record.Status == models.TokenStatusBlocked {
		return e.reject(ctx, record, tokenStr, presentedIP, userAgent,
			OutcomeTokenExpired, "download token is blocked"), nil
	}

	if record.DownloadCount >= record.DownloadLimit {
		return e.reject(ctx, record, tokenStr, presentedIP, userAgent,
			OutcomeLimitExceeded, "download limit reached"), nil
	}

	if !pol.Enabled {
		return e.allow(ctx, record, presentedIP, userAgent,
			OutcomeDisabled, "IP verification disabled, allowed")
	}

	if presentedIP == "" {
		return e.reject(ctx, record, tokenStr, presentedIP, userAgent,
			OutcomeInvalidIP, "missing current IP address"), nil
	}

	if presentedIP == record.OriginalIP {
		return e.allow(ctx, record, presentedIP, userAgent,
			OutcomeIPMatch, "IP address verified")
	}

	if pol.AllowMismatch {
		return e.allow(ctx, record, presentedIP, userAgent,
			OutcomeIPMismatchAllowed, "IP mismatch, download allowed")
	}

	e.logger.Info("rejected mismatched IP in strict mode",
		zap.String("token", record.Token),
		zap.String("original_ip", record.OriginalIP),
		zap.String("current_ip", presentedIP))
	return e.reject(ctx, record, tokenStr, presentedIP, userAgent,
		OutcomeIPMismatchStrict, "IP mismatch, download rejected"), nil
}

// allow runs the success path: the conditional redeem re-checks the limit at
// commit time. Losing the race downgrades the outcome to limit-exceeded.
func (e *Engine) allow(ctx context.Context, record *models.DownloadToken, presentedIP, userAgent, code, message string) (*VerifyResult, error) {
	ok, err := e.tokens.Redeem(ctx, record.Token, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.reject(ctx, record, record.Token, presentedIP, userAgent,
			OutcomeLimitExceeded, "download limit reached"), nil
	}

	e.sink.RecordAttempt(ctx, record, record.Token, presentedIP, userAgent, code)
	return &VerifyResult{Code: code, OK: true, Message: message, Record: record}, nil
}

func (e *Engine) reject(ctx context.Context, record *models.DownloadToken, tokenStr, presentedIP, userAgent, code, message string) *VerifyResult {
	e.sink.RecordAttempt(ctx, record, tokenStr, presentedIP, userAgent, code)
	return &VerifyResult{Code: code, OK: false, Message: message, Record: record}
}
