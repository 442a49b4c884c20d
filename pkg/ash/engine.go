package ash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/3meam/ash/pkg/canonicalize"
	"github.com/3meam/ash/pkg/kernel"
	"github.com/3meam/ash/pkg/observability"
)

// defaultNonceBytes is the length of generated nonces: enough entropy that
// guessing one is infeasible, short enough to stay cheap on the wire.
const defaultNonceBytes = 32

// Config configures an Ash engine instance. A zero Config is valid; New
// fills every unset field with a production-sane default.
type Config struct {
	// DefaultTTL is used when IssueContextOptions.TTL is zero.
	DefaultTTL time.Duration
	// DefaultMode is used when IssueContextOptions.Mode is empty.
	DefaultMode Mode
	// DefaultProtocol is used when IssueContextOptions.Protocol is empty.
	DefaultProtocol Protocol
	// Clock abstracts time.Now for deterministic expiry testing.
	Clock func() time.Time

	// RateLimiter, if set, throttles issue_context per actor. Neither the
	// core protocol nor its invariants depend on it; it exists because the
	// teacher's engine-equivalents always carry this ambient guard. Failures
	// from the limiter itself fail open, matching auth.RateLimitMiddleware.
	RateLimiter     kernel.LimiterStore
	RateLimitPolicy kernel.BackpressurePolicy

	// Observability, if set, wraps issue_context and verify in spans and RED
	// metrics via Provider.TrackOperation.
	Observability *observability.Provider
}

// DefaultConfig returns the engine's production defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:      5 * time.Minute,
		DefaultMode:     ModeBalanced,
		DefaultProtocol: ProtocolV1,
		Clock:           time.Now,
	}
}

// Ash is the ASH protocol engine: it orchestrates canonicalization, proof
// construction/verification, and context lifecycle against a ContextStore.
// It holds no network or persistence code of its own.
type Ash struct {
	store  ContextStore
	config Config
}

// New constructs an Ash engine backed by store. A nil config is replaced
// with DefaultConfig(); any zero-valued field within a non-nil config is
// filled with the corresponding default.
func New(store ContextStore, config *Config) *Ash {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeBalanced
	}
	if cfg.DefaultProtocol == "" {
		cfg.DefaultProtocol = ProtocolV1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Ash{store: store, config: cfg}
}

// IssueContext creates and stores a new single-use context, returning the
// DTO the client should receive (§4.5, §6).
func (a *Ash) IssueContext(ctx context.Context, opts IssueContextOptions) (info *ContextPublicInfo, err error) {
	if a.config.Observability != nil {
		var done func(error)
		ctx, done = a.config.Observability.TrackOperation(ctx, "ash.issue_context",
			observability.AttrBinding.String(opts.normalizedBinding()))
		defer func() { done(err) }()
	}

	if a.config.RateLimiter != nil {
		actor := opts.ActorID
		if actor == "" {
			actor = "anonymous"
		}
		allowed, rlErr := a.config.RateLimiter.Allow(ctx, actor, a.config.RateLimitPolicy, 1)
		if rlErr == nil && !allowed {
			return nil, newAshError(ErrInvalidContext, "rate limit exceeded for issue_context", nil)
		}
		// Limiter errors fail open, matching auth.RateLimitMiddleware.
	}

	mode := opts.Mode
	if mode == "" {
		mode = a.config.DefaultMode
	}
	protocol := opts.Protocol
	if protocol == "" {
		protocol = a.config.DefaultProtocol
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = a.config.DefaultTTL
	}

	binding := opts.normalizedBinding()
	if method, _ := splitBinding(binding); method == "" {
		return nil, newAshError(ErrInvalidContext, "binding must include a method and path", nil)
	}

	id := protocol.idPrefix() + uuid.NewString()

	var nonce string
	needsNonce := protocol == ProtocolV21 || mode == ModeStrict
	if needsNonce {
		n, err := generateNonceHex(defaultNonceBytes)
		if err != nil {
			return nil, fmt.Errorf("ash: issuing context: %w", err)
		}
		nonce = n
	}

	now := a.config.Clock()
	sc := StoredContext{
		ID:        id,
		Binding:   binding,
		Mode:      mode,
		Protocol:  protocol,
		ExpiresAt: now.Add(ttl),
		Nonce:     nonce,
		Metadata:  opts.Metadata,
	}

	if err := a.store.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("ash: issuing context: %w", err)
	}

	info := &ContextPublicInfo{
		ContextID: id,
		Binding:   binding,
		Mode:      mode,
		ExpiresAt: sc.ExpiresAtMillis(),
	}

	switch protocol {
	case ProtocolV21:
		secret, err := deriveClientSecretV21(nonce, id, binding)
		if err != nil {
			return nil, fmt.Errorf("ash: issuing context: %w", err)
		}
		info.ClientSecret = secret
	default:
		if mode == ModeStrict {
			info.Nonce = nonce
		}
	}

	return info, nil
}

// Verify runs the ordered verification pipeline from §4.5:
//  1. load the stored context (a missing id yields ErrInvalidContext)
//  2. reject it if it has expired
//  3. reject it if it is already marked used (replay)
//  4. recompute the binding the client actually observed and compare it
//     against the stored binding
//  5. canonicalize the raw payload
//  6. recompute the proof and compare it in constant time
//  7. atomically consume the context, rejecting a concurrent replay
//
// The first failing step decides the result and no later step runs. A
// mismatched proof is reported the same way whether the payload or the
// signature was wrong, and a failed proof never consumes the context.
func (a *Ash) Verify(ctx context.Context, req VerifyRequest) (result *VerifyResult, err error) {
	if a.config.Observability != nil {
		var done func(error)
		ctx, done = a.config.Observability.TrackOperation(ctx, "ash.verify",
			observability.AttrContextID.String(req.ContextID))
		defer func() {
			if result != nil {
				observability.AddSpanEvent(ctx, "ash.verify.outcome",
					observability.VerifyAttempt(req.ContextID, req.observedBinding(), string(result.Code), result.Valid)...)
				a.config.Observability.RecordVerifyOutcome(ctx, string(result.Code), result.Valid)
			}
			done(err)
		}()
	}

	sc, err := a.store.Get(ctx, req.ContextID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &VerifyResult{Valid: false, Code: ErrInvalidContext}, nil
		}
		return nil, fmt.Errorf("ash: verifying context: %w", err)
	}

	now := a.config.Clock()
	if !sc.ExpiresAt.After(now) {
		return &VerifyResult{Valid: false, Code: ErrContextExpired}, nil
	}

	if sc.Used {
		return &VerifyResult{Valid: false, Code: ErrReplayDetected}, nil
	}

	observed := req.observedBinding()
	if observed != sc.Binding {
		return &VerifyResult{Valid: false, Code: ErrEndpointMismatch}, nil
	}

	canonicalPayload, err := canonicalize.Canonicalize(req.ContentType, req.RawPayload)
	if err != nil {
		if errors.Is(err, canonicalize.ErrUnsupportedContentType) {
			return &VerifyResult{Valid: false, Code: ErrUnsupportedContentType}, nil
		}
		return &VerifyResult{Valid: false, Code: ErrCanonicalizationFailed}, nil
	}

	expectedProof, proofErr := a.expectedProof(sc, req.Timestamp, canonicalPayload)
	if proofErr != nil {
		return nil, fmt.Errorf("ash: verifying context: %w", proofErr)
	}

	if !constantTimeEqual(expectedProof, req.Proof) {
		return &VerifyResult{Valid: false, Code: ErrIntegrityFailed}, nil
	}

	consumed, err := a.store.Consume(ctx, req.ContextID)
	if err != nil {
		if errors.Is(err, ErrAlreadyUsed) {
			return &VerifyResult{Valid: false, Code: ErrReplayDetected}, nil
		}
		if errors.Is(err, ErrNotFound) {
			// Raced with expiry between Get and Consume.
			return &VerifyResult{Valid: false, Code: ErrContextExpired}, nil
		}
		return nil, fmt.Errorf("ash: verifying context: %w", err)
	}

	return &VerifyResult{Valid: true, Metadata: consumed.Metadata}, nil
}

func (a *Ash) expectedProof(sc StoredContext, timestamp int64, canonicalPayload []byte) (string, error) {
	switch sc.Protocol {
	case ProtocolV21:
		secret, err := deriveClientSecretV21(sc.Nonce, sc.ID, sc.Binding)
		if err != nil {
			return "", err
		}
		return buildProofV21(secret, timestamp, sc.Binding, canonicalPayload)
	default:
		return buildProofV1(sc.Mode, sc.Binding, sc.ID, sc.Nonce, canonicalPayload), nil
	}
}
