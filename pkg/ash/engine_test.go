package ash

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/3meam/ash/pkg/canonicalize"
	"github.com/3meam/ash/pkg/kernel"
)

// memStoreForTest is a minimal ContextStore used only to exercise Ash
// without depending on package ashstore (which itself depends on ash).
type memStoreForTest struct {
	mu       sync.Mutex
	contexts map[string]StoredContext
	now      func() time.Time
}

func newMemStoreForTest(clock func() time.Time) *memStoreForTest {
	return &memStoreForTest{contexts: make(map[string]StoredContext), now: clock}
}

func (s *memStoreForTest) Create(_ context.Context, sc StoredContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contexts[sc.ID]; exists {
		return ErrIDCollision
	}
	s.contexts[sc.ID] = sc.Clone()
	return nil
}

func (s *memStoreForTest) Get(_ context.Context, id string) (StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.contexts[id]
	if !ok || !sc.ExpiresAt.After(s.now()) {
		return StoredContext{}, ErrNotFound
	}
	return sc.Clone(), nil
}

func (s *memStoreForTest) Consume(_ context.Context, id string) (StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.contexts[id]
	if !ok || !sc.ExpiresAt.After(s.now()) {
		return StoredContext{}, ErrNotFound
	}
	if sc.Used {
		return StoredContext{}, ErrAlreadyUsed
	}
	before := sc.Clone()
	sc.Used = true
	s.contexts[id] = sc
	return before, nil
}

func (s *memStoreForTest) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts), nil
}

func (s *memStoreForTest) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]StoredContext)
	return nil
}

func TestAsh_IssueAndVerify_V1_Balanced_RoundTrip(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{
		Method: "POST",
		Path:   "/orders",
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.Nonce != "" {
		t.Fatal("balanced mode must not issue a nonce")
	}

	payload := []byte(`{"amount":100}`)
	canonical, err := canonicalize.Canonicalize("application/json", payload)
	if err != nil {
		t.Fatal(err)
	}
	proof := buildProofV1(ModeBalanced, info.Binding, info.ContextID, "", canonical)

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "POST",
		Path:        "/orders",
		RawPayload:  payload,
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got code %s", result.Code)
	}
}

func TestAsh_Verify_RejectsReplay(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "GET", Path: "/accounts"})
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{}`)
	canonical, _ := canonicalize.Canonicalize("application/json", payload)
	proof := buildProofV1(ModeBalanced, info.Binding, info.ContextID, "", canonical)

	req := VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "GET",
		Path:        "/accounts",
		RawPayload:  payload,
		ContentType: "application/json",
	}

	first, err := engine.Verify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Valid {
		t.Fatalf("expected first verify to succeed, got %s", first.Code)
	}

	second, err := engine.Verify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Valid || second.Code != ErrReplayDetected {
		t.Fatalf("expected replay rejection, got valid=%v code=%s", second.Valid, second.Code)
	}
}

func TestAsh_Verify_ReplayTakesPriorityOverLaterStages(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "GET", Path: "/accounts"})
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{}`)
	canonical, _ := canonicalize.Canonicalize("application/json", payload)
	proof := buildProofV1(ModeBalanced, info.Binding, info.ContextID, "", canonical)

	first, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "GET",
		Path:        "/accounts",
		RawPayload:  payload,
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Valid {
		t.Fatalf("expected first verify to succeed, got %s", first.Code)
	}

	// Replay the same context with a wrong path, an unsupported content type,
	// and a garbage proof all at once. Every later stage would reject this
	// request on its own terms, but §4.5 requires the replay check to run
	// first and report ErrReplayDetected regardless.
	second, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       "not-the-right-proof",
		Method:      "GET",
		Path:        "/wrong-path",
		RawPayload:  []byte("not json"),
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Valid || second.Code != ErrReplayDetected {
		t.Fatalf("expected replay rejection to take priority, got valid=%v code=%s", second.Valid, second.Code)
	}
}

func TestAsh_Verify_RejectsExpired(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cursor := fixed
	clock := func() time.Time { return cursor }

	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock, DefaultTTL: time.Second})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "GET", Path: "/ping"})
	if err != nil {
		t.Fatal(err)
	}

	cursor = cursor.Add(2 * time.Second)

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       "whatever",
		Method:      "GET",
		Path:        "/ping",
		RawPayload:  []byte("{}"),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.Code != ErrContextExpired {
		t.Fatalf("expected expiry rejection, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestAsh_Verify_RejectsEndpointMismatch(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "POST", Path: "/orders"})
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{}`)
	canonical, _ := canonicalize.Canonicalize("application/json", payload)
	proof := buildProofV1(ModeBalanced, info.Binding, info.ContextID, "", canonical)

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "POST",
		Path:        "/refunds",
		RawPayload:  payload,
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.Code != ErrEndpointMismatch {
		t.Fatalf("expected endpoint mismatch, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestAsh_Verify_RejectsTamperedPayload(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "POST", Path: "/orders"})
	if err != nil {
		t.Fatal(err)
	}

	signedPayload := []byte(`{"amount":100}`)
	canonical, _ := canonicalize.Canonicalize("application/json", signedPayload)
	proof := buildProofV1(ModeBalanced, info.Binding, info.ContextID, "", canonical)

	tampered := []byte(`{"amount":100000}`)
	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "POST",
		Path:        "/orders",
		RawPayload:  tampered,
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.Code != ErrIntegrityFailed {
		t.Fatalf("expected integrity failure, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestAsh_Verify_RejectsUnsupportedContentType(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{Method: "POST", Path: "/orders"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       "irrelevant-until-canonicalization-succeeds",
		Method:      "POST",
		Path:        "/orders",
		RawPayload:  []byte("<xml/>"),
		ContentType: "application/xml",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.Code != ErrUnsupportedContentType {
		t.Fatalf("expected unsupported content type rejection, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestAsh_Verify_UnknownContext(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   "ctx_does_not_exist",
		Proof:       "anything",
		Method:      "GET",
		Path:        "/x",
		RawPayload:  []byte("{}"),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid || result.Code != ErrInvalidContext {
		t.Fatalf("expected invalid context, got valid=%v code=%s", result.Valid, result.Code)
	}
}

func TestAsh_IssueAndVerify_V1_Strict_BindsNonce(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{
		Method: "POST",
		Path:   "/orders",
		Mode:   ModeStrict,
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.Nonce == "" {
		t.Fatal("strict mode must return a nonce")
	}

	payload := []byte(`{}`)
	canonical, _ := canonicalize.Canonicalize("application/json", payload)

	wrongProof := buildProofV1(ModeStrict, info.Binding, info.ContextID, "", canonical)
	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID: info.ContextID, Proof: wrongProof, Method: "POST", Path: "/orders",
		RawPayload: payload, ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Fatal("expected verify to fail when nonce is omitted from the transcript")
	}

	rightProof := buildProofV1(ModeStrict, info.Binding, info.ContextID, info.Nonce, canonical)
	result, err = engine.Verify(context.Background(), VerifyRequest{
		ContextID: info.ContextID, Proof: rightProof, Method: "POST", Path: "/orders",
		RawPayload: payload, ContentType: "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got code %s", result.Code)
	}
}

func TestAsh_IssueAndVerify_V21_RoundTrip(t *testing.T) {
	clock := time.Now
	store := newMemStoreForTest(clock)
	engine := New(store, &Config{Clock: clock})

	info, err := engine.IssueContext(context.Background(), IssueContextOptions{
		Method:   "POST",
		Path:     "/payments",
		Protocol: ProtocolV21,
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.ClientSecret == "" {
		t.Fatal("v2.1 issuance must return a derived client secret")
	}
	if info.Nonce != "" {
		t.Fatal("v2.1 must never expose the raw server nonce")
	}

	payload := []byte(`{"amount":500}`)
	canonical, _ := canonicalize.Canonicalize("application/json", payload)
	ts := int64(1700000000000)
	proof, err := buildProofV21(info.ClientSecret, ts, info.Binding, canonical)
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Verify(context.Background(), VerifyRequest{
		ContextID:   info.ContextID,
		Proof:       proof,
		Method:      "POST",
		Path:        "/payments",
		RawPayload:  payload,
		ContentType: "application/json",
		Timestamp:   ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got code %s", result.Code)
	}
}

func TestAsh_IssueContext_RejectsEmptyMethod(t *testing.T) {
	store := newMemStoreForTest(time.Now)
	engine := New(store, nil)

	_, err := engine.IssueContext(context.Background(), IssueContextOptions{Path: "/orders"})
	if err == nil {
		t.Fatal("expected error for missing method")
	}
}

func TestAsh_IssueContext_RateLimitedActorIsRejected(t *testing.T) {
	store := newMemStoreForTest(time.Now)
	limiter := kernel.NewInMemoryLimiterStore()
	engine := New(store, &Config{
		RateLimiter:     limiter,
		RateLimitPolicy: kernel.BackpressurePolicy{RPM: 60, Burst: 1},
	})

	opts := IssueContextOptions{Method: "POST", Path: "/orders", ActorID: "tenant-a/user-1"}

	if _, err := engine.IssueContext(context.Background(), opts); err != nil {
		t.Fatalf("first call within burst should succeed: %v", err)
	}

	if _, err := engine.IssueContext(context.Background(), opts); err == nil {
		t.Fatal("expected second call to exceed burst of 1 and be rejected")
	}
}
