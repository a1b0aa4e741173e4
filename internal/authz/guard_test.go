// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package authz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tfedor/rolegate/internal/models"
)

// captureSink records audit events and signals their arrival so
// tests can wait for the async logger deterministically.
type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
	ch     chan AuditEvent
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan AuditEvent, 100)}
}

func (s *captureSink) Append(ctx context.Context, event *AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, *event)
	s.mu.Unlock()
	// Non-blocking: tests that never drain ch must not wedge the
	// logger's worker (and so AuditLogger.Close) once ch fills up.
	select {
	case s.ch <- *event:
	default:
	}
	return nil
}

// wait returns the next n events, failing the test on timeout.
func (s *captureSink) wait(t *testing.T, n int) []AuditEvent {
	t.Helper()
	collected := make([]AuditEvent, 0, n)
	deadline := time.After(2 * time.Second)
	for len(collected) < n {
		select {
		case event := <-s.ch:
			collected = append(collected, event)
		case <-deadline:
			t.Fatalf("timed out waiting for %d audit events, got %d", n, len(collected))
		}
	}
	return collected
}

// drain discards any pending events.
func (s *captureSink) drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

// newTestGuard builds a guard over a fake source with audit capture.
func newTestGuard(t *testing.T, src RecordSource, config *GuardConfig) (*Guard, *RoleCache, *captureSink) {
	t.Helper()

	cache := NewRoleCache(time.Minute)
	t.Cleanup(cache.Stop)

	sink := newCaptureSink()
	logger := NewAuditLogger(&AuditLoggerConfig{Enabled: true, BufferSize: 100}, sink)
	t.Cleanup(logger.Close)

	guard, err := NewGuard(cache, NewResolver(src, time.Second), logger, config)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return guard, cache, sink
}

func TestGuard_CoordinatorTiers(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u100", Role: models.RoleNameCoordinator, Status: models.StatusActive,
	})
	guard, _, sink := newTestGuard(t, src, nil)
	ctx := context.Background()

	decision := guard.Check(ctx, "u100", models.RoleCoordinator, "list")
	if !decision.Allowed {
		t.Errorf("coordinator denied at coordinator tier: %+v", decision)
	}

	decision = guard.Check(ctx, "u100", models.RoleAdmin, "refresh")
	if decision.Allowed {
		t.Error("coordinator allowed at admin tier")
	}
	if decision.Reason != ReasonInsufficientRole {
		t.Errorf("Reason = %q, want insufficient_role", decision.Reason)
	}

	events := sink.wait(t, 2)
	if events[0].Event != EventGrant || events[0].Reason != ReasonOK {
		t.Errorf("first event = %s/%s, want grant/ok", events[0].Event, events[0].Reason)
	}
	if events[1].Event != EventDeny || events[1].Reason != ReasonInsufficientRole {
		t.Errorf("second event = %s/%s, want deny/insufficient_role", events[1].Event, events[1].Reason)
	}
}

func TestGuard_UnknownUserDenied(t *testing.T) {
	guard, _, sink := newTestGuard(t, newFakeSource(), nil)

	decision := guard.Check(context.Background(), "u200", models.RoleViewer, "list")
	if decision.Allowed {
		t.Error("unknown user was allowed")
	}
	if decision.Role != models.RoleNone {
		t.Errorf("Role = %v, want none", decision.Role)
	}

	events := sink.wait(t, 1)
	if events[0].Reason != ReasonInsufficientRole {
		t.Errorf("Reason = %q, want insufficient_role", events[0].Reason)
	}
}

func TestGuard_RevokedDeniedWithRevokedReason(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u300", Role: models.RoleNameAdmin, Status: models.StatusRevoked,
	})
	guard, _, sink := newTestGuard(t, src, nil)

	// Fresh resolution consults the revoked record directly.
	decision := guard.Check(context.Background(), "u300", models.RoleViewer, "list")
	if decision.Allowed {
		t.Error("revoked user was allowed despite stored admin role")
	}

	events := sink.wait(t, 1)
	if events[0].Reason != ReasonRevoked {
		t.Errorf("Reason = %q, want revoked", events[0].Reason)
	}
	if events[0].ResolvedRole != models.RoleNone {
		t.Errorf("ResolvedRole = %v, want none", events[0].ResolvedRole)
	}
}

func TestGuard_CachesResolution(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u1", Role: models.RoleNameViewer, Status: models.StatusActive,
	})
	guard, _, _ := newTestGuard(t, src, nil)
	ctx := context.Background()

	first := guard.Check(ctx, "u1", models.RoleViewer, "list")
	second := guard.Check(ctx, "u1", models.RoleViewer, "list")

	if !first.Allowed || !second.Allowed {
		t.Fatal("active viewer denied at viewer tier")
	}
	if first.CacheHit {
		t.Error("first check reported a cache hit")
	}
	if !second.CacheHit {
		t.Error("second check missed the cache")
	}
	if src.callCount() != 1 {
		t.Errorf("source consulted %d times, want 1", src.callCount())
	}
}

func TestGuard_ResolutionFailureFailsClosed(t *testing.T) {
	src := newFakeSource()
	src.fail(errors.New("source down"))
	guard, cache, sink := newTestGuard(t, src, nil)

	decision := guard.Check(context.Background(), "u1", models.RoleViewer, "list")
	if decision.Allowed {
		t.Fatal("resolution failure was upgraded to allow")
	}
	if decision.Reason != ReasonResolutionFailure {
		t.Errorf("Reason = %q, want resolution_failure (not an ordinary deny)", decision.Reason)
	}

	// Exactly one deny event, and no cache entry was written.
	events := sink.wait(t, 1)
	if events[0].Event != EventDeny || events[0].Reason != ReasonResolutionFailure {
		t.Errorf("event = %s/%s, want deny/resolution_failure", events[0].Event, events[0].Reason)
	}
	select {
	case extra := <-sink.ch:
		t.Errorf("unexpected extra audit event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	if cache.Len() != 0 {
		t.Errorf("cache.Len() = %d after failed resolution, want 0", cache.Len())
	}
}

func TestGuard_TimeoutDeniesAsResolutionFailure(t *testing.T) {
	src := newFakeSource()
	src.fail(context.DeadlineExceeded)
	guard, _, sink := newTestGuard(t, src, nil)

	decision := guard.Check(context.Background(), "u1", models.RoleAdmin, "refresh")
	if decision.Allowed || decision.Reason != ReasonResolutionFailure {
		t.Errorf("timeout decision = %+v, want fail-closed resolution_failure deny", decision)
	}
	sink.wait(t, 1)
}

// TestGuard_BoundedStaleness is the external-revocation scenario: a
// cached admin keeps access until TTL expiry or an explicit refresh,
// then the revocation takes effect.
func TestGuard_BoundedStaleness(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u300", Role: models.RoleNameAdmin, Status: models.StatusActive,
	})
	guard, cache, sink := newTestGuard(t, src, nil)
	ctx := context.Background()

	if d := guard.Check(ctx, "u300", models.RoleAdmin, "refresh"); !d.Allowed {
		t.Fatalf("active admin denied: %+v", d)
	}

	// Revoked at the source while the cache entry is still live.
	src.set(models.AccessRecord{
		UserID: "u300", Role: models.RoleNameAdmin, Status: models.StatusRevoked,
	})

	if d := guard.Check(ctx, "u300", models.RoleAdmin, "refresh"); !d.Allowed {
		t.Error("cached admin denied inside TTL; staleness should be bounded, not zero")
	}

	cache.InvalidateAll()

	decision := guard.Check(ctx, "u300", models.RoleAdmin, "refresh")
	if decision.Allowed {
		t.Error("revoked admin still allowed after invalidate_all")
	}

	sink.drain()
	if decision.Reason != ReasonRevoked {
		t.Errorf("post-refresh Reason = %q, want revoked", decision.Reason)
	}
}

func TestGuard_GraceWindow(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u1", Role: models.RoleNameCoordinator, Status: models.StatusActive,
	})
	guard, cache, sink := newTestGuard(t, src, &GuardConfig{
		TTL:         time.Minute,
		GraceWindow: time.Minute,
	})
	ctx := context.Background()

	// Seed an entry that has just expired, then take the source down.
	cache.Put("u1", models.RoleCoordinator, -time.Second)
	src.fail(errors.New("source down"))

	decision := guard.Check(ctx, "u1", models.RoleCoordinator, "list")
	if !decision.Allowed {
		t.Fatalf("stale coordinator denied inside grace window: %+v", decision)
	}
	if decision.Reason != ReasonStaleGrant {
		t.Errorf("Reason = %q, want stale_grant", decision.Reason)
	}

	if got := sink.wait(t, 1); got[0].Reason != ReasonStaleGrant {
		t.Errorf("grant audit reason = %q, want stale_grant", got[0].Reason)
	}

	// The stale role cannot exceed its tier, and a deny during an
	// outage stays a resolution failure, never an ordinary deny.
	decision = guard.Check(ctx, "u1", models.RoleAdmin, "refresh")
	if decision.Allowed {
		t.Error("grace window granted a tier above the stale role")
	}
	if decision.Reason != ReasonResolutionFailure {
		t.Errorf("Reason = %q, want resolution_failure", decision.Reason)
	}
	if decision.Role != models.RoleNone {
		t.Errorf("Role = %v, want none", decision.Role)
	}

	events := sink.wait(t, 1)
	if events[0].Reason != ReasonResolutionFailure || events[0].ResolvedRole != models.RoleNone {
		t.Errorf("audit event = %s/%v, want resolution_failure/none",
			events[0].Reason, events[0].ResolvedRole)
	}
}

func TestGuard_GraceWindowOffByDefault(t *testing.T) {
	src := newFakeSource()
	guard, cache, _ := newTestGuard(t, src, nil)

	cache.Put("u1", models.RoleAdmin, -time.Second)
	src.fail(errors.New("source down"))

	decision := guard.Check(context.Background(), "u1", models.RoleViewer, "list")
	if decision.Allowed {
		t.Error("expired entry honored with grace window disabled")
	}
	if decision.Reason != ReasonResolutionFailure {
		t.Errorf("Reason = %q, want resolution_failure", decision.Reason)
	}
}

func TestGuard_RequireMiddleware(t *testing.T) {
	src := newFakeSource(
		models.AccessRecord{UserID: "viewer1", Role: models.RoleNameViewer, Status: models.StatusActive},
		models.AccessRecord{UserID: "admin1", Role: models.RoleNameAdmin, Status: models.StatusActive},
	)
	guard, _, _ := newTestGuard(t, src, nil)

	invoked := false
	handler := guard.Require(models.RoleAdmin, "refresh", func(w http.ResponseWriter, r *http.Request) {
		invoked = true
		if role, ok := ResolvedRoleFromContext(r.Context()); !ok || role != models.RoleAdmin {
			t.Errorf("resolved role in context = (%v, %v), want (admin, true)", role, ok)
		}
		w.WriteHeader(http.StatusOK)
	})

	// Viewer denied; wrapped handler must not run.
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req = req.WithContext(WithUserID(req.Context(), "viewer1"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if invoked {
		t.Fatal("wrapped operation ran despite deny")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("deny status = %d, want 403", rec.Code)
	}

	// Admin passes through unchanged.
	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req = req.WithContext(WithUserID(req.Context(), "admin1"))
	rec = httptest.NewRecorder()
	handler(rec, req)

	if !invoked {
		t.Error("wrapped operation did not run on allow")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("allow status = %d, want 200", rec.Code)
	}
}

// TestGuard_UniformDenialBody asserts every deny path produces the
// identical response, so callers cannot enumerate deny reasons.
func TestGuard_UniformDenialBody(t *testing.T) {
	srcDown := newFakeSource()
	srcDown.fail(errors.New("source down"))

	srcViewer := newFakeSource(models.AccessRecord{
		UserID: "u1", Role: models.RoleNameViewer, Status: models.StatusActive,
	})

	bodies := make(map[string]string)

	deny := func(name string, src RecordSource, withIdentity bool) {
		guard, _, _ := newTestGuard(t, src, nil)
		handler := guard.Require(models.RoleAdmin, "refresh", func(w http.ResponseWriter, r *http.Request) {
			t.Error("wrapped operation ran on a deny path")
		})
		req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
		if withIdentity {
			req = req.WithContext(WithUserID(req.Context(), "u1"))
		}
		rec := httptest.NewRecorder()
		handler(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", name, rec.Code)
		}
		body, _ := io.ReadAll(rec.Result().Body)
		bodies[name] = string(body)
	}

	deny("insufficient_role", srcViewer, true)
	deny("resolution_failure", srcDown, true)
	deny("anonymous", srcViewer, false)

	want := bodies["insufficient_role"]
	for name, body := range bodies {
		if body != want {
			t.Errorf("denial body for %s differs: %q vs %q", name, body, want)
		}
	}
}

func TestGuarded_HigherOrder(t *testing.T) {
	src := newFakeSource(models.AccessRecord{
		UserID: "u1", Role: models.RoleNameCoordinator, Status: models.StatusActive,
	})
	guard, _, _ := newTestGuard(t, src, nil)

	invoked := 0
	op := func(ctx context.Context) (string, error) {
		invoked++
		return "result", nil
	}

	allowed := Guarded(guard, models.RoleCoordinator, "export", op)
	denied := Guarded(guard, models.RoleAdmin, "refresh", op)

	ctx := WithUserID(context.Background(), "u1")

	out, err := allowed(ctx)
	if err != nil || out != "result" {
		t.Errorf("guarded allow = (%q, %v), want (result, nil)", out, err)
	}

	out, err = denied(ctx)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("guarded deny error = %v, want ErrAccessDenied", err)
	}
	if out != "" {
		t.Errorf("guarded deny returned %q, want zero value", out)
	}
	if invoked != 1 {
		t.Errorf("operation invoked %d times, want 1", invoked)
	}

	// No identity in context denies without consulting the source.
	before := src.callCount()
	if _, err := allowed(context.Background()); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("anonymous guarded call error = %v, want ErrAccessDenied", err)
	}
	if src.callCount() != before {
		t.Error("anonymous call consulted the record source")
	}
}

// TestGuard_TierComposition verifies the superset property: any user
// the admin guard admits, every lower guard admits too.
func TestGuard_TierComposition(t *testing.T) {
	src := newFakeSource(
		models.AccessRecord{UserID: "v", Role: models.RoleNameViewer, Status: models.StatusActive},
		models.AccessRecord{UserID: "c", Role: models.RoleNameCoordinator, Status: models.StatusActive},
		models.AccessRecord{UserID: "a", Role: models.RoleNameAdmin, Status: models.StatusActive},
	)
	guard, _, _ := newTestGuard(t, src, nil)
	ctx := context.Background()

	tiers := []models.Role{models.RoleViewer, models.RoleCoordinator, models.RoleAdmin}
	for _, user := range []string{"v", "c", "a"} {
		var prevAllowed = true
		for _, tier := range tiers {
			d := guard.Check(ctx, user, tier, "op")
			if d.Allowed && !prevAllowed {
				t.Errorf("user %s allowed at %v but denied at a lower tier", user, tier)
			}
			prevAllowed = d.Allowed
		}
	}
}

// TestGuard_RefreshDuringInFlightResolutions is the concurrent
// refresh scenario: a full invalidation races 10 users' checks, and
// every check must come out consistent (allowed, with the correct
// role) whether it hit the pre-refresh cache or re-resolved.
func TestGuard_RefreshDuringInFlightResolutions(t *testing.T) {
	records := make([]models.AccessRecord, 10)
	for i := range records {
		records[i] = models.AccessRecord{
			UserID: fmt.Sprintf("u%d", i),
			Role:   models.RoleNameCoordinator,
			Status: models.StatusActive,
		}
	}
	src := newFakeSource(records...)
	guard, cache, _ := newTestGuard(t, src, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			user := fmt.Sprintf("u%d", id)
			for j := 0; j < 200; j++ {
				d := guard.Check(context.Background(), user, models.RoleCoordinator, "list")
				if !d.Allowed {
					t.Errorf("user %s denied during refresh: %+v", user, d)
					return
				}
				if d.Role != models.RoleCoordinator {
					t.Errorf("user %s resolved to %v during refresh", user, d.Role)
					return
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		controller := NewRefreshController(cache)
		for j := 0; j < 50; j++ {
			controller.RefreshAll("admin1")
		}
	}()

	close(start)
	wg.Wait()
}

func TestGuard_WarmStart(t *testing.T) {
	src := newFakeSource(
		models.AccessRecord{UserID: "u1", Role: models.RoleNameViewer, Status: models.StatusActive},
		models.AccessRecord{UserID: "u2", Role: models.RoleNameAdmin, Status: models.StatusActive},
		models.AccessRecord{UserID: "u3", Role: models.RoleNameAdmin, Status: models.StatusRevoked},
	)
	guard, cache, _ := newTestGuard(t, src, nil)

	loaded, err := guard.WarmStart(context.Background())
	if err != nil {
		t.Fatalf("WarmStart: %v", err)
	}
	if loaded != 2 {
		t.Errorf("WarmStart loaded %d entries, want 2 (revoked excluded)", loaded)
	}
	if cache.Len() != 2 {
		t.Errorf("cache.Len() = %d, want 2", cache.Len())
	}

	// With the source down, warm entries still serve decisions.
	src.fail(errors.New("source down"))
	if d := guard.Check(context.Background(), "u2", models.RoleAdmin, "refresh"); !d.Allowed {
		t.Errorf("warm-started admin denied: %+v", d)
	}
}

func TestGuard_WarmStartFailure(t *testing.T) {
	src := newFakeSource()
	src.fail(errors.New("source down"))
	guard, cache, _ := newTestGuard(t, src, nil)

	if _, err := guard.WarmStart(context.Background()); !IsResolutionFailure(err) {
		t.Errorf("WarmStart error = %v, want a resolution failure", err)
	}
	if cache.Len() != 0 {
		t.Error("failed warm start wrote cache entries")
	}
}

func TestNewGuard_RequiredCollaborators(t *testing.T) {
	cache := NewRoleCache(time.Minute)
	defer cache.Stop()
	resolver := NewResolver(newFakeSource(), time.Second)
	logger := NewAuditLogger(&AuditLoggerConfig{Enabled: false}, nil)
	defer logger.Close()

	if _, err := NewGuard(nil, resolver, logger, nil); err == nil {
		t.Error("NewGuard accepted nil cache")
	}
	if _, err := NewGuard(cache, nil, logger, nil); err == nil {
		t.Error("NewGuard accepted nil resolver")
	}
	if _, err := NewGuard(cache, resolver, nil, nil); err == nil {
		t.Error("NewGuard accepted nil audit logger")
	}
}
