package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/ratelimit"
)

type fakeBucketRepo struct {
	tokens  float64
	allowed bool
	err     error
}

func (f *fakeBucketRepo) Check(_ context.Context, _ string, _, _ float64) (float64, bool, error) {
	return f.tokens, f.allowed, f.err
}

func (f *fakeBucketRepo) Reset(_ context.Context, _ string) error { return nil }

func TestCheck_Allowed(t *testing.T) {
	repo := &fakeBucketRepo{tokens: 4, allowed: true}
	l := ratelimit.New(repo)

	res, err := l.Check(context.Background(), "send_email", "user:u1:send_email", domain.RateLimitRule{
		Requests: 5, Per: time.Minute, KeyType: domain.RateLimitByUser,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.Remaining != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEnforce_Denied(t *testing.T) {
	repo := &fakeBucketRepo{tokens: -1, allowed: false}
	l := ratelimit.New(repo)

	_, err := l.Enforce(context.Background(), "send_email", "user:u1:send_email", domain.RateLimitRule{
		Requests: 5, Per: time.Minute, KeyType: domain.RateLimitByUser,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if forgeerr.KindOf(err) != forgeerr.KindRateLimitExceeded {
		t.Fatalf("expected rate limit exceeded kind, got %v", forgeerr.KindOf(err))
	}
}

func TestEnforce_RetryAfterIsOneTokenWait(t *testing.T) {
	repo := &fakeBucketRepo{tokens: -1, allowed: false}
	l := ratelimit.New(repo)

	res, err := l.Check(context.Background(), "send_email", "global:send_email", domain.RateLimitRule{
		Requests: 10, Per: time.Second, KeyType: domain.RateLimitGlobal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// refill_rate=10/s, tokens=-1 -> (1-(-1))/10 = 0.2s, well within (0, 1s].
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Fatalf("retry_after out of S5 bounds: %v", res.RetryAfter)
	}
	if want := 200 * time.Millisecond; res.RetryAfter != want {
		t.Fatalf("retry_after = %v, want %v", res.RetryAfter, want)
	}
}

func TestBuildKey_Schemas(t *testing.T) {
	auth := domain.AuthContext{Authenticated: true, Claims: &domain.Claims{Subject: "u1"}, TenantID: "t1"}

	cases := []struct {
		keyType domain.RateLimitKeyType
		want    string
	}{
		{domain.RateLimitByUser, "user:u1:send_email"},
		{domain.RateLimitByIP, "ip:10.0.0.1:send_email"},
		{domain.RateLimitByTenant, "tenant:t1:send_email"},
		{domain.RateLimitByUserAction, "user_action:u1:send_email"},
		{domain.RateLimitGlobal, "global:send_email"},
	}
	for _, c := range cases {
		got := ratelimit.BuildKey(c.keyType, "send_email", auth, "10.0.0.1")
		if got != c.want {
			t.Errorf("BuildKey(%s) = %q, want %q", c.keyType, got, c.want)
		}
	}
}
