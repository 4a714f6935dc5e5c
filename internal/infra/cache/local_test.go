package cache

import (
	"errors"
	"testing"
	"time"

	"tg-points-bot/internal/domain"
)

func newTestLocal(t *testing.T) (*Local, *time.Time) {
	t.Helper()
	c, err := NewLocal(16)
	if err != nil {
		t.Fatalf("не удалось создать кэш: %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLocalIncrAndExpiry(t *testing.T) {
	c, now := newTestLocal(t)

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr("activity:2026-03-10:1", time.Hour)
		if err != nil || got != want {
			t.Fatalf("ожидали %d, получили %d (%v)", want, got, err)
		}
	}
	*now = now.Add(2 * time.Hour)
	got, err := c.Incr("activity:2026-03-10:1", time.Hour)
	if err != nil || got != 1 {
		t.Fatalf("после истечения TTL счётчик начинается заново, получили %d (%v)", got, err)
	}
}

func TestLocalGetMissing(t *testing.T) {
	c, now := newTestLocal(t)
	if _, err := c.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if err := c.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	v, err := c.Get("k")
	if err != nil || string(v) != "v" {
		t.Fatalf("ожидали v, получили %q (%v)", v, err)
	}
	*now = now.Add(time.Minute)
	if _, err := c.Get("k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ключ должен истечь, получили %v", err)
	}
}

func TestLocalOnce(t *testing.T) {
	c, _ := newTestLocal(t)
	calls := 0
	fn := func() error { calls++; return nil }
	for i := 0; i < 3; i++ {
		if err := c.Once("job", time.Hour, fn); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", calls)
	}

	failing := errors.New("boom")
	if err := c.Once("flaky", time.Hour, func() error { return failing }); !errors.Is(err, failing) {
		t.Fatalf("ожидали ошибку fn, получили %v", err)
	}
	called := false
	if err := c.Once("flaky", time.Hour, func() error { called = true; return nil }); err != nil || !called {
		t.Fatalf("после ошибки ключ должен сниматься")
	}
}
