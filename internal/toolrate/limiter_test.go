package toolrate

import "testing"

func TestAllowedWithinLimits(t *testing.T) {
	l := New()
	cfg := NewConfig(10, 100)

	result := l.CheckAndRecord("user1", "shell", cfg)
	if !result.Allowed {
		t.Fatal("expected allowed")
	}
	if result.RemainingMinute != 9 {
		t.Fatalf("remaining minute = %d, want 9", result.RemainingMinute)
	}
	if result.RemainingHour != 99 {
		t.Fatalf("remaining hour = %d, want 99", result.RemainingHour)
	}
}

func TestMinuteLimitExceeded(t *testing.T) {
	l := New()
	cfg := NewConfig(2, 100)

	l.CheckAndRecord("user1", "shell", cfg)
	l.CheckAndRecord("user1", "shell", cfg)
	result := l.CheckAndRecord("user1", "shell", cfg)

	if result.Allowed {
		t.Fatal("expected limited")
	}
	if result.LimitType != LimitPerMinute {
		t.Fatalf("limit type = %v, want per-minute", result.LimitType)
	}
	if result.RetryAfter > 60e9 {
		t.Fatalf("retry after too large: %v", result.RetryAfter)
	}
}

func TestHourLimitExceeded(t *testing.T) {
	l := New()
	cfg := NewConfig(100, 2)

	l.CheckAndRecord("user1", "shell", cfg)
	l.CheckAndRecord("user1", "shell", cfg)
	result := l.CheckAndRecord("user1", "shell", cfg)

	if result.Allowed {
		t.Fatal("expected limited")
	}
	if result.LimitType != LimitPerHour {
		t.Fatalf("limit type = %v, want per-hour", result.LimitType)
	}
}

func TestUserIsolation(t *testing.T) {
	l := New()
	cfg := NewConfig(1, 10)

	l.CheckAndRecord("user1", "shell", cfg)
	result1 := l.CheckAndRecord("user1", "shell", cfg)
	result2 := l.CheckAndRecord("user2", "shell", cfg)

	if result1.Allowed {
		t.Fatal("user1 should be limited")
	}
	if !result2.Allowed {
		t.Fatal("user2 should still have its limit")
	}
}

func TestToolIsolation(t *testing.T) {
	l := New()
	cfg := NewConfig(1, 10)

	l.CheckAndRecord("user1", "shell", cfg)
	result1 := l.CheckAndRecord("user1", "shell", cfg)
	result2 := l.CheckAndRecord("user1", "http", cfg)

	if result1.Allowed {
		t.Fatal("shell should be limited")
	}
	if !result2.Allowed {
		t.Fatal("http should still have its limit")
	}
}

func TestGetUsage(t *testing.T) {
	l := New()
	cfg := NewConfig(30, 300)

	l.CheckAndRecord("user1", "shell", cfg)
	l.CheckAndRecord("user1", "shell", cfg)
	l.CheckAndRecord("user1", "shell", cfg)

	minute, hour, ok := l.GetUsage("user1", "shell")
	if !ok {
		t.Fatal("expected usage present")
	}
	if minute != 3 || hour != 3 {
		t.Fatalf("usage = (%d, %d), want (3, 3)", minute, hour)
	}
}

func TestClear(t *testing.T) {
	l := New()
	cfg := NewConfig(1, 10)

	l.CheckAndRecord("user1", "shell", cfg)
	result1 := l.CheckAndRecord("user1", "shell", cfg)
	if result1.Allowed {
		t.Fatal("expected limited before clear")
	}

	l.Clear("user1", "shell")

	result2 := l.CheckAndRecord("user1", "shell", cfg)
	if !result2.Allowed {
		t.Fatal("expected allowed after clear")
	}
}

func TestClearAll(t *testing.T) {
	l := New()
	cfg := NewConfig(1, 10)

	l.CheckAndRecord("user1", "shell", cfg)
	l.CheckAndRecord("user2", "http", cfg)
	l.ClearAll()

	if _, _, ok := l.GetUsage("user1", "shell"); ok {
		t.Fatal("expected no usage after ClearAll")
	}
	if _, _, ok := l.GetUsage("user2", "http"); ok {
		t.Fatal("expected no usage after ClearAll")
	}
}

func TestCheckDoesNotRecord(t *testing.T) {
	l := New()
	cfg := NewConfig(1, 10)

	preview := l.Check("user1", "shell", cfg)
	if !preview.Allowed {
		t.Fatal("preview should be allowed")
	}
	if _, _, ok := l.GetUsage("user1", "shell"); ok {
		t.Fatal("Check should not record usage")
	}

	result := l.CheckAndRecord("user1", "shell", cfg)
	if !result.Allowed {
		t.Fatal("expected allowed")
	}
	result2 := l.CheckAndRecord("user1", "shell", cfg)
	if result2.Allowed {
		t.Fatal("expected limited on second record with limit 1")
	}
}
