package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PaymentBufferDays != 7 {
		t.Errorf("buffer days: got %d, want 7", cfg.PaymentBufferDays)
	}
	if cfg.Fees.ProjectEscrowFraction.String() != "0.5" {
		t.Errorf("escrow fraction: got %s", cfg.Fees.ProjectEscrowFraction)
	}
	if cfg.Attendance.WindowStart != 360 || cfg.Attendance.WindowEnd != 1200 {
		t.Errorf("window: got %d-%d", cfg.Attendance.WindowStart, cfg.Attendance.WindowEnd)
	}
	if cfg.Gateway.Timeout != 10*time.Second {
		t.Errorf("gateway timeout: got %s", cfg.Gateway.Timeout)
	}
	if cfg.BufferDuration() != 7*24*time.Hour {
		t.Errorf("buffer duration: got %s", cfg.BufferDuration())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEE_MOBILE_INVITE_FRACTION", "0.08")
	t.Setenv("PAYMENT_BUFFER_DAYS", "3")
	t.Setenv("ATTENDANCE_WINDOW_START", "07:30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fees.MobileInviteFeeFraction.String() != "0.08" {
		t.Errorf("mobile invite fee: got %s", cfg.Fees.MobileInviteFeeFraction)
	}
	if cfg.PaymentBufferDays != 3 {
		t.Errorf("buffer days: got %d", cfg.PaymentBufferDays)
	}
	if cfg.Attendance.WindowStart != 7*60+30 {
		t.Errorf("window start: got %d", cfg.Attendance.WindowStart)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins: got %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadFraction(t *testing.T) {
	t.Setenv("FEE_DAILY_FRACTION", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for fraction > 1")
	}
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	t.Setenv("ATTENDANCE_WINDOW_START", "21:00")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for window end before start")
	}
}
