package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("LANCER_TEST_STR", "  value  ")
	if got := EnvString("LANCER_TEST_STR", "def"); got != "value" {
		t.Fatalf("got=%q want=value", got)
	}
	if got := EnvString("LANCER_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("got=%q want=def", got)
	}

	t.Setenv("LANCER_TEST_STR", "   ")
	if got := EnvString("LANCER_TEST_STR", "def"); got != "def" {
		t.Fatalf("blank got=%q want=def", got)
	}
}

func TestEnvBool(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"", true, true},
		{"nope", true, true},
		{"nope", false, false},
	}
	for _, tc := range cases {
		t.Setenv("LANCER_TEST_BOOL", tc.raw)
		if got := EnvBool("LANCER_TEST_BOOL", tc.def); got != tc.want {
			t.Fatalf("raw=%q def=%v got=%v want=%v", tc.raw, tc.def, got, tc.want)
		}
	}
}

func TestEnvInt(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"8", 8},
		{"", 5},
		{"abc", 5},
		{"0", 5},
		{"-3", 5},
	}
	for _, tc := range cases {
		t.Setenv("LANCER_TEST_INT", tc.raw)
		if got := EnvInt("LANCER_TEST_INT", 5); got != tc.want {
			t.Fatalf("raw=%q got=%d want=%d", tc.raw, got, tc.want)
		}
	}
}

func TestEnvDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"", time.Second},
		{"soon", time.Second},
		{"-5s", time.Second},
		{"0s", time.Second},
	}
	for _, tc := range cases {
		t.Setenv("LANCER_TEST_DUR", tc.raw)
		if got := EnvDuration("LANCER_TEST_DUR", time.Second); got != tc.want {
			t.Fatalf("raw=%q got=%v want=%v", tc.raw, got, tc.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.APIBaseURL == "" || cfg.TokenPath == "" {
		t.Fatalf("config=%+v missing defaults", cfg)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval=%v want=2s", cfg.PollInterval)
	}
	if cfg.UnreadInterval != 30*time.Second {
		t.Fatalf("unread interval=%v want=30s", cfg.UnreadInterval)
	}
	if cfg.TypingQuiet != time.Second {
		t.Fatalf("typing quiet=%v want=1s", cfg.TypingQuiet)
	}
	if cfg.PushMaxAttempts != 6 {
		t.Fatalf("push attempts=%d want=6", cfg.PushMaxAttempts)
	}
	if !cfg.PullFallback {
		t.Fatalf("pull fallback must default on")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LANCER_API_URL", "https://api.test")
	t.Setenv("LANCER_PUSH_URL", "wss://push.test/ws")
	t.Setenv("LANCER_POLL_INTERVAL", "500ms")
	t.Setenv("LANCER_PUSH_MAX_ATTEMPTS", "2")
	t.Setenv("LANCER_PULL_FALLBACK", "false")

	cfg := LoadConfig()
	if cfg.APIBaseURL != "https://api.test" || cfg.PushURL != "wss://push.test/ws" {
		t.Fatalf("urls=%q %q", cfg.APIBaseURL, cfg.PushURL)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.PushMaxAttempts != 2 {
		t.Fatalf("intervals not applied: %+v", cfg)
	}
	if cfg.PullFallback {
		t.Fatalf("pull fallback override not applied")
	}
}
