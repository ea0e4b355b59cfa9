package app

import "time"

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	// APIBaseURL is the chat REST backend, e.g. https://api.example.com.
	APIBaseURL string
	// PushURL is the websocket push channel. Empty disables push and
	// makes polling the primary strategy.
	PushURL string

	// TokenPath is the file holding the persisted bearer token.
	TokenPath string

	LogLevel  string
	LogFormat string

	// DebugAddr serves /healthz and /metrics when non-empty.
	DebugAddr string

	PollInterval   time.Duration
	UnreadInterval time.Duration
	TypingQuiet    time.Duration

	PushMaxAttempts    int
	PushBackoffInitial time.Duration
	PushBackoffMax     time.Duration

	// PullFallback swaps in polling when push reconnects are exhausted.
	PullFallback bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		APIBaseURL: EnvString("LANCER_API_URL", "http://127.0.0.1:8080"),
		PushURL:    EnvString("LANCER_PUSH_URL", ""),

		TokenPath: EnvString("LANCER_TOKEN_PATH", ".lancer-token"),

		LogLevel:  EnvString("LANCER_LOG_LEVEL", "info"),
		LogFormat: EnvString("LANCER_LOG_FORMAT", "text"),

		DebugAddr: EnvString("LANCER_DEBUG_ADDR", ""),

		PollInterval:   EnvDuration("LANCER_POLL_INTERVAL", 2*time.Second),
		UnreadInterval: EnvDuration("LANCER_UNREAD_INTERVAL", 30*time.Second),
		TypingQuiet:    EnvDuration("LANCER_TYPING_QUIET", time.Second),

		PushMaxAttempts:    EnvInt("LANCER_PUSH_MAX_ATTEMPTS", 6),
		PushBackoffInitial: EnvDuration("LANCER_PUSH_BACKOFF_INITIAL", 2*time.Second),
		PushBackoffMax:     EnvDuration("LANCER_PUSH_BACKOFF_MAX", 30*time.Second),

		PullFallback: EnvBool("LANCER_PULL_FALLBACK", true),
	}
}
