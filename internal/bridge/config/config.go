// Package config defines janus's env-based configuration, loaded with
// pkg/config.Load.
package config

// Config is the full set of environment variables janus reads at startup.
type Config struct {
	DiscordToken  string `env:"DISCORD_TOKEN" validate:"required"`
	SlackToken    string `env:"SLACK_TOKEN" validate:"required"`
	SlackAppToken string `env:"SLACK_APP_TOKEN" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL" validate:"required"`
	KVURL       string `env:"KV_URL" validate:"required"`

	RateLimitPerChannel    int64 `env:"RATE_LIMIT_PER_CHANNEL" env-default:"5"`
	RateLimitWindowSeconds int   `env:"RATE_LIMIT_WINDOW_SECONDS" env-default:"2"`

	LoopHashTTLSeconds int `env:"LOOP_HASH_TTL" env-default:"10"`

	CircuitBreakerFailureThreshold int `env:"CB_FAILURE_THRESHOLD" env-default:"10"`
	CircuitBreakerResetTimeoutMS   int `env:"CB_RESET_TIMEOUT_MS" env-default:"60000"`

	EditUpdateTTLSeconds int `env:"EDIT_UPDATE_TTL_SECONDS" env-default:"604800"`

	WebBaseURL string `env:"WEB_BASE_URL" env-default:"https://app.example.com"`

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}
