package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// Capability token signing key, shared with verifying agents out of band.
	SigningKey string

	StripeSecretKey string
	WebhookSecret   string
	CronSecret      string
	ArtifactDir     string
	ArtifactBaseURL string
	ArtifactSignKey string
	DiscoveryURL    string
	HoldTTL         time.Duration
	HandshakeCost   string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	signingKey := os.Getenv("SIGNING_KEY")
	if signingKey == "" {
		return nil, fmt.Errorf("SIGNING_KEY environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	ttlHours := 72
	if raw := os.Getenv("HOLD_TTL_HOURS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid HOLD_TTL_HOURS: %q", raw)
		}
		ttlHours = parsed
	}

	cost := os.Getenv("HANDSHAKE_COST")
	if cost == "" {
		cost = "0.10"
	}

	artifactDir := os.Getenv("ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = os.TempDir()
	}

	artifactBase := os.Getenv("ARTIFACT_BASE_URL")
	if artifactBase == "" {
		artifactBase = "http://localhost:" + port + "/artifacts"
	}

	artifactKey := os.Getenv("ARTIFACT_SIGNING_KEY")
	if artifactKey == "" {
		artifactKey = signingKey
	}

	return &Config{
		DBSource:        dbSource,
		Port:            port,
		Env:             env,
		SigningKey:      signingKey,
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CronSecret:      os.Getenv("CRON_SECRET"),
		ArtifactDir:     artifactDir,
		ArtifactBaseURL: artifactBase,
		ArtifactSignKey: artifactKey,
		DiscoveryURL:    os.Getenv("DISCOVERY_URL"),
		HoldTTL:         time.Duration(ttlHours) * time.Hour,
		HandshakeCost:   cost,
	}, nil
}
