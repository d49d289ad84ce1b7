package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "security-audit",
			Mode:     "development",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "securityaudit",
			MaxConnections: 25,
		},
		API: APIConfig{
			Port:      8080,
			JWTSecret: "secret",
		},
		Anomaly: AnomalyConfig{
			Trees:                   100,
			SampleSize:              128,
			Threshold:               0.65,
			TrainingLookbackHours:   24,
			MinTrainingSamples:      50,
			CatchUpMinutes:          120,
			RetrainMinutes:          15,
			EvaluationWindowMinutes: 1,
		},
		Backoff: BackoffConfig{
			BlockThreshold: 8,
			Window:         10 * time.Minute,
			BlockTime:      10 * time.Minute,
			MaxBackoff:     30 * time.Second,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "missing app name",
			mutate:   func(c *Config) { c.App.Name = "" },
			expected: "app.name is required",
		},
		{
			name:     "bad mode",
			mutate:   func(c *Config) { c.App.Mode = "staging" },
			expected: "app.mode must be one of",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.App.LogLevel = "trace" },
			expected: "app.log_level must be one of",
		},
		{
			name:     "bad database port",
			mutate:   func(c *Config) { c.Database.Port = 0 },
			expected: "database.port must be between",
		},
		{
			name:     "zero trees",
			mutate:   func(c *Config) { c.Anomaly.Trees = 0 },
			expected: "anomaly.trees must be positive",
		},
		{
			name:     "threshold above one",
			mutate:   func(c *Config) { c.Anomaly.Threshold = 1.5 },
			expected: "anomaly.threshold must be between 0 and 1",
		},
		{
			name:     "zero catch-up",
			mutate:   func(c *Config) { c.Anomaly.CatchUpMinutes = 0 },
			expected: "anomaly.catch_up_minutes must be positive",
		},
		{
			name:     "zero block threshold",
			mutate:   func(c *Config) { c.Backoff.BlockThreshold = 0 },
			expected: "backoff.block_threshold must be positive",
		},
		{
			name:     "missing jwt secret",
			mutate:   func(c *Config) { c.API.JWTSecret = "" },
			expected: "api.jwt_secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.App.Name = ""
	cfg.Anomaly.Trees = 0
	cfg.API.JWTSecret = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.name is required")
	assert.Contains(t, err.Error(), "anomaly.trees must be positive")
	assert.Contains(t, err.Error(), "api.jwt_secret is required")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "security-audit", cfg.App.Name)
	assert.Equal(t, 100, cfg.Anomaly.Trees)
	assert.Equal(t, 128, cfg.Anomaly.SampleSize)
	assert.InDelta(t, 0.65, cfg.Anomaly.Threshold, 1e-9)
	assert.Equal(t, 24, cfg.Anomaly.TrainingLookbackHours)
	assert.Equal(t, 50, cfg.Anomaly.MinTrainingSamples)
	assert.Equal(t, 120, cfg.Anomaly.CatchUpMinutes)
	assert.Equal(t, 15, cfg.Anomaly.RetrainMinutes)
	assert.Equal(t, 1, cfg.Anomaly.EvaluationWindowMinutes)
	assert.Equal(t, 8, cfg.Backoff.BlockThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Backoff.Window)
}

func TestAnomalyConfig_Seed(t *testing.T) {
	cfg := AnomalyConfig{RandomSeed: 0}
	assert.Nil(t, cfg.Seed(), "zero means unseeded")

	cfg.RandomSeed = 42
	seed := cfg.Seed()
	require.NotNil(t, seed)
	assert.Equal(t, int64(42), *seed)
}
