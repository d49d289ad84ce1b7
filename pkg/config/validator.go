package config

import (
	"errors"
	"fmt"
)

func (c *Config) Validate() error {
	var errs []error

	// App validation
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}

	validModes := map[string]bool{"development": true, "production": true, "test": true}
	if !validModes[c.App.Mode] {
		errs = append(errs, fmt.Errorf("app.mode must be one of: development, production, test"))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Errorf("app.log_level must be one of: debug, info, warn, error"))
	}

	// Database validation
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, errors.New("database.port must be between 1 and 65535"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if c.Database.MaxConnections <= 0 {
		errs = append(errs, errors.New("database.max_connections must be positive"))
	}

	// Anomaly engine validation
	if c.Anomaly.Trees <= 0 {
		errs = append(errs, errors.New("anomaly.trees must be positive"))
	}
	if c.Anomaly.SampleSize <= 0 {
		errs = append(errs, errors.New("anomaly.sample_size must be positive"))
	}
	if c.Anomaly.Threshold < 0 || c.Anomaly.Threshold > 1 {
		errs = append(errs, errors.New("anomaly.threshold must be between 0 and 1"))
	}
	if c.Anomaly.TrainingLookbackHours <= 0 {
		errs = append(errs, errors.New("anomaly.training_lookback_hours must be positive"))
	}
	if c.Anomaly.CatchUpMinutes <= 0 {
		errs = append(errs, errors.New("anomaly.catch_up_minutes must be positive"))
	}
	if c.Anomaly.RetrainMinutes <= 0 {
		errs = append(errs, errors.New("anomaly.retrain_minutes must be positive"))
	}
	if c.Anomaly.EvaluationWindowMinutes <= 0 {
		errs = append(errs, errors.New("anomaly.evaluation_window_minutes must be positive"))
	}

	// Backoff validation
	if c.Backoff.BlockThreshold <= 0 {
		errs = append(errs, errors.New("backoff.block_threshold must be positive"))
	}
	if c.Backoff.Window <= 0 {
		errs = append(errs, errors.New("backoff.window must be positive"))
	}

	// API validation
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}
	if c.API.JWTSecret == "" {
		errs = append(errs, errors.New("api.jwt_secret is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
