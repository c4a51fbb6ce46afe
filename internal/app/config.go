package app

import (
	"time"

	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/utils"
)

// Config is built once in main and passed by injection into the worker and
// pipelines. Nothing reads these env vars anywhere else.
type Config struct {
	JWTSecretKey string

	WorkerConcurrency int
	IdlePollDelay     time.Duration
	ErrorBackoffDelay time.Duration

	HeartbeatInterval  time.Duration
	StaleJobTimeout    time.Duration
	RequeueSweepPeriod time.Duration

	// Whole-job budget for structural repair, distinct from the per-call
	// corrective retry inside the generation client.
	MaxRepairAttempts int
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		JWTSecretKey:       utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		WorkerConcurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		IdlePollDelay:      time.Duration(utils.GetEnvAsInt("WORKER_IDLE_POLL_MS", 1000, log)) * time.Millisecond,
		ErrorBackoffDelay:  time.Duration(utils.GetEnvAsInt("WORKER_ERROR_BACKOFF_MS", 5000, log)) * time.Millisecond,
		HeartbeatInterval:  time.Duration(utils.GetEnvAsInt("JOB_HEARTBEAT_SECONDS", 15, log)) * time.Second,
		StaleJobTimeout:    time.Duration(utils.GetEnvAsInt("JOB_STALE_TIMEOUT_SECONDS", 120, log)) * time.Second,
		RequeueSweepPeriod: time.Duration(utils.GetEnvAsInt("JOB_REQUEUE_SWEEP_SECONDS", 60, log)) * time.Second,
		MaxRepairAttempts:  utils.GetEnvAsInt("JOB_MAX_REPAIR_ATTEMPTS", 3, log),
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.MaxRepairAttempts < 1 {
		cfg.MaxRepairAttempts = 1
	}
	// A cutoff tighter than two heartbeats would requeue slow-but-alive workers.
	if cfg.StaleJobTimeout < 2*cfg.HeartbeatInterval {
		if log != nil {
			log.Warn("JOB_STALE_TIMEOUT_SECONDS below 2x heartbeat interval, raising",
				"configured", cfg.StaleJobTimeout.String(),
				"heartbeat", cfg.HeartbeatInterval.String(),
			)
		}
		cfg.StaleJobTimeout = 2 * cfg.HeartbeatInterval
	}
	return cfg
}
