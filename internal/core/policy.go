package core

import (
	"time"

	"resourcewatch/internal/types"
)

type PolicyConfig struct {
	MaxRetries  uint
	BanDuration time.Duration
	// RetryBackoff delays re-dispatch of a failed resource. Zero retries on every cycle.
	RetryBackoff time.Duration
}

// Attempt is what a worker knows once Fetch and the chain have finished.
type Attempt struct {
	Tenant     string
	Metadata   types.ResourceMetadata
	Result     types.ResultType
	Extensions []byte
}

// Decide computes the state to persist after one processing attempt.
//
// A success records the processed version and clears all failure history.
// A failure keeps the last successfully processed version so the resource is
// seen as changed again next cycle, and bans it once RetryCount exceeds
// MaxRetries.
func Decide(prev *types.ResourceState, a Attempt, cfg PolicyConfig, now time.Time) types.ResourceState {
	var next types.ResourceState
	if prev != nil {
		next = prev.Clone()
	}
	next.Tenant = a.Tenant
	next.ResourceID = a.Metadata.ResourceID
	next.UpdatedAt = now

	if a.Result == types.ResultNormal {
		next.Fingerprint = a.Metadata.Fingerprint
		next.Modified = a.Metadata.Modified
		next.RetryCount = 0
		next.BannedUntil = nil
		next.Extensions = a.Extensions
		return next
	}

	next.RetryCount++
	if next.RetryCount > cfg.MaxRetries {
		until := now.Add(cfg.BanDuration)
		next.BannedUntil = &until
	}
	return next
}

// retryDelay is how long a resource that failed RetryCount times waits before
// it is dispatched again.
func retryDelay(retryCount uint, cfg PolicyConfig) time.Duration {
	if cfg.RetryBackoff <= 0 || retryCount == 0 {
		return 0
	}
	shift := retryCount - 1
	if shift > 30 {
		shift = 30
	}
	delay := cfg.RetryBackoff << shift
	if delay <= 0 || (cfg.BanDuration > 0 && delay > cfg.BanDuration) {
		delay = cfg.BanDuration
	}
	return delay
}

func retryDue(state *types.ResourceState, cfg PolicyConfig, now time.Time) bool {
	if state == nil || state.RetryCount == 0 {
		return true
	}
	delay := retryDelay(state.RetryCount, cfg)
	if delay == 0 {
		return true
	}
	return !now.Before(state.UpdatedAt.Add(delay))
}
