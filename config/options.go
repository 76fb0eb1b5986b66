package config

import (
	"lampkit/engine"
	"lampkit/retry"
)

// EngineOptions converts the sync section into engine timings. Every remote
// call shares the same retry policy.
func (s SyncConfig) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	policy := retry.Policy{Attempts: s.RetryAttempts, BaseDelay: s.RetryBaseDelay}

	opts.Retry = policy
	opts.Fetch.BlocksPerQuery = s.BlocksPerQuery
	opts.Fetch.RequestDelay = s.RequestDelay
	opts.Fetch.Retry = policy

	opts.Queue.Capacity = s.RetryQueueCapacity
	opts.Queue.MaxWidth = s.BlocksPerQuery
	opts.Queue.IdleInterval = s.RetryQueueIdle
	opts.Queue.Throttle = s.RetryQueueThrottle
	opts.Queue.Retry = policy

	opts.Cache.TTL = s.CacheTTL
	opts.Cache.Lookback = s.LookbackBlocks
	opts.Cache.ScoreBatchSize = s.ScoreBatchSize
	opts.Cache.ScoreBatchDelay = s.ScoreBatchDelay
	opts.Cache.Retry = policy

	opts.Dedupe = s.Dedupe
	opts.DedupeWindow = s.DedupeWindow
	return opts
}
