package settings

// DB config keys and defaults for the engine.
const (
	// TickIntervalSecondsKey controls the scheduler tick interval in seconds.
	TickIntervalSecondsKey = "ENGINE_TICK_INTERVAL_SECONDS"
	// EvalConcurrencyKey controls the max concurrent trigger evaluations.
	EvalConcurrencyKey = "ENGINE_EVAL_CONCURRENCY"
	// CheckTimeoutSecondsKey caps a single CheckTrigger provider call in seconds.
	CheckTimeoutSecondsKey = "ENGINE_CHECK_TIMEOUT_SECONDS"
	// ReactionTimeoutSecondsKey caps a single reaction attempt in seconds.
	ReactionTimeoutSecondsKey = "ENGINE_REACTION_TIMEOUT_SECONDS"
	// ExecutionsRetentionDaysKey controls how long execution history rows are
	// kept. Zero or negative disables the cleaner.
	ExecutionsRetentionDaysKey = "EXECUTIONS_RETENTION_DAYS"

	// DefaultTickIntervalSeconds is the fallback tick interval (seconds).
	DefaultTickIntervalSeconds = 30
	// DefaultEvalConcurrency is the fallback evaluation pool size.
	DefaultEvalConcurrency = 8
	// DefaultCheckTimeoutSeconds is the fallback CheckTrigger timeout (seconds).
	DefaultCheckTimeoutSeconds = 20
	// DefaultReactionTimeoutSeconds is the fallback reaction attempt timeout (seconds).
	DefaultReactionTimeoutSeconds = 20
	// DefaultExecutionsRetentionDays is the fallback execution history retention.
	DefaultExecutionsRetentionDays = 30
)
