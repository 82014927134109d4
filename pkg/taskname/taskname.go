package taskname

const (
	// Broadcast tasks
	BroadcastDispatch = "broadcast:dispatch"

	// Reward tasks
	RewardDistributeWeekly = "reward:distribute_weekly"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
