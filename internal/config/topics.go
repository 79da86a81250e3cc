package config

const (
	// TopicSignalOutcome carries the final outcome of every trade-signal attempt.
	TopicSignalOutcome = "jobs.signal.outcome"

	// TopicProofOutcome carries the final outcome of every proof request.
	TopicProofOutcome = "jobs.proof.outcome"
)
