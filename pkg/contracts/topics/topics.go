package topics

const (
	// Exchange
	MatchCreated = "match_created"

	// Liquidação
	EventFinished = "event_finished"
	EventSettled  = "event_settled"

	// DLQs
	EventFinishedDLQ = "event_finished_dlq"
)
