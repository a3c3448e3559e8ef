package messaging

// Topic identifies a Kafka topic used by the order engine.
type Topic string

const (
	// TopicOrderIntake carries validated order-creation drafts from the API
	// tier to the intake batching pipeline.
	TopicOrderIntake Topic = "orderdesk.intake"

	// TopicCancelRequests carries cancellation requests from the API tier to
	// the cancellation coordinator.
	TopicCancelRequests Topic = "orderdesk.cancel.requests"

	// TopicEngineCommands carries place/cancel commands to the matching
	// engine.
	TopicEngineCommands Topic = "orderdesk.engine.commands"
)
