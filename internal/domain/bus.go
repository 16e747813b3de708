package domain

// EventBus queues inbound events between messengers and the pipeline.
type EventBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
