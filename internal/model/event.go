package model

// EventType names a structured pipeline event.
type EventType string

const (
	EventMessageReceived         EventType = "message_received"
	EventMessageRejected         EventType = "message_rejected"
	EventChannelNotFound         EventType = "channel_not_found"
	EventJobAdded                EventType = "job_added"
	EventJobEnqueueFailed        EventType = "job_enqueue_failed"
	EventDuplicateMessageDropped EventType = "duplicate_message_dropped"
	EventRateLimited             EventType = "rate_limited"
	EventQuotaExceeded           EventType = "quota_exceeded"
	EventProtectionDegraded      EventType = "protection_degraded"
	EventModelRequestStarted     EventType = "model_request_started"
	EventModelRequestCompleted   EventType = "model_request_completed"
	EventMessageSent             EventType = "message_sent"
	EventNoticeSent              EventType = "notice_sent"
	EventJobFailed               EventType = "job_failed"
	EventJobRetryScheduled       EventType = "job_retry_scheduled"
	EventJobCompleted            EventType = "job_completed"
)
