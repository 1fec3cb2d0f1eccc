package orchestration

// Log event names. Alerting matches on these, so they must stay stable.
const (
	EventJobStart    = "incoming.job.start"
	EventJobProgress = "incoming.job.progress"
	EventJobSuccess  = "incoming.job.success"
	EventJobError    = "incoming.job.error"

	EventConnectError  = "incoming.connection.error"
	EventTunnelOpen    = "incoming.tunnel.open"
	EventQueryError    = "incoming.query.error"
	EventInvalidResult = "incoming.query.invalid_result"
	EventStreamError   = "incoming.stream.error"
	EventRecordSkipped = "incoming.record.skipped"

	EventBatchSealed      = "incoming.batch.sealed"
	EventBatchDropped     = "incoming.batch.dropped"
	EventBatchUploaded    = "incoming.batch.upload.success"
	EventBatchUploadError = "incoming.batch.upload.error"
	EventBatchEmpty       = "incoming.batch.empty"
	EventBatchNotified    = "incoming.batch.notify.success"
	EventBatchNotifyError = "incoming.batch.notify.error"

	EventPreviewError = "incoming.preview.error"
	EventStateError   = "incoming.state.error"
)
