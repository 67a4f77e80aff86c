package stream

// JobEventType is the SSE event_type discriminant of export jobs.
type JobEventType string

const (
	JobProgress JobEventType = "progress"
	JobComplete JobEventType = "complete"
	JobError    JobEventType = "error"
)

// JobEvent is one server-sent update of a long-running export job.
type JobEvent struct {
	Type        JobEventType
	JobID       string
	Percent     float64
	Message     string
	DownloadURL string
}

// ParseJobEvent validates an SSE data payload. Unknown event types are
// rejected so callers can ignore them.
func ParseJobEvent(raw []byte) (JobEvent, bool) {
	o, ok := asObject(raw)
	if !ok {
		return JobEvent{}, false
	}
	rawType, ok := o.str("event_type")
	if !ok {
		return JobEvent{}, false
	}
	jobID, ok := o.optStr("job_id")
	if !ok {
		return JobEvent{}, false
	}
	message, ok := o.optStr("message")
	if !ok {
		return JobEvent{}, false
	}

	ev := JobEvent{Type: JobEventType(rawType), JobID: jobID, Message: message}
	switch ev.Type {
	case JobProgress:
		percent, ok := o.num("percent")
		if !ok || percent < 0 || percent > 100 {
			return JobEvent{}, false
		}
		ev.Percent = percent
	case JobComplete:
		url, ok := o.optStr("download_url")
		if !ok {
			return JobEvent{}, false
		}
		ev.Percent = 100
		ev.DownloadURL = url
	case JobError:
		if ev.Message == "" {
			ev.Message = "export failed"
		}
	default:
		return JobEvent{}, false
	}
	return ev, true
}
