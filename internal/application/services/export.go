package services

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// ExportStatus is the lifecycle of an export job
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportRunning   ExportStatus = "running"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// ExportProgress is the latest known state of an export job
type ExportProgress struct {
	JobID       string       `json:"job_id"`
	Status      ExportStatus `json:"status"`
	Percent     float64      `json:"percent"`
	Message     string       `json:"message,omitempty"`
	DownloadURL string       `json:"download_url,omitempty"`
	Err         error        `json:"-"`
}

// Done reports whether the job has finished
func (p ExportProgress) Done() bool {
	return p.Status == ExportCompleted || p.Status == ExportFailed
}

// ExportJob follows the server-sent progress stream of one export job.
// Frames with an unknown event_type or another job id are ignored.
type ExportJob struct {
	jobID       string
	logger      hclog.Logger
	unsubscribe func()

	mu       sync.Mutex
	progress ExportProgress
	closed   bool
	done     chan struct{}
	onChange func(ExportProgress)
}

// NewExportJob subscribes to the progress stream of jobID. onChange may
// be nil.
func NewExportJob(deps Deps, jobID string, onChange func(ExportProgress)) *ExportJob {
	deps = deps.withDefaults("export")
	j := &ExportJob{
		jobID:    jobID,
		logger:   deps.Logger.With("job_id", jobID),
		progress: ExportProgress{JobID: jobID, Status: ExportPending},
		done:     make(chan struct{}),
		onChange: onChange,
	}
	if deps.Source != nil {
		j.unsubscribe = deps.Source.Subscribe(j.handle)
	}
	return j
}

func (j *ExportJob) handle(frame []byte) {
	ev, ok := stream.ParseJobEvent(frame)
	if !ok {
		j.logger.Debug("ignoring job frame", "size", len(frame))
		return
	}
	if ev.JobID != "" && ev.JobID != j.jobID {
		return
	}

	j.mu.Lock()
	if j.closed || j.progress.Done() {
		j.mu.Unlock()
		return
	}
	p := j.progress
	switch ev.Type {
	case stream.JobProgress:
		p.Status = ExportRunning
		p.Percent = ev.Percent
		p.Message = ev.Message
	case stream.JobComplete:
		p.Status = ExportCompleted
		p.Percent = 100
		p.Message = ev.Message
		p.DownloadURL = ev.DownloadURL
	case stream.JobError:
		p.Status = ExportFailed
		p.Message = ev.Message
		p.Err = errors.New(ev.Message)
	}
	j.progress = p
	if p.Done() {
		close(j.done)
	}
	onChange := j.onChange
	j.mu.Unlock()

	if onChange != nil {
		onChange(p)
	}
}

// Progress returns the latest state
func (j *ExportJob) Progress() ExportProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Done is closed once the job completes or fails
func (j *ExportJob) Done() <-chan struct{} {
	return j.done
}

// Close stops following the job
func (j *ExportJob) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.mu.Unlock()
	if j.unsubscribe != nil {
		j.unsubscribe()
	}
}
