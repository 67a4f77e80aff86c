package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type exportJob struct {
	id      string
	request exportRequest
}

// exportSteps are the progress percentages reported before completion
var exportSteps = []float64{0, 25, 50, 75}

// streamExport reports the progress of a job as server-sent events,
// one step per ExportStep, ending with a complete event.
func (s *Server) streamExport(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	job, ok := s.exports[id]
	s.mu.Unlock()
	if !ok {
		abort(c, http.StatusNotFound, "export job not found")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abort(c, http.StatusInternalServerError, "streaming not supported")
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for _, pct := range exportSteps {
		writeSSE(c.Writer, flusher, "progress", map[string]any{
			"event_type": "progress",
			"job_id":     job.id,
			"percent":    pct,
			"message":    fmt.Sprintf("exporting %s", job.format()),
		})
		select {
		case <-ctx.Done():
			return
		case <-s.opts.Clock.After(s.opts.ExportStep):
		}
	}
	writeSSE(c.Writer, flusher, "complete", map[string]any{
		"event_type":   "complete",
		"job_id":       job.id,
		"download_url": "/api/exports/" + job.id + "/download",
	})
}

func (j *exportJob) format() string {
	if j.request.Format == "" {
		return "csv"
	}
	return j.request.Format
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	body, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
	flusher.Flush()
}
