package mockapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// listEvents pages newest first. The cursor is the offset of the next
// page.
func (s *Server) listEvents(c *gin.Context) {
	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abort(c, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageSize)
	}
	offset := 0
	if v := c.Query("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abort(c, http.StatusBadRequest, "invalid cursor")
			return
		}
		offset = n
	}
	camera := c.Query("camera_id")
	risk := c.Query("risk_level")
	includeDeleted := c.Query("include_deleted") == "true"

	s.mu.Lock()
	var matched []stream.SecurityEvent
	for _, ev := range s.events {
		if ev.Deleted && !includeDeleted {
			continue
		}
		if camera != "" && ev.CameraID != camera {
			continue
		}
		if risk != "" && string(ev.RiskLevel) != risk {
			continue
		}
		matched = append(matched, ev)
	}
	s.mu.Unlock()

	page := pagination.Page[stream.SecurityEvent]{Items: []stream.SecurityEvent{}}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page.Items = matched[offset:end]
		if end < len(matched) {
			page.HasMore = true
			page.NextCursor = strconv.Itoa(end)
		}
	}
	c.JSON(http.StatusOK, page)
}

// updateEvent applies fn to the stored event with the route id
func (s *Server) updateEvent(c *gin.Context, fn func(*stream.SecurityEvent)) (stream.SecurityEvent, bool) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			fn(&s.events[i])
			return s.events[i], true
		}
	}
	return stream.SecurityEvent{}, false
}

func (s *Server) deleteEvent(c *gin.Context) {
	if _, ok := s.updateEvent(c, func(ev *stream.SecurityEvent) { ev.Deleted = true }); !ok {
		abort(c, http.StatusNotFound, "event not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) restoreEvent(c *gin.Context) {
	ev, ok := s.updateEvent(c, func(ev *stream.SecurityEvent) { ev.Deleted = false })
	if !ok {
		abort(c, http.StatusNotFound, "event not found")
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) patchEvent(c *gin.Context) {
	var body struct {
		Reviewed *bool `json:"reviewed"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Reviewed == nil {
		abort(c, http.StatusUnprocessableEntity, "reviewed is required")
		return
	}
	ev, ok := s.updateEvent(c, func(ev *stream.SecurityEvent) { ev.Reviewed = *body.Reviewed })
	if !ok {
		abort(c, http.StatusNotFound, "event not found")
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) zoneAnomalies(c *gin.Context) {
	zone := c.Param("id")
	s.mu.Lock()
	items := []stream.Anomaly{}
	for _, a := range s.anomalies {
		if a.ZoneID == zone {
			items = append(items, a)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) acknowledgeAnomaly(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.anomalies {
		if s.anomalies[i].ID == id {
			s.anomalies[i].Acknowledged = true
			c.JSON(http.StatusOK, s.anomalies[i])
			return
		}
	}
	abort(c, http.StatusNotFound, "anomaly not found")
}

func (s *Server) recentDetections(c *gin.Context) {
	camera := c.Query("camera_id")
	limit := 50
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = n
	}

	s.mu.Lock()
	items := []stream.Detection{}
	for _, d := range s.detections {
		if camera != "" && d.CameraID != camera {
			continue
		}
		items = append(items, d)
		if len(items) == limit {
			break
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type exportRequest struct {
	Format   string    `json:"format"`
	CameraID string    `json:"camera_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

func (s *Server) createExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, "invalid export request")
		return
	}
	switch req.Format {
	case "", "csv", "json":
	default:
		abort(c, http.StatusUnprocessableEntity, "unsupported format "+strconv.Quote(req.Format))
		return
	}
	if !req.To.IsZero() && req.To.Before(req.From) {
		abort(c, http.StatusUnprocessableEntity, "to must not be before from")
		return
	}

	job := &exportJob{id: uuid.NewString(), request: req}
	s.mu.Lock()
	s.exports[job.id] = job
	s.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.id, "status": "pending"})
}
