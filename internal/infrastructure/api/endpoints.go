package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/pagination"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// EventQuery filters the events list
type EventQuery struct {
	Cursor         string
	CameraID       string
	RiskLevel      string
	Limit          int
	IncludeDeleted bool
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.CameraID != "" {
		v.Set("camera_id", q.CameraID)
	}
	if q.RiskLevel != "" {
		v.Set("risk_level", q.RiskLevel)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.IncludeDeleted {
		v.Set("include_deleted", "true")
	}
	return v
}

// ListEvents fetches one page of security events
func (c *Client) ListEvents(ctx context.Context, q EventQuery) (pagination.Page[stream.SecurityEvent], error) {
	var page pagination.Page[stream.SecurityEvent]
	err := c.do(ctx, http.MethodGet, "/api/events", q.values(), nil, &page)
	return page, err
}

// DeleteEvent soft-deletes an event
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/events/"+url.PathEscape(id), nil, nil, nil)
}

// RestoreEvent undoes a soft delete
func (c *Client) RestoreEvent(ctx context.Context, id string) (stream.SecurityEvent, error) {
	var ev stream.SecurityEvent
	err := c.do(ctx, http.MethodPost, "/api/events/"+url.PathEscape(id)+"/restore", nil, nil, &ev)
	return ev, err
}

// MarkReviewed sets the reviewed flag of an event
func (c *Client) MarkReviewed(ctx context.Context, id string, reviewed bool) (stream.SecurityEvent, error) {
	var ev stream.SecurityEvent
	body := map[string]bool{"reviewed": reviewed}
	err := c.do(ctx, http.MethodPatch, "/api/events/"+url.PathEscape(id), nil, body, &ev)
	return ev, err
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// ZoneAnomalies lists the anomalies of a zone, newest first
func (c *Client) ZoneAnomalies(ctx context.Context, zoneID string) ([]stream.Anomaly, error) {
	var resp listResponse[stream.Anomaly]
	err := c.do(ctx, http.MethodGet, "/api/zones/"+url.PathEscape(zoneID)+"/anomalies", nil, nil, &resp)
	return resp.Items, err
}

// AcknowledgeAnomaly marks an anomaly as acknowledged
func (c *Client) AcknowledgeAnomaly(ctx context.Context, id string) (stream.Anomaly, error) {
	var a stream.Anomaly
	err := c.do(ctx, http.MethodPost, "/api/anomalies/"+url.PathEscape(id)+"/acknowledge", nil, nil, &a)
	return a, err
}

// RecentDetections returns the latest detections, optionally for one
// camera
func (c *Client) RecentDetections(ctx context.Context, cameraID string, limit int) ([]stream.Detection, error) {
	q := url.Values{}
	if cameraID != "" {
		q.Set("camera_id", cameraID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp listResponse[stream.Detection]
	err := c.do(ctx, http.MethodGet, "/api/detections/recent", q, nil, &resp)
	return resp.Items, err
}

// ExportRequest starts an export of events in a time range
type ExportRequest struct {
	Format   string    `json:"format"`
	CameraID string    `json:"camera_id,omitempty"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// ExportJob is the accepted export
type ExportJob struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateExport starts an export job
func (c *Client) CreateExport(ctx context.Context, req ExportRequest) (ExportJob, error) {
	if req.Format == "" {
		req.Format = "csv"
	}
	var job ExportJob
	err := c.do(ctx, http.MethodPost, "/api/exports", nil, req, &job)
	return job, err
}

// ExportStreamURL is the SSE progress stream of an export job
func (c *Client) ExportStreamURL(jobID string) string {
	return c.URL("/api/exports/"+url.PathEscape(jobID)+"/stream", nil)
}
