package model

import (
	"encoding/json"
	"time"

	"maproulette/internal/geo"

	"github.com/paulmach/orb"
)

// Task is one unit of editing work inside a challenge.
type Task struct {
	ID            int64
	ChallengeSlug string
	Identifier    string
	Status        Status
	// StatusAt is the timestamp of the latest action.
	StatusAt time.Time
	// Random is the selection key in [0,1), fixed at creation.
	Random      float64
	Location    orb.Point
	Instruction string
	Geometries  []TaskGeometry
}

// Available applies the availability predicate to the task's cached status.
func (t *Task) Available(now time.Time, threshold time.Duration) bool {
	return IsAvailable(t.Status, t.StatusAt, now, threshold)
}

// LeaseLive reports whether someone still holds the task.
func (t *Task) LeaseLive(now time.Time, threshold time.Duration) bool {
	return LeaseLive(t.Status, t.StatusAt, now, threshold)
}

// AcceptsReport decides whether user may report status on the task. holder is
// the author of the latest assigned action. While the lease is live only the
// holder may report, and a new lease can only start on an available task.
func (t *Task) AcceptsReport(status Status, user, holder int64, now time.Time, threshold time.Duration) bool {
	if t.LeaseLive(now, threshold) {
		return holder != 0 && holder == user
	}
	if status.IsLeased() {
		return t.Available(now, threshold)
	}
	return true
}

// TaskGeometry is one OSM feature the task is about.
type TaskGeometry struct {
	OSMID    int64
	Geometry orb.Geometry
}

type taskGeometryJSON struct {
	OSMID    int64           `json:"osm_id"`
	Geometry json.RawMessage `json:"geometry"`
}

func (g TaskGeometry) MarshalJSON() ([]byte, error) {
	raw, err := geo.MarshalGeoJSON(g.Geometry)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskGeometryJSON{OSMID: g.OSMID, Geometry: raw})
}

func (g *TaskGeometry) UnmarshalJSON(data []byte) error {
	var in taskGeometryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	geom, err := geo.ParseGeoJSON(in.Geometry)
	if err != nil {
		return err
	}
	g.OSMID = in.OSMID
	g.Geometry = geom
	return nil
}

// Action is an immutable entry in a task's log. ID order is the log order.
type Action struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	// UserID is 0 for system actions.
	UserID int64  `json:"user_id,omitempty"`
	Status Status `json:"status"`
	Editor string `json:"editor,omitempty"`
}
