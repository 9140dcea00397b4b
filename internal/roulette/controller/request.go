package controller

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"maproulette/internal/geo"
	"maproulette/internal/roulette/model"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
)

// TaskResponse is the task payload returned to editors.
type TaskResponse struct {
	ID          int64                `json:"id"`
	Challenge   string               `json:"challenge"`
	Identifier  string               `json:"identifier"`
	Status      model.Status         `json:"status"`
	StatusAt    string               `json:"status_at"`
	Location    [2]float64           `json:"location"`
	Instruction string               `json:"instruction,omitempty"`
	Geometries  []model.TaskGeometry `json:"geometries"`
}

func newTaskResponse(t *model.Task) TaskResponse {
	geometries := t.Geometries
	if geometries == nil {
		geometries = []model.TaskGeometry{}
	}
	return TaskResponse{
		ID:          t.ID,
		Challenge:   t.ChallengeSlug,
		Identifier:  t.Identifier,
		Status:      t.Status,
		StatusAt:    t.StatusAt.UTC().Format(time.RFC3339),
		Location:    [2]float64{t.Location.Lon(), t.Location.Lat()},
		Instruction: t.Instruction,
		Geometries:  geometries,
	}
}

// SubmitActionRequest is the body of an action submission.
type SubmitActionRequest struct {
	Status string `json:"status" binding:"required"`
	Editor string `json:"editor"`
}

// UpsertTaskRequest is the admin task payload. Nil fields keep stored values.
type UpsertTaskRequest struct {
	Geometries  []model.TaskGeometry `json:"geometries"`
	Location    *[2]float64          `json:"location"`
	Instruction *string              `json:"instruction"`
	Status      string               `json:"status"`
}

// UpsertResponse reports whether an admin write created the resource.
type UpsertResponse struct {
	Created bool `json:"created"`
}

// SweepResponse reports how many leases a manual sweep released.
type SweepResponse struct {
	Reclaimed int `json:"reclaimed"`
}

func queryBool(c *gin.Context, key string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// parseCircle reads "lon|lat" or "lon|lat|radius". radiusKey, when set, names a
// separate radius parameter. An absent parameter yields nil.
func parseCircle(c *gin.Context, key, radiusKey string, defaultRadius float64) (*geo.Circle, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	lon, lat, radius, err := geo.ParseLonLat(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if radiusKey != "" {
		if value := c.Query(radiusKey); value != "" {
			radius, err = strconv.ParseFloat(value, 64)
			if err != nil || radius < 0 {
				return nil, fmt.Errorf("%s: invalid radius %q", radiusKey, value)
			}
		}
	}
	if radius == 0 {
		radius = defaultRadius
	}
	circle, err := geo.NewCircle(lon, lat, radius)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &circle, nil
}

func parsePoint(raw string) (*orb.Point, error) {
	if raw == "" {
		return nil, nil
	}
	lon, lat, _, err := geo.ParseLonLat(raw)
	if err != nil {
		return nil, err
	}
	return &orb.Point{lon, lat}, nil
}

// parseTime accepts RFC3339 or a bare YYYY-MM-DD date in UTC.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, raw, time.UTC)
}

func parseOptionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}
