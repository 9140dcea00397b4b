package model

import (
	"encoding/json"
	"time"

	"maproulette/internal/geo"

	"github.com/paulmach/orb"
)

const (
	// DefaultChallengeType names the behavior used when a challenge has none.
	DefaultChallengeType = "default"

	MaxSlugLength       = 72
	MaxTitleLength      = 128
	MaxIdentifierLength = 72
	MaxEditorLength     = 64
	MinDifficulty       = 1
	MaxDifficulty       = 3
)

// Challenge groups tasks under one goal.
type Challenge struct {
	Slug        string
	Title       string
	Description string
	Blurb       string
	Help        string
	Instruction string
	Difficulty  int
	// Geometry is the bounding polygon; nil means the whole world.
	Geometry  orb.Geometry
	Active    bool
	Type      string
	CreatedAt time.Time
}

// Bounds returns the challenge polygon, the world when none is set.
func (c *Challenge) Bounds() orb.Geometry {
	if c.Geometry == nil {
		return geo.World()
	}
	return c.Geometry
}

// IsLocal reports whether the polygon is at most threshold square degrees.
func (c *Challenge) IsLocal(threshold float64) bool {
	return geo.IsLocal(c.Geometry, threshold)
}

type challengeJSON struct {
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Blurb       string          `json:"blurb,omitempty"`
	Help        string          `json:"help,omitempty"`
	Instruction string          `json:"instruction,omitempty"`
	Difficulty  int             `json:"difficulty"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Active      bool            `json:"active"`
	Type        string          `json:"type"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MarshalJSON encodes the geometry as GeoJSON.
func (c Challenge) MarshalJSON() ([]byte, error) {
	out := challengeJSON{
		Slug:        c.Slug,
		Title:       c.Title,
		Description: c.Description,
		Blurb:       c.Blurb,
		Help:        c.Help,
		Instruction: c.Instruction,
		Difficulty:  c.Difficulty,
		Active:      c.Active,
		Type:        c.Type,
		CreatedAt:   c.CreatedAt,
	}
	if c.Geometry != nil {
		g, err := geo.MarshalGeoJSON(c.Geometry)
		if err != nil {
			return nil, err
		}
		out.Geometry = g
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the GeoJSON geometry.
func (c *Challenge) UnmarshalJSON(data []byte) error {
	var in challengeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Challenge{
		Slug:        in.Slug,
		Title:       in.Title,
		Description: in.Description,
		Blurb:       in.Blurb,
		Help:        in.Help,
		Instruction: in.Instruction,
		Difficulty:  in.Difficulty,
		Active:      in.Active,
		Type:        in.Type,
		CreatedAt:   in.CreatedAt,
	}
	if len(in.Geometry) > 0 && string(in.Geometry) != "null" {
		g, err := geo.ParseGeoJSON(in.Geometry)
		if err != nil {
			return err
		}
		c.Geometry = g
	}
	return nil
}
