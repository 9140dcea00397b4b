package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"maproulette/internal/geo"
	"maproulette/internal/roulette/app"
	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/service"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Registry returns all admin commands keyed by Command.Key.
func Registry() map[string]Command {
	slugField := Field{Name: "slug", Aliases: []string{"challenge"}, Prompt: "challenge slug", Required: true}
	taskFields := []Field{
		slugField,
		{Name: "id", Aliases: []string{"identifier", "task"}, Prompt: "task identifier", Required: true},
	}

	commands := []Command{
		{
			Group:  "challenge",
			Action: "put",
			Usage:  "challenge put <slug> title=... [difficulty=1..3] [active=true] [type=default] [instruction=...] [geometry_file=polygon.geojson]",
			Fields: []Field{
				slugField,
				{Name: "title", Prompt: "title", Required: true},
				{Name: "difficulty"},
				{Name: "active"},
				{Name: "type"},
				{Name: "description"},
				{Name: "blurb"},
				{Name: "help"},
				{Name: "instruction"},
				{Name: "geometry_file"},
			},
			Run: putChallenge,
		},
		{
			Group:  "challenge",
			Action: "delete",
			Usage:  "challenge delete <slug>",
			Fields: []Field{slugField},
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				if err := a.Challenges.AdminDeleteChallenge(ctx, p.Get("slug")); err != nil {
					return nil, err
				}
				return fmt.Sprintf("challenge %s deleted", p.Get("slug")), nil
			},
		},
		{
			Group:  "challenge",
			Action: "show",
			Usage:  "challenge show <slug>",
			Fields: []Field{slugField},
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				return a.Challenges.GetChallenge(ctx, p.Get("slug"))
			},
		},
		{
			Group:  "challenge",
			Action: "list",
			Usage:  "challenge list [difficulty=1..3] [contains=lon|lat]",
			Fields: []Field{{Name: "difficulty"}, {Name: "contains"}},
			Run:    listChallenges,
		},
		{
			Group:  "task",
			Action: "put",
			Usage:  "task put <slug> <id> [geometry_file=features.geojson] [location=lon|lat] [instruction=...] [status=...]",
			Fields: append(append([]Field{}, taskFields...),
				Field{Name: "geometry_file", Aliases: []string{"geometries"}},
				Field{Name: "location"},
				Field{Name: "instruction"},
				Field{Name: "status"},
			),
			Run: putTask,
		},
		{
			Group:  "task",
			Action: "delete",
			Usage:  "task delete <slug> <id> [purge=true]",
			Fields: append(append([]Field{}, taskFields...), Field{Name: "purge"}),
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				purge, err := ParseBool(p.Get("purge"), false)
				if err != nil {
					return nil, fmt.Errorf("invalid purge: %w", err)
				}
				if err := a.Tasks.AdminDeleteTask(ctx, p.Get("slug"), p.Get("id"), purge); err != nil {
					return nil, err
				}
				return fmt.Sprintf("task %s deleted", p.Get("id")), nil
			},
		},
		{
			Group:  "task",
			Action: "show",
			Usage:  "task show <slug> <id>",
			Fields: taskFields,
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				task, err := a.Tasks.GetTaskByIdentifier(ctx, p.Get("slug"), p.Get("id"), false, 0, "")
				if err != nil {
					return nil, err
				}
				return taskView(task), nil
			},
		},
		{
			Group:  "task",
			Action: "actions",
			Usage:  "task actions <slug> <id>",
			Fields: taskFields,
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				return a.Tasks.ListActions(ctx, p.Get("slug"), p.Get("id"))
			},
		},
		{
			Group:  "stats",
			Usage:  "stats <slug>",
			Fields: []Field{slugField},
			Run: func(ctx context.Context, a *app.App, p Params) (interface{}, error) {
				return a.Stats.GetChallengeStats(ctx, p.Get("slug"))
			},
		},
		{
			Group: "sweep",
			Usage: "sweep",
			Run: func(ctx context.Context, a *app.App, _ Params) (interface{}, error) {
				reclaimed, err := a.Sweeper.RunOnce(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int{"reclaimed": reclaimed}, nil
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Lookup resolves the command named by the leading tokens and returns the rest.
func Lookup(commands map[string]Command, tokens []string) (Command, []string, error) {
	if len(tokens) == 0 {
		return Command{}, nil, fmt.Errorf("empty command")
	}
	if len(tokens) > 1 {
		if cmd, ok := commands[tokens[0]+" "+tokens[1]]; ok {
			return cmd, tokens[2:], nil
		}
	}
	if cmd, ok := commands[tokens[0]]; ok {
		return cmd, tokens[1:], nil
	}
	return Command{}, nil, fmt.Errorf("unknown command: %s", strings.Join(tokens[:min(2, len(tokens))], " "))
}

func putChallenge(ctx context.Context, a *app.App, p Params) (interface{}, error) {
	challenge := &model.Challenge{
		Slug:        p.Get("slug"),
		Title:       p.Get("title"),
		Description: p.Get("description"),
		Blurb:       p.Get("blurb"),
		Help:        p.Get("help"),
		Instruction: p.Get("instruction"),
		Type:        p.Get("type"),
	}
	if raw := p.Get("difficulty"); raw != "" {
		difficulty, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid difficulty: %w", err)
		}
		challenge.Difficulty = difficulty
	}
	active, err := ParseBool(p.Get("active"), true)
	if err != nil {
		return nil, fmt.Errorf("invalid active: %w", err)
	}
	challenge.Active = active
	if path := p.Get("geometry_file"); path != "" {
		data, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if challenge.Geometry, err = geo.ParseGeoJSON(data); err != nil {
			return nil, err
		}
	}

	created, err := a.Challenges.AdminUpsertChallenge(ctx, challenge)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"slug": challenge.Slug, "created": created}, nil
}

func listChallenges(ctx context.Context, a *app.App, p Params) (interface{}, error) {
	var in service.ListChallengesInput
	if raw := p.Get("difficulty"); raw != "" {
		difficulty, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid difficulty: %w", err)
		}
		in.Difficulty = difficulty
	}
	if raw := p.Get("contains"); raw != "" {
		lon, lat, _, err := geo.ParseLonLat(raw)
		if err != nil {
			return nil, err
		}
		in.Contains = &orb.Point{lon, lat}
	}
	return a.Challenges.ListChallenges(ctx, in)
}

func putTask(ctx context.Context, a *app.App, p Params) (interface{}, error) {
	in := service.UpsertTaskInput{
		ChallengeSlug: p.Get("slug"),
		Identifier:    p.Get("id"),
		Status:        p.Get("status"),
	}
	if p.Has("instruction") {
		instruction := p.Get("instruction")
		in.Instruction = &instruction
	}
	if raw := p.Get("location"); raw != "" {
		lon, lat, _, err := geo.ParseLonLat(raw)
		if err != nil {
			return nil, err
		}
		in.Location = &orb.Point{lon, lat}
	}
	if path := p.Get("geometry_file"); path != "" {
		data, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if in.Geometries, err = ParseTaskGeometries(data); err != nil {
			return nil, err
		}
	}

	task, created, err := a.Tasks.AdminUpsertTask(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"created": created, "task": taskView(task)}, nil
}

// ParseTaskGeometries reads a FeatureCollection, taking osm_id from each feature's
// properties, or a single bare geometry.
func ParseTaskGeometries(data []byte) ([]model.TaskGeometry, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		out := make([]model.TaskGeometry, 0, len(fc.Features))
		for i, f := range fc.Features {
			if f.Geometry == nil {
				return nil, fmt.Errorf("feature %d has no geometry", i)
			}
			osmID, err := featureOSMID(f)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			out = append(out, model.TaskGeometry{OSMID: osmID, Geometry: f.Geometry})
		}
		return out, nil
	}
	g, err := geo.ParseGeoJSON(data)
	if err != nil {
		return nil, err
	}
	return []model.TaskGeometry{{Geometry: g}}, nil
}

func featureOSMID(f *geojson.Feature) (int64, error) {
	switch v := f.Properties["osm_id"].(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid osm_id %q", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("invalid osm_id %v", v)
	}
}

func taskView(t *model.Task) map[string]interface{} {
	return map[string]interface{}{
		"id":          t.ID,
		"challenge":   t.ChallengeSlug,
		"identifier":  t.Identifier,
		"status":      t.Status,
		"status_at":   t.StatusAt,
		"location":    [2]float64{t.Location.Lon(), t.Location.Lat()},
		"instruction": t.Instruction,
		"geometries":  t.Geometries,
	}
}
