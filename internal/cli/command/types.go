package command

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"maproulette/internal/roulette/app"
)

// Field defines a command input.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Required bool
}

// Command binds "group action" to a service call.
type Command struct {
	Group  string
	Action string
	Usage  string
	Fields []Field
	Run    func(ctx context.Context, a *app.App, params Params) (interface{}, error)
}

// Key is the registry key, "group action" or just "group" for single-action groups.
func (c Command) Key() string {
	if c.Action == "" {
		return c.Group
	}
	return c.Group + " " + c.Action
}

// Params holds parsed key=value input.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// Parse splits tokens into params. Bare tokens fill the fields not named
// explicitly, in declaration order.
func Parse(cmd Command, tokens []string) (Params, error) {
	params := Params{}
	var bare []string
	for _, token := range tokens {
		if key, value, ok := strings.Cut(token, "="); ok {
			params.Set(canonicalName(cmd.Fields, key), value)
			continue
		}
		bare = append(bare, token)
	}
	next := 0
	for _, token := range bare {
		for next < len(cmd.Fields) && params.Has(cmd.Fields[next].Name) {
			next++
		}
		if next >= len(cmd.Fields) {
			return nil, fmt.Errorf("unexpected argument: %s", token)
		}
		params.Set(cmd.Fields[next].Name, token)
		next++
	}
	return params, nil
}

func canonicalName(fields []Field, key string) string {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			if strings.EqualFold(alias, key) {
				return field.Name
			}
		}
	}
	return key
}

// Missing lists required fields without a value.
func Missing(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseBool(value string, fallback bool) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return strconv.ParseBool(strings.TrimSpace(value))
}

func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file failed: %w", err)
	}
	return data, nil
}
