package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultModel is the public model name assumed when a request omits one.
const DefaultModel = "gpt-4o-mini"

// defaultEngineID serves any public name with no table entry. Unknown names
// never fail resolution; they fall through to this engine.
const defaultEngineID = "4801422a-5c62-421e-a00c-05c6a9e15de8"

// builtinEngines maps public model names to vendor engine identifiers. The
// table is process-wide constant configuration; config aliases may extend or
// shadow it at construction time, never afterwards.
var builtinEngines = map[string]string{
	"gpt-4o":            "2c6de0ce-9621-4273-abf0-6b43e464fd0e",
	"gpt-4o-mini":       "4801422a-5c62-421e-a00c-05c6a9e15de8",
	"gpt-4-turbo":       "9f4b5bdc-62c0-4b1d-bb35-a4e9e2715a42",
	"claude-3-5-sonnet": "b17b2a0e-6a9d-43b8-9a09-7db02c8d4f3a",
	"claude-3-haiku":    "e0a63a0f-1f86-4e23-8d1e-26e1ab6e9cd7",
	"llama-3-70b":       "f1d3a575-6b2c-4f18-9f39-2e8eb1b0c4d9",
}

// Table resolves public model names to vendor engine ids. Immutable after
// construction; safe for concurrent use.
type Table struct {
	engines   map[string]string
	defaultID string
}

// NewTable builds a resolver from the built-in engine map merged with the
// supplied aliases. Alias entries shadow built-in ones.
func NewTable(aliases map[string]string) (*Table, error) {
	engines := make(map[string]string, len(builtinEngines)+len(aliases))
	for name, id := range builtinEngines {
		engines[name] = id
	}
	for name, id := range aliases {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("engine alias name must not be empty")
		}
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("engine alias %q target must not be empty", name)
		}
		engines[name] = id
	}

	return &Table{
		engines:   engines,
		defaultID: defaultEngineID,
	}, nil
}

// Resolve returns the engine id mapped to the public model name, or the
// default engine id when the name is unknown. Never fails.
func (t *Table) Resolve(model string) string {
	if id, ok := t.engines[model]; ok {
		return id
	}
	return t.defaultID
}

// Models returns the known public model names in sorted order.
func (t *Table) Models() []string {
	names := make([]string, 0, len(t.engines))
	for name := range t.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
