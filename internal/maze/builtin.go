package maze

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed builtin/*.txt
var builtinFS embed.FS

var builtinMeta = []struct {
	id         string
	name       string
	difficulty Difficulty
}{
	{"tutorial", "Tutorial", Tutorial},
	{"intermediate", "Intermediate", Intermediate},
}

// Builtins returns fresh copies of the mazes shipped with the binary, keyed by id.
func Builtins() map[string]*Definition {
	out := make(map[string]*Definition, len(builtinMeta))
	for _, m := range builtinMeta {
		data, err := builtinFS.ReadFile("builtin/" + m.id + ".txt")
		if err != nil {
			panic(fmt.Sprintf("builtin maze %s missing: %v", m.id, err))
		}
		def, err := Parse(string(data), m.name, m.difficulty)
		if err != nil {
			panic(fmt.Sprintf("builtin maze %s invalid: %v", m.id, err))
		}
		def.ID = m.id
		out[m.id] = def
	}
	return out
}

// Catalog is a read-only set of mazes looked up by id.
type Catalog struct {
	mazes map[string]*Definition
}

// NewCatalog builds a catalog from the built-in mazes plus extra. Extra mazes
// replace built-ins with the same id.
func NewCatalog(extra ...*Definition) *Catalog {
	mazes := Builtins()
	for _, def := range extra {
		if def == nil || def.ID == "" {
			continue
		}
		mazes[def.ID] = def
	}
	return &Catalog{mazes: mazes}
}

// Get returns the maze with the given id.
func (c *Catalog) Get(id string) (*Definition, bool) {
	def, ok := c.mazes[id]
	return def, ok
}

// List returns maze summaries sorted by id.
func (c *Catalog) List() []Info {
	out := make([]Info, 0, len(c.mazes))
	for _, def := range c.mazes {
		out = append(out, def.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
