package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// rosterFile is a TOML list of known entities:
//
//	[[entity]]
//	name = "Alex Chen"
//	type = "person"
//	aliases = ["AC"]
//	handles = ["email:alex@acme.io", "telegram:@alexc"]
type rosterFile struct {
	Entity []rosterEntry `toml:"entity"`
}

type rosterEntry struct {
	Slug    string   `toml:"slug"`
	Name    string   `toml:"name"`
	Type    string   `toml:"type"`
	Aliases []string `toml:"aliases"`
	Handles []string `toml:"handles"`
}

// loadRoster reads a roster and turns it into canonical entities. Unknown
// keys are an error so typos do not silently drop data.
func loadRoster(path string) ([]*types.Entity, error) {
	var f rosterFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	seen := make(map[string]bool)
	out := make([]*types.Entity, 0, len(f.Entity))
	for i, r := range f.Entity {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("%s: entity %d has no name", path, i+1)
		}
		typ := types.EntityType(r.Type)
		if typ == "" {
			typ = types.EntityPerson
		}
		if !typ.IsValid() {
			return nil, fmt.Errorf("%s: entity %q has unknown type %q", path, name, r.Type)
		}
		slug := r.Slug
		if slug == "" {
			slug = resolver.Slugify(name)
		}
		if seen[slug] {
			return nil, fmt.Errorf("%s: duplicate slug %q", path, slug)
		}
		seen[slug] = true

		e := types.NewCanonical(slug, name, typ)
		e.Aliases = r.Aliases
		for _, h := range r.Handles {
			handle, err := parseHandle(h)
			if err != nil {
				return nil, fmt.Errorf("%s: entity %q: %w", path, name, err)
			}
			e.Handles = append(e.Handles, handle)
		}
		out = append(out, e)
	}
	return out, nil
}

// parseHandle parses "kind:value".
func parseHandle(s string) (types.Handle, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(value) == "" {
		return types.Handle{}, fmt.Errorf("handle %q must look like kind:value", s)
	}
	k := types.HandleKind(strings.ToLower(strings.TrimSpace(kind)))
	if !k.IsValid() {
		return types.Handle{}, fmt.Errorf("unknown handle kind %q", kind)
	}
	return types.Handle{Kind: k, Value: strings.TrimSpace(value)}, nil
}
