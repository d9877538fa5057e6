// Package audit computes structural diffs between the before and after JSON
// images stored on audit records.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Change is one leaf-level difference between two JSON documents.
type Change struct {
	Path   string `json:"path"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Diff compares two JSON documents and returns leaf changes sorted by path.
// Nil arguments stand for an absent document, so a pure create diffs against
// nothing and every populated field shows up as added.
func Diff(before, after *string) ([]Change, error) {
	var b, a any
	if before != nil {
		if err := json.Unmarshal([]byte(*before), &b); err != nil {
			return nil, fmt.Errorf("before image: %w", err)
		}
	}
	if after != nil {
		if err := json.Unmarshal([]byte(*after), &a); err != nil {
			return nil, fmt.Errorf("after image: %w", err)
		}
	}
	var changes []Change
	walk("", b, a, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// ChangedPaths returns just the paths, for compact audit listings.
func ChangedPaths(before, after *string) ([]string, error) {
	changes, err := Diff(before, after)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return paths, nil
}

func walk(path string, before, after any, out *[]Change) {
	if equal(before, after) {
		return
	}
	bm, bok := before.(map[string]any)
	am, aok := after.(map[string]any)
	if bok && after == nil {
		am, aok = map[string]any{}, true
	}
	if aok && before == nil {
		bm, bok = map[string]any{}, true
	}
	if bok && aok {
		keys := map[string]struct{}{}
		for k := range bm {
			keys[k] = struct{}{}
		}
		for k := range am {
			keys[k] = struct{}{}
		}
		for k := range keys {
			walk(join(path, k), bm[k], am[k], out)
		}
		return
	}
	// Arrays are replaced wholesale, so a differing array is a single leaf
	// change at its own path, same as any scalar.
	if path == "" {
		path = "."
	}
	*out = append(*out, Change{Path: path, Before: before, After: after})
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func equal(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return strings.TrimSpace(string(ab)) == strings.TrimSpace(string(bb))
}
