package audit

import (
	"testing"
)

func strp(s string) *string { return &s }

func TestDiffFlatUpdate(t *testing.T) {
	before := strp(`{"status":"open","priority":"low","title":"Boiler leak"}`)
	after := strp(`{"status":"completed","priority":"low","title":"Boiler leak"}`)
	changes, err := Diff(before, after)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	c := changes[0]
	if c.Path != "status" || c.Before != "open" || c.After != "completed" {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestDiffCreateAgainstNothing(t *testing.T) {
	after := strp(`{"name":"Unit 4B","kind":"residential"}`)
	paths, err := ChangedPaths(nil, after)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != "kind" || paths[1] != "name" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestDiffNestedAndArrays(t *testing.T) {
	before := strp(`{"meta":{"tags":["a","b"]},"n":1}`)
	after := strp(`{"meta":{"tags":["a","c","d"]},"n":1}`)
	changes, err := Diff(before, after)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %+v", changes)
	}
	c := changes[0]
	if c.Path != "meta.tags" {
		t.Fatalf("path = %s, want meta.tags", c.Path)
	}
	if b, ok := c.Before.([]any); !ok || len(b) != 2 {
		t.Fatalf("before = %v", c.Before)
	}
	if a, ok := c.After.([]any); !ok || len(a) != 3 {
		t.Fatalf("after = %v", c.After)
	}
}

func TestDiffNestedCreate(t *testing.T) {
	after := strp(`{"name":"Unit 4B","meta":{"floor":2,"tags":["vip"]}}`)
	paths, err := ChangedPaths(nil, after)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"meta.floor", "meta.tags", "name"}
	if len(paths) != len(want) {
		t.Fatalf("unexpected paths: %v", paths)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("path %d: got %s want %s", i, paths[i], p)
		}
	}
}

func TestDiffTypeChangeIsLeaf(t *testing.T) {
	before := strp(`{"cost":null}`)
	after := strp(`{"cost":125.5}`)
	changes, err := Diff(before, after)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Path != "cost" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	if changes[0].After != 125.5 {
		t.Fatalf("after = %v", changes[0].After)
	}
}

func TestDiffIdentical(t *testing.T) {
	doc := strp(`{"a":{"b":[1,2,3]}}`)
	changes, err := Diff(doc, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}

func TestDiffBadJSON(t *testing.T) {
	if _, err := Diff(strp(`{`), nil); err == nil {
		t.Fatal("expected error for malformed before image")
	}
}
