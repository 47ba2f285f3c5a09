package tools

import "testing"

func TestCatalog_Complete(t *testing.T) {
	specs := Catalog()
	if len(specs) != 14 {
		t.Fatalf("expected 14 tools, got %d", len(specs))
	}

	names := make(map[string]bool)
	for _, s := range specs {
		if names[s.Name] {
			t.Errorf("duplicate tool name: %s", s.Name)
		}
		names[s.Name] = true
		if s.ValueArg == "" {
			t.Errorf("tool %s has no value argument", s.Name)
		}
	}
}

func TestLookup(t *testing.T) {
	spec, ok := Lookup("update_track_tool")
	if !ok {
		t.Fatal("update_track_tool not found")
	}
	if spec.Mode != ModeSingle {
		t.Errorf("expected ModeSingle, got %v", spec.Mode)
	}

	if _, ok := Lookup("no_such_tool"); ok {
		t.Error("expected lookup miss for no_such_tool")
	}
}

func TestDefinitions_WireShape(t *testing.T) {
	defs := Definitions()
	if len(defs) != len(Catalog()) {
		t.Fatalf("expected %d definitions, got %d", len(Catalog()), len(defs))
	}

	for _, d := range defs {
		if d["type"] != "function" {
			t.Errorf("expected type=function, got %v", d["type"])
		}
		fn, ok := d["function"].(map[string]any)
		if !ok {
			t.Fatalf("missing function object in %v", d)
		}
		params, ok := fn["parameters"].(map[string]any)
		if !ok {
			t.Fatalf("missing parameters for %v", fn["name"])
		}
		if params["type"] != "object" {
			t.Errorf("tool %v: parameters must be an object schema", fn["name"])
		}
		req, ok := params["required"].([]string)
		if !ok || len(req) != 2 {
			t.Errorf("tool %v: expected 2 required args, got %v", fn["name"], params["required"])
		}
	}
}
