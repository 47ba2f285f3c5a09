package index

import "testing"

func TestParsePlan_PlainJSON(t *testing.T) {
	plan, ok := parsePlan(`{"filter": {"genre": "Pop"}, "limit": 3}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if plan.Filter["genre"] != "Pop" {
		t.Errorf("unexpected filter: %v", plan.Filter)
	}
	if plan.Limit != 3 {
		t.Errorf("unexpected limit: %d", plan.Limit)
	}
}

func TestParsePlan_SurroundingProse(t *testing.T) {
	content := "Sure! Here is the plan:\n```json\n{\"filter\": {\"artist\": \"Miles Davis\"}}\n```\nLet me know."
	plan, ok := parsePlan(content)
	if !ok {
		t.Fatal("expected parse success despite prose and fences")
	}
	if plan.Filter["artist"] != "Miles Davis" {
		t.Errorf("unexpected filter: %v", plan.Filter)
	}
}

func TestParsePlan_EmptyObject(t *testing.T) {
	plan, ok := parsePlan("{}")
	if !ok {
		t.Fatal("expected parse success")
	}
	if plan.Filter != nil || plan.Limit != 0 {
		t.Errorf("expected empty plan, got %+v", plan)
	}
}

func TestParsePlan_NoJSON(t *testing.T) {
	if _, ok := parsePlan("I cannot help with that."); ok {
		t.Fatal("expected parse failure for prose-only content")
	}
}

func TestParsePlan_DropsUnknownFields(t *testing.T) {
	plan, ok := parsePlan(`{"filter": {"genre": "Pop", "mood": "happy"}}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if _, exists := plan.Filter["mood"]; exists {
		t.Error("invented field survived validation")
	}
	if plan.Filter["genre"] != "Pop" {
		t.Errorf("legitimate field lost: %v", plan.Filter)
	}
}

func TestParsePlan_AllFieldsUnknown(t *testing.T) {
	plan, ok := parsePlan(`{"filter": {"mood": "happy"}}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if plan.Filter != nil {
		t.Errorf("expected filter dropped entirely, got %v", plan.Filter)
	}
}

func TestParsePlan_NegativeLimit(t *testing.T) {
	plan, ok := parsePlan(`{"limit": -5}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if plan.Limit != 0 {
		t.Errorf("negative limit should clamp to 0, got %d", plan.Limit)
	}
}

func TestParsePlan_FilepathAllowed(t *testing.T) {
	plan, ok := parsePlan(`{"filter": {"filepath": "/music/a.mp3"}}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if plan.Filter["filepath"] != "/music/a.mp3" {
		t.Errorf("filepath filter dropped: %v", plan.Filter)
	}
}
