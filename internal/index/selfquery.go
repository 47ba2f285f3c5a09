package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dkoren/tagsmith/internal/llm"
	"github.com/dkoren/tagsmith/internal/tagstore"
)

// queryPlan is a structured narrowing of a natural-language query:
// an exact-match metadata filter plus an optional result-count bound.
type queryPlan struct {
	Filter map[string]string `json:"filter,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

const plannerInstruction = `You translate a music library search request into a JSON query plan.

The library records these metadata fields per file:
filepath, title, album, artist, genre, year, track, comment, album_artist

Respond with ONLY a JSON object of this shape, no prose:
  {"filter": {"<field>": "<exact value>"}, "limit": <number>}

Rules:
- Include a field in "filter" only when the request names an exact value for it
  (e.g. "genre Pop" -> {"genre": "Pop"}).
- Include "limit" only when the request bounds the result count
  (e.g. "three songs by..." -> 3). Otherwise omit it or use 0.
- When nothing can be narrowed, respond with {}.`

// planQuery asks the oracle for a structured filter derived from the
// query. Any failure (transport, refusal, unparseable output) degrades
// to an empty plan: the similarity search still runs, just unnarrowed.
func planQuery(ctx context.Context, oracle llm.Client, model, query string, log *slog.Logger) queryPlan {
	resp, err := oracle.Chat(ctx, model, []llm.Message{
		{Role: "system", Content: plannerInstruction},
		{Role: "user", Content: query},
	}, nil)
	if err != nil {
		log.Debug("query planner unavailable, searching unfiltered", "error", err)
		return queryPlan{}
	}

	plan, ok := parsePlan(resp.Message.Content)
	if !ok {
		log.Debug("query plan unparseable, searching unfiltered", "content", resp.Message.Content)
		return queryPlan{}
	}
	return plan
}

// parsePlan extracts a queryPlan from model output, tolerating
// surrounding prose and fenced code blocks.
func parsePlan(content string) (queryPlan, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return queryPlan{}, false
	}

	var plan queryPlan
	if err := json.Unmarshal([]byte(content[start:end+1]), &plan); err != nil {
		return queryPlan{}, false
	}

	// Keep only known field names; the oracle must not invent columns.
	if plan.Filter != nil {
		valid := map[string]bool{"filepath": true}
		for _, f := range tagstore.Fields() {
			valid[string(f)] = true
		}
		for k := range plan.Filter {
			if !valid[k] {
				delete(plan.Filter, k)
			}
		}
		if len(plan.Filter) == 0 {
			plan.Filter = nil
		}
	}
	if plan.Limit < 0 {
		plan.Limit = 0
	}
	return plan, true
}
