package index

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dkoren/tagsmith/internal/tagstore"
)

// stubEmbedder returns fixed vectors keyed by text, or a default for
// anything unknown, and counts how often it is called.
type stubEmbedder struct {
	vecs  map[string][]float32
	def   []float32
	calls int
}

func (s *stubEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return s.def, nil
}

func (s *stubEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIndex(t *testing.T, emb *stubEmbedder) *Index {
	t.Helper()
	ix, err := New(emb, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func libraryRecords() []tagstore.FileRecord {
	return []tagstore.FileRecord{
		{Filepath: "/music/a.mp3", Title: "Alpha", Genre: "Jazz", Artist: "Trio"},
		{Filepath: "/music/b.mp3", Title: "Beta", Genre: "Rock", Artist: "Band"},
		{Filepath: "/music/c.mp3", Title: "Gamma", Genre: "Jazz", Artist: "Solo"},
	}
}

func TestBuild_And_Count(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)

	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}
	if got := ix.Count(); got != 3 {
		t.Fatalf("expected 3 documents, got %d", got)
	}
	if emb.calls != 3 {
		t.Errorf("expected one embedding per document, got %d calls", emb.calls)
	}
}

func TestBuild_ReplacesPrevious(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)

	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}
	if err := ix.Build(context.Background(), libraryRecords()[:1]); err != nil {
		t.Fatal(err)
	}
	if got := ix.Count(); got != 1 {
		t.Fatalf("rebuild should replace contents, got %d documents", got)
	}
	if _, ok := ix.Record("/music/b.mp3"); ok {
		t.Error("record from previous build survived rebuild")
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)

	matches, err := ix.Search(context.Background(), "anything", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
	if emb.calls != 0 {
		t.Error("empty index must not call the embedder")
	}
}

func TestSearch_ScoreThenPathOrdering(t *testing.T) {
	// a and c embed identically, so their scores tie and path order
	// must decide; b is closer to the query and comes first.
	emb := &stubEmbedder{
		def: []float32{1, 0, 0},
		vecs: map[string][]float32{
			documentContent("/music/b.mp3"): {0, 1, 0},
			"the query":                     {0.2, 0.98, 0},
		},
	}
	ix := newTestIndex(t, emb)
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	matches, err := ix.Search(context.Background(), "the query", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []string{"/music/b.mp3", "/music/a.mp3", "/music/c.mp3"}
	for i, w := range want {
		if matches[i].Filepath != w {
			t.Errorf("position %d: expected %s, got %s", i, w, matches[i].Filepath)
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	matches, err := ix.Search(context.Background(), "q", nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(matches))
	}
}

func TestSearch_MetadataFilter(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	matches, err := ix.Search(context.Background(), "q", map[string]string{"genre": "Jazz"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 jazz files, got %d", len(matches))
	}
	for _, m := range matches {
		rec, _ := ix.Record(m.Filepath)
		if rec.Genre != "Jazz" {
			t.Errorf("filter leaked non-jazz file: %s", m.Filepath)
		}
	}

	// A filter nothing satisfies is an empty result, not an error.
	matches, err = ix.Search(context.Background(), "q", map[string]string{"genre": "Polka"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestUpdateField_ReusesVector(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}
	callsAfterBuild := emb.calls

	if err := ix.UpdateField(context.Background(), "/music/b.mp3", tagstore.FieldGenre, "Jazz"); err != nil {
		t.Fatal(err)
	}
	if emb.calls != callsAfterBuild {
		t.Error("metadata update must not re-embed")
	}

	rec, ok := ix.Record("/music/b.mp3")
	if !ok {
		t.Fatal("record lost after update")
	}
	if rec.Genre != "Jazz" {
		t.Errorf("expected genre Jazz, got %q", rec.Genre)
	}

	// The filterable view follows the update.
	matches, err := ix.Search(context.Background(), "q", map[string]string{"genre": "Jazz"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected all 3 files now Jazz-filtered, got %d", len(matches))
	}
}

func TestUpdateField_UnknownPath(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	ix := newTestIndex(t, emb)
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	if err := ix.UpdateField(context.Background(), "/music/zz.mp3", tagstore.FieldTitle, "X"); err == nil {
		t.Fatal("expected error for unindexed path")
	}
}

// gatedEmbedder blocks inside Generate once armed, so a test can hold a
// query embedding in flight while poking the index from another goroutine.
type gatedEmbedder struct {
	def     []float32
	armed   bool
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	if g.armed {
		g.entered <- struct{}{}
		<-g.proceed
	}
	return g.def, nil
}

func (g *gatedEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := g.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func TestSearch_DoesNotBlockWrites(t *testing.T) {
	emb := &gatedEmbedder{
		def:     []float32{1, 0, 0},
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	ix, err := New(emb, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	emb.armed = true
	done := make(chan error, 1)
	go func() {
		_, err := ix.Search(context.Background(), "q", nil, 0)
		done <- err
	}()

	// While the query embedding is in flight, writes must still land.
	<-emb.entered
	if err := ix.UpdateField(context.Background(), "/music/a.mp3", tagstore.FieldGenre, "Blues"); err != nil {
		t.Fatal(err)
	}
	close(emb.proceed)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	rec, _ := ix.Record("/music/a.mp3")
	if rec.Genre != "Blues" {
		t.Errorf("update lost during concurrent search: %q", rec.Genre)
	}
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	emb := &stubEmbedder{def: []float32{1, 0, 0}}

	ix, err := New(emb, dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Build(context.Background(), libraryRecords()); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(emb, dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Count(); got != 3 {
		t.Fatalf("expected persisted index with 3 documents, got %d", got)
	}
}
