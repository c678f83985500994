package fixer

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

// fakeSearcher answers from fixed tables and counts calls per method
type fakeSearcher struct {
	byDOI    map[string]*models.Candidate
	byTitle  map[string][]models.Candidate
	byAuthor map[string][]models.Candidate
	panicOn  string

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSearcher) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *fakeSearcher) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeSearcher) SearchByDOI(ctx context.Context, doi string) *models.Candidate {
	f.record("doi")
	return f.byDOI[doi]
}

func (f *fakeSearcher) SearchByTitle(ctx context.Context, title string, rows int) []models.Candidate {
	f.record("title")
	if title == f.panicOn {
		panic("boom")
	}
	return f.byTitle[title]
}

func (f *fakeSearcher) SearchByAuthorTitle(ctx context.Context, authors []string, title string) []models.Candidate {
	f.record("author_title")
	return f.byAuthor[title]
}

func shared(s Searcher) SearcherFactory {
	return func() Searcher { return s }
}

func record(id string, fields map[string]string) models.Record {
	r := models.NewRecord(id, "article")
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

func TestClampWorkers(t *testing.T) {
	tests := []struct {
		in      int
		want    int
		clamped bool
	}{
		{in: -3, want: 1},
		{in: 0, want: 1},
		{in: 1, want: 1},
		{in: 6, want: 6},
		{in: 20, want: 20},
		{in: 21, want: 20, clamped: true},
		{in: 500, want: 20, clamped: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			got, clamped := ClampWorkers(tt.in)
			if got != tt.want || clamped != tt.clamped {
				t.Errorf("Expected (%d, %v), got (%d, %v)", tt.want, tt.clamped, got, clamped)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	f := New(shared(&fakeSearcher{}), 50)
	if f.Workers() != MaxWorkers {
		t.Errorf("Expected %d workers, got %d", MaxWorkers, f.Workers())
	}
	if f.TitleRows != 5 {
		t.Errorf("Expected 5 title rows, got %d", f.TitleRows)
	}
}

func TestFixAllPreservesOrder(t *testing.T) {
	const n = 57

	searcher := &fakeSearcher{byTitle: make(map[string][]models.Candidate)}
	records := make([]models.Record, n)
	for i := range records {
		title := fmt.Sprintf("Collected Works Volume %03d", i)
		records[i] = record(fmt.Sprintf("rec%03d", i), map[string]string{"title": title})
		if i%2 == 0 {
			searcher.byTitle[title] = []models.Candidate{{
				Kind:   "article",
				Fields: map[string]string{"title": title, "year": fmt.Sprint(1900 + i)},
			}}
		}
	}

	for _, k := range []int{1, 3, 20} {
		t.Run(fmt.Sprintf("workers=%d", k), func(t *testing.T) {
			result := New(shared(searcher), k).FixAll(context.Background(), records)

			if len(result.Records) != n || len(result.Outcomes) != n {
				t.Fatalf("Expected %d results, got %d records and %d outcomes", n, len(result.Records), len(result.Outcomes))
			}
			for i, r := range result.Records {
				if r.ID != records[i].ID {
					t.Fatalf("Position %d: expected %s, got %s", i, records[i].ID, r.ID)
				}
				if result.Outcomes[i].Index != i {
					t.Errorf("Position %d: outcome index %d", i, result.Outcomes[i].Index)
				}

				wantYear := ""
				if i%2 == 0 {
					wantYear = fmt.Sprint(1900 + i)
				}
				if r.Fields["year"] != wantYear {
					t.Errorf("Position %d: expected year %q, got %q", i, wantYear, r.Fields["year"])
				}
			}
			if result.Changed != (n+1)/2 {
				t.Errorf("Expected %d changed, got %d", (n+1)/2, result.Changed)
			}
			if result.Matched != (n+1)/2 {
				t.Errorf("Expected %d matched, got %d", (n+1)/2, result.Matched)
			}
		})
	}
}

func TestFixAllIsolatesFaults(t *testing.T) {
	good := record("good", map[string]string{"title": "Reliable Title"})
	bad := record("bad", map[string]string{"title": "Explosive Title", "abstract": "text"})
	other := record("other", map[string]string{"title": "Another Reliable Title"})

	searcher := &fakeSearcher{
		panicOn: "Explosive Title",
		byTitle: map[string][]models.Candidate{
			"Reliable Title":         {{Kind: "article", Fields: map[string]string{"title": "Reliable Title", "volume": "3"}}},
			"Another Reliable Title": {{Kind: "article", Fields: map[string]string{"title": "Another Reliable Title", "volume": "4"}}},
		},
	}

	result := New(shared(searcher), 3).FixAll(context.Background(), []models.Record{good, bad, other})

	failed := result.Outcomes[1]
	if failed.Changed || failed.Matched {
		t.Errorf("Expected failed record unchanged, got changed=%v matched=%v", failed.Changed, failed.Matched)
	}
	if failed.Err == "" {
		t.Error("Expected error to be recorded on failed outcome")
	}
	if !reflect.DeepEqual(failed.Record, bad) {
		t.Errorf("Expected original record back, got %+v", failed.Record)
	}

	if result.Records[0].Fields["volume"] != "3" || result.Records[2].Fields["volume"] != "4" {
		t.Errorf("Expected sibling records to be fixed, got %v and %v", result.Records[0].Fields, result.Records[2].Fields)
	}
	if result.Changed != 2 {
		t.Errorf("Expected 2 changed, got %d", result.Changed)
	}
}

func TestFixDOIOnly(t *testing.T) {
	searcher := &fakeSearcher{
		byDOI: map[string]*models.Candidate{
			"10.1/xyz": {Kind: "article", Fields: map[string]string{
				"title":   "Resolved By Identifier",
				"journal": "Completely Different Journal",
				"doi":     "10.1/xyz",
			}},
		},
	}
	source := record("x", map[string]string{"doi": "10.1/xyz", "journal": "J. Something"})

	outcome := New(shared(searcher), 1).Fix(context.Background(), searcher, source)

	if !outcome.Matched || outcome.Strategy != "doi" || outcome.Score != 1.0 {
		t.Errorf("Expected doi match with score 1, got %+v", outcome)
	}
	if outcome.Record.Fields["title"] != "Resolved By Identifier" {
		t.Errorf("Expected title filled from identifier lookup, got %q", outcome.Record.Fields["title"])
	}
	if searcher.count("title") != 0 || searcher.count("author_title") != 0 {
		t.Errorf("Expected no free-text searches, got title=%d author_title=%d", searcher.count("title"), searcher.count("author_title"))
	}
}

func TestFixFallsThroughStrategies(t *testing.T) {
	searcher := &fakeSearcher{
		byTitle: map[string][]models.Candidate{
			"Deep Learning For Bibliographies": {{Kind: "article", Fields: map[string]string{"title": "Unrelated Cooking Manual"}}},
		},
		byAuthor: map[string][]models.Candidate{
			"Deep Learning For Bibliographies": {{Kind: "article", Fields: map[string]string{
				"title": "Deep Learning for Bibliographies",
				"pages": "1--10",
			}}},
		},
	}
	source := record("y", map[string]string{
		"doi":    "10.9/missing",
		"title":  "Deep Learning For Bibliographies",
		"author": "Doe, Jane and Roe, Rick",
	})

	outcome := New(shared(searcher), 1).Fix(context.Background(), searcher, source)

	for _, method := range []string{"doi", "title", "author_title"} {
		if searcher.count(method) != 1 {
			t.Errorf("Expected one %s call, got %d", method, searcher.count(method))
		}
	}
	if outcome.Strategy != "author_title" {
		t.Errorf("Expected author_title strategy, got %q", outcome.Strategy)
	}
	if outcome.Record.Fields["pages"] != "1--10" {
		t.Errorf("Expected pages filled, got %q", outcome.Record.Fields["pages"])
	}
}

func TestFixAnnotationOnlyChange(t *testing.T) {
	searcher := &fakeSearcher{}
	source := record("z", map[string]string{"title": "Nothing Found", "keywords": "a, b"})

	outcome := New(shared(searcher), 1).Fix(context.Background(), searcher, source)

	if outcome.Matched {
		t.Error("Expected no match")
	}
	if !outcome.Changed {
		t.Error("Expected removal of keywords to count as a change")
	}
	if !reflect.DeepEqual(outcome.Fields, []string{"keywords"}) {
		t.Errorf("Expected [keywords], got %v", outcome.Fields)
	}
	if _, ok := source.Fields["keywords"]; !ok {
		t.Error("Source record must not be mutated")
	}
}

func TestFixInfersMissingKind(t *testing.T) {
	searcher := &fakeSearcher{
		byTitle: map[string][]models.Candidate{
			"Handbook of Things": {{Kind: "book", Fields: map[string]string{"title": "Handbook of Things"}}},
		},
	}

	untyped := record("u", map[string]string{"title": "Handbook of Things"})
	untyped.Type = ""
	outcome := New(shared(searcher), 1).Fix(context.Background(), searcher, untyped)
	if outcome.Record.Type != "book" {
		t.Errorf("Expected inferred kind book, got %q", outcome.Record.Type)
	}

	typed := record("t", map[string]string{"title": "Handbook of Things"})
	outcome = New(shared(searcher), 1).Fix(context.Background(), searcher, typed)
	if outcome.Record.Type != "article" {
		t.Errorf("Expected existing kind kept, got %q", outcome.Record.Type)
	}
}

func TestFixAllSearcherPerWorker(t *testing.T) {
	var created atomic.Int32
	factory := func() Searcher {
		created.Add(1)
		return &fakeSearcher{}
	}

	records := make([]models.Record, 10)
	for i := range records {
		records[i] = record(fmt.Sprint(i), map[string]string{"title": "T"})
	}

	New(factory, 4).FixAll(context.Background(), records)
	if created.Load() != 4 {
		t.Errorf("Expected 4 searchers, got %d", created.Load())
	}

	created.Store(0)
	New(factory, 4).FixAll(context.Background(), records[:2])
	if created.Load() != 2 {
		t.Errorf("Expected pool capped at batch size, got %d searchers", created.Load())
	}
}

func TestFixAllEmpty(t *testing.T) {
	result := New(shared(&fakeSearcher{}), 6).FixAll(context.Background(), nil)
	if len(result.Records) != 0 || result.Changed != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestFixMatchWithoutNewDataCountsAsFixed(t *testing.T) {
	source := record("same", map[string]string{
		"doi":   "10.1/same",
		"title": "Already Complete",
		"year":  "2001",
	})
	searcher := &fakeSearcher{
		byDOI: map[string]*models.Candidate{
			"10.1/same": {Kind: "article", Fields: map[string]string{
				"doi":   "10.1/same",
				"title": "Already Complete",
				"year":  "2001",
			}},
		},
	}

	result := New(shared(searcher), 1).FixAll(context.Background(), []models.Record{source})

	outcome := result.Outcomes[0]
	if !outcome.Matched || !outcome.Changed {
		t.Errorf("Expected matched and changed, got matched=%v changed=%v", outcome.Matched, outcome.Changed)
	}
	if len(outcome.Fields) != 0 {
		t.Errorf("Expected no differing fields, got %v", outcome.Fields)
	}
	if result.Changed != 1 || result.Matched != 1 {
		t.Errorf("Expected 1 changed and 1 matched, got %d and %d", result.Changed, result.Matched)
	}
}

func TestFixAllCancelledContext(t *testing.T) {
	searcher := &fakeSearcher{}
	records := []models.Record{
		record("a", map[string]string{"title": "First", "abstract": "x"}),
		record("b", map[string]string{"title": "Second"}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := New(shared(searcher), 2).FixAll(ctx, records)

	if len(result.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(result.Records))
	}
	if result.Changed != 0 {
		t.Errorf("Expected no changes after cancellation, got %d", result.Changed)
	}
	if !reflect.DeepEqual(result.Records, records) {
		t.Errorf("Expected original records back, got %+v", result.Records)
	}
	if searcher.count("title") != 0 {
		t.Errorf("Expected no searches, got %d", searcher.count("title"))
	}
}
