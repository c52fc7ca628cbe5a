package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "the quick brown fox")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text produced different embeddings")
		}
	}
	if len(a) != 64 {
		t.Errorf("dimensions = %d, want 64", len(a))
	}
}

func TestHashEmbedder_normalized(t *testing.T) {
	e := NewHashEmbedder(32)
	vec, err := e.Embed(context.Background(), "some text to embed")
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1", math.Sqrt(sum))
	}
}

func TestHashEmbedder_sharedWordsCloser(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "database storage engine")
	b, _ := e.Embed(ctx, "database storage layer")
	c, _ := e.Embed(ctx, "quantum flamingo recipes")

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	if dot(a, b) <= dot(a, c) {
		t.Errorf("overlapping texts not closer: sim(a,b)=%f sim(a,c)=%f", dot(a, b), dot(a, c))
	}
}

func TestHashEmbedder_modelName(t *testing.T) {
	if got := NewHashEmbedder(384).ModelName(); got != "wordhash-384" {
		t.Errorf("ModelName = %q", got)
	}
}

func TestCache_evictsLRU(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing before eviction")
	}
	c.Set("c", []float32{3}) // evicts b (a was just touched)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestSimpleTokenizer(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, mask, types := tok.Tokenize("hello world", 8)
	if len(ids) != 8 || len(mask) != 8 || len(types) != 8 {
		t.Fatalf("lengths = %d %d %d", len(ids), len(mask), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("missing [CLS], got %d", ids[0])
	}
	if mask[0] != 1 || mask[1] != 1 || mask[2] != 1 {
		t.Errorf("attention mask wrong: %v", mask)
	}
	if ids[3] != 102 {
		t.Errorf("missing [SEP] at %d: %v", 3, ids)
	}
}

func TestSplitWords(t *testing.T) {
	got := SplitWords("  one\ttwo\nthree  ")
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Errorf("SplitWords = %v", got)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty input should yield no words")
	}
}
