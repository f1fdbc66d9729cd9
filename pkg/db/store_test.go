package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(Options{Driver: DriverMattn, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s, err := NewStore(context.Background(), conn)
	if err != nil {
		conn.Close()
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		conn.Close()
	})
	return s
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.DB.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestInsertQuestionIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.InsertQuestion(ctx, Question{ID: 42, IsAnswered: false}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Second insert with a different is_answered must not overwrite the first.
	if err := s.InsertQuestion(ctx, Question{ID: 42, IsAnswered: true}); err != nil {
		t.Fatalf("insert again: %v", err)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM questions WHERE id = ?`, 42); n != 1 {
		t.Fatalf("expected 1 question row, got %d", n)
	}
	var answered bool
	if err := s.DB.QueryRow(`SELECT is_answered FROM questions WHERE id = 42`).Scan(&answered); err != nil {
		t.Fatalf("select: %v", err)
	}
	if answered {
		t.Fatalf("expected first-seen is_answered=false to be preserved")
	}
}

func TestInsertWordIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.InsertQuestion(ctx, Question{ID: 7, IsAnswered: true}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.InsertWord(ctx, "go", 7); err != nil {
			t.Fatalf("insert word %d: %v", i, err)
		}
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM words WHERE word = 'go' AND question_id = 7`); n != 1 {
		t.Fatalf("expected 1 word row, got %d", n)
	}
}

func TestInsertWordRequiresQuestion(t *testing.T) {
	s := setupTestStore(t)
	if err := s.InsertWord(context.Background(), "orph", 999); err == nil {
		t.Fatalf("expected foreign key violation for missing question")
	}
}

func TestInsertWordRejectsLongWords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.InsertQuestion(ctx, Question{ID: 1}); err != nil {
		t.Fatal(err)
	}
	for _, w := range []string{"", "hello"} {
		err := s.InsertWord(ctx, w, 1)
		if !errors.Is(err, ErrInvalidWord) {
			t.Fatalf("word %q: expected ErrInvalidWord, got %v", w, err)
		}
	}
	// Length is counted in runes, not bytes.
	if err := s.InsertWord(ctx, "äöüß", 1); err != nil {
		t.Fatalf("4-rune word rejected: %v", err)
	}
}

func TestSaveQuestionIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.SaveQuestion(ctx, Question{ID: 5, IsAnswered: true}, []string{"ok", "toolong"})
	if !errors.Is(err, ErrInvalidWord) {
		t.Fatalf("expected ErrInvalidWord, got %v", err)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM questions`); n != 0 {
		t.Fatalf("expected rollback to remove question row, got %d rows", n)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM words`); n != 0 {
		t.Fatalf("expected rollback to remove word rows, got %d rows", n)
	}

	if err := s.SaveQuestion(ctx, Question{ID: 5, IsAnswered: true}, []string{"ok", "go", "ok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	q, w, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if q != 1 || w != 2 {
		t.Fatalf("expected 1 question and 2 words, got %d and %d", q, w)
	}
}

func TestSaveQuestionConcurrency(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := int64(i%4 + 1)
		go func() {
			errs <- s.SaveQuestion(ctx, Question{ID: id, IsAnswered: id%2 == 0}, []string{"a", "b"})
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	q, w, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if q != 4 || w != 8 {
		t.Fatalf("expected 4 questions and 8 words, got %d and %d", q, w)
	}
}

// seedWord attaches word to total fresh questions, the first answered of which are answered.
func seedWord(t *testing.T, s *Store, nextID *int64, word string, total, answered int) {
	t.Helper()
	for i := 0; i < total; i++ {
		*nextID++
		q := Question{ID: *nextID, IsAnswered: i < answered}
		if err := s.SaveQuestion(context.Background(), q, []string{word}); err != nil {
			t.Fatalf("seed %s: %v", word, err)
		}
	}
}

func TestTopWordsRatio(t *testing.T) {
	s := setupTestStore(t)
	var id int64
	seedWord(t, s, &id, "five", 5, 5)
	seedWord(t, s, &id, "six", 6, 3)
	seedWord(t, s, &id, "ten", 10, 10)
	seedWord(t, s, &id, "big", 54, 27)

	stats, err := s.TopWords(context.Background(), 10)
	if err != nil {
		t.Fatalf("top words: %v", err)
	}
	got := map[string]WordStat{}
	for _, ws := range stats {
		got[ws.Word] = ws
	}
	cases := []struct {
		word            string
		answered, total int64
		ratio           float64
	}{
		{"five", 5, 5, 0},
		{"six", 3, 6, 0.5},
		{"ten", 10, 10, 1.0},
		{"big", 27, 54, 0.5},
	}
	for _, c := range cases {
		ws, ok := got[c.word]
		if !ok {
			t.Fatalf("missing word %q in %v", c.word, stats)
		}
		if ws.Answered != c.answered || ws.Total != c.total {
			t.Errorf("%s: expected %d/%d, got %d/%d", c.word, c.answered, c.total, ws.Answered, ws.Total)
		}
		if math.Abs(ws.Ratio-c.ratio) > 1e-12 {
			t.Errorf("%s: expected ratio %v, got %v", c.word, c.ratio, ws.Ratio)
		}
	}
	// ten first, then big and six tied at 0.5 ordered by word, five last.
	order := []string{"ten", "big", "six", "five"}
	for i, w := range order {
		if stats[i].Word != w {
			t.Fatalf("position %d: expected %s, got %s (%v)", i, w, stats[i].Word, stats)
		}
	}
}

func TestTopWordsLimit(t *testing.T) {
	s := setupTestStore(t)
	var id int64
	for i := 0; i < 6; i++ {
		seedWord(t, s, &id, fmt.Sprintf("w%c", 'a'+i), 6, i)
	}
	stats, err := s.TopWords(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(stats))
	}
	for i := 1; i < len(stats); i++ {
		if stats[i].Ratio > stats[i-1].Ratio {
			t.Fatalf("rows not sorted by ratio desc: %v", stats)
		}
	}
	empty, err := s.TopWords(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no rows for k=0, got %d", len(empty))
	}
}

func TestTopWordsHugeLimit(t *testing.T) {
	s := setupTestStore(t)
	stats, err := s.TopWords(context.Background(), math.MaxInt64)
	if err != nil {
		t.Fatal(err)
	}
	if stats == nil || len(stats) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", stats)
	}

	var id int64
	seedWord(t, s, &id, "go", 6, 3)
	stats, err = s.TopWords(context.Background(), math.MaxInt64)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Word != "go" {
		t.Fatalf("expected only go, got %v", stats)
	}
}

func TestWordsReferenceQuestions(t *testing.T) {
	s := setupTestStore(t)
	var id int64
	seedWord(t, s, &id, "ref", 3, 1)
	orphans := countRows(t, s, `SELECT COUNT(*) FROM words w LEFT JOIN questions q ON q.id = w.question_id WHERE q.id IS NULL`)
	if orphans != 0 {
		t.Fatalf("expected no orphan word rows, got %d", orphans)
	}
}

func TestModerncDriver(t *testing.T) {
	conn, err := Open(Options{Driver: DriverModernc, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open modernc: %v", err)
	}
	defer conn.Close()
	s, err := NewStore(context.Background(), conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()
	var id int64
	seedWord(t, s, &id, "pure", 6, 6)
	stats, err := s.TopWords(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Word != "pure" || stats[0].Ratio != 1.0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
	if err := s.InsertWord(context.Background(), "nope", 12345); err == nil {
		t.Fatalf("expected foreign key enforcement on modernc driver")
	}
}
