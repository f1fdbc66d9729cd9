package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/japaniel/shortwords/pkg/db"
	"github.com/japaniel/shortwords/pkg/upstream"
	"github.com/japaniel/shortwords/pkg/words"
)

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

// QuestionSaver persists one question and its words atomically.
type QuestionSaver interface {
	SaveQuestion(ctx context.Context, q db.Question, words []string) error
}

// Fetcher returns every upstream item matching a query.
type Fetcher interface {
	FetchQuestions(ctx context.Context, q upstream.Query) ([]upstream.Item, error)
}

// ErrFetch marks Load failures that came from the upstream API rather than the store.
var ErrFetch = errors.New("fetch questions")

// DefaultWorkers bounds concurrent per-question transactions when unset.
const DefaultWorkers = 8

// Ingester extracts words from fetched questions and saves each question in
// its own transaction on a bounded worker pool.
type Ingester struct {
	Store QuestionSaver
	// Logger is used for informational messages. nil means no logging.
	Logger *log.Logger
	// OnProgress is called after each saved question with the number saved so far and the total.
	OnProgress func(current, total int)

	// Concurrency settings
	Workers int

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers int) (WorkerPoolInterface, error)
}

// NewIngester creates a new Ingester.
func NewIngester(store QuestionSaver) *Ingester {
	return &Ingester{
		Store:   store,
		Workers: DefaultWorkers,
	}
}

// Ingest saves every item and returns how many questions were committed.
// The first failure cancels the remaining work; questions already committed
// stay committed, which is safe because every insert is idempotent.
func (ig *Ingester) Ingest(ctx context.Context, items []upstream.Item) (int, error) {
	if len(items) == 0 {
		return 0, ctx.Err()
	}

	var wp WorkerPoolInterface
	var err error
	if ig.PoolFactory != nil {
		wp, err = ig.PoolFactory(ig.Workers)
	} else {
		wp, err = NewWorkerPool(ig.Workers)
	}
	if err != nil {
		return 0, fmt.Errorf("create worker pool: %w", err)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp.Start(ctx)
	defer wp.Close()

	var (
		saved    int64
		firstErr error
		errOnce  sync.Once
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	total := len(items)

Loop:
	for _, it := range items {
		item := it
		job := func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			q := db.Question{ID: item.QuestionID, IsAnswered: item.IsAnswered}
			if err := ig.Store.SaveQuestion(ctx, q, words.Extract(item.Title)); err != nil {
				// A sibling failure cancels ctx; report the original cause, not the cancellation.
				if ctx.Err() == nil {
					fail(fmt.Errorf("save question %d: %w", item.QuestionID, err))
				}
				return err
			}
			n := atomic.AddInt64(&saved, 1)
			if ig.OnProgress != nil {
				ig.OnProgress(int(n), total)
			}
			return nil
		}

		if err := wp.SubmitCtx(ctx, job); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrPoolClosed) {
				break Loop
			}
			fail(fmt.Errorf("submit question %d: %w", item.QuestionID, err))
			break Loop
		}
	}

	// Wait for in-flight transactions before reading the results.
	wp.Close()

	n := int(atomic.LoadInt64(&saved))
	if firstErr != nil {
		return n, firstErr
	}
	if err := parent.Err(); err != nil {
		return n, err
	}
	if ig.Logger != nil {
		ig.Logger.Info("ingested questions", "saved", n, "workers", ig.Workers)
	}
	return n, nil
}

// Load fetches every question matching q and ingests them. It returns the
// number of items fetched. When the upstream answers any page with no items
// the whole load reports 0 and nothing is saved.
func Load(ctx context.Context, f Fetcher, ig *Ingester, q upstream.Query) (int, error) {
	items, err := f.FetchQuestions(ctx, q)
	if errors.Is(err, upstream.ErrEmptyPage) {
		if ig.Logger != nil {
			ig.Logger.Warn("upstream returned an empty page, nothing loaded", "from", q.From, "to", q.To, "tags", q.Tags)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if _, err := ig.Ingest(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}
