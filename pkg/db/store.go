package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxWordLen is the longest word the words table accepts (VARCHAR(4)).
const MaxWordLen = 4

// ErrInvalidWord is returned when a word is empty or longer than MaxWordLen runes.
var ErrInvalidWord = errors.New("word must be 1 to 4 characters")

const (
	insertQuestionSQL = `INSERT INTO questions (id, is_answered) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING`

	insertWordSQL = `INSERT INTO words (word, question_id) VALUES (?, ?)
		ON CONFLICT (word, question_id) DO NOTHING`

	// Words seen in five questions or fewer score 0; above that the score is
	// the answered fraction. The expression is kept in its original shape.
	topWordsSQL = `SELECT
			w.word,
			SUM(CASE WHEN q.is_answered THEN 1 ELSE 0 END) AS answered,
			COUNT(q.id) AS total,
			MAX(0.0, COUNT(q.id) - 5.0) / MAX(COUNT(q.id) - 5.0, 1.0)
				* ((1.0 * SUM(CASE WHEN q.is_answered THEN 1 ELSE 0 END)) / (1.0 * COUNT(q.id)))
				AS ratio
		FROM questions q
		INNER JOIN words w ON q.id = w.question_id
		GROUP BY w.word
		ORDER BY ratio DESC, w.word ASC
		LIMIT ?`
)

// Store owns the connection pool and the insert statements prepared once at startup.
type Store struct {
	DB *sql.DB

	insertQuestion *sql.Stmt
	insertWord     *sql.Stmt
}

// NewStore prepares the insert statements against conn. The schema must already exist.
func NewStore(ctx context.Context, conn *sql.DB) (*Store, error) {
	iq, err := conn.PrepareContext(ctx, insertQuestionSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare insert question: %w", err)
	}
	iw, err := conn.PrepareContext(ctx, insertWordSQL)
	if err != nil {
		iq.Close()
		return nil, fmt.Errorf("prepare insert word: %w", err)
	}
	return &Store{DB: conn, insertQuestion: iq, insertWord: iw}, nil
}

// Close releases the prepared statements. The underlying *sql.DB is left open.
func (s *Store) Close() error {
	return errors.Join(s.insertQuestion.Close(), s.insertWord.Close())
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// InsertQuestion inserts a question row. An existing row with the same id is
// left untouched, including its is_answered value.
func (s *Store) InsertQuestion(ctx context.Context, q Question) error {
	return insertQuestion(ctx, s.insertQuestion, q)
}

// InsertWord links word to questionID. Duplicate pairs are ignored.
func (s *Store) InsertWord(ctx context.Context, word string, questionID int64) error {
	return insertWord(ctx, s.insertWord, word, questionID)
}

// SaveQuestion inserts the question and then each of its words inside a
// single transaction, so a failure leaves no partial state for that question.
func (s *Store) SaveQuestion(ctx context.Context, q Question, words []string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for question %d: %w", q.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	iq := tx.StmtContext(ctx, s.insertQuestion)
	defer iq.Close()
	if err = insertQuestion(ctx, iq, q); err != nil {
		return err
	}

	iw := tx.StmtContext(ctx, s.insertWord)
	defer iw.Close()
	for _, w := range words {
		if err = insertWord(ctx, iw, w, q.ID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit question %d: %w", q.ID, err)
	}
	return nil
}

// TopWords returns at most k words ordered by ratio descending, then by word.
func (s *Store) TopWords(ctx context.Context, k int) ([]WordStat, error) {
	if k <= 0 {
		return []WordStat{}, nil
	}
	rows, err := s.DB.QueryContext(ctx, topWordsSQL, k)
	if err != nil {
		return nil, fmt.Errorf("query top words: %w", err)
	}
	defer rows.Close()

	out := []WordStat{}
	for rows.Next() {
		var ws WordStat
		if err := rows.Scan(&ws.Word, &ws.Answered, &ws.Total, &ws.Ratio); err != nil {
			return nil, fmt.Errorf("scan top words: %w", err)
		}
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Counts returns the number of question rows and word rows.
func (s *Store) Counts(ctx context.Context) (questions, words int64, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM questions), (SELECT COUNT(*) FROM words)`,
	).Scan(&questions, &words)
	return questions, words, err
}

func insertQuestion(ctx context.Context, stmt *sql.Stmt, q Question) error {
	if q.ID <= 0 {
		return fmt.Errorf("question id must be positive, got %d", q.ID)
	}
	if _, err := stmt.ExecContext(ctx, q.ID, q.IsAnswered); err != nil {
		return fmt.Errorf("insert question %d: %w", q.ID, err)
	}
	return nil
}

func insertWord(ctx context.Context, stmt *sql.Stmt, word string, questionID int64) error {
	if n := utf8.RuneCountInString(word); n == 0 || n > MaxWordLen {
		return fmt.Errorf("%w: %q", ErrInvalidWord, word)
	}
	if _, err := stmt.ExecContext(ctx, word, questionID); err != nil {
		return fmt.Errorf("insert word %q for question %d: %w", word, questionID, err)
	}
	return nil
}
