package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ForumWatcher/internal/domain"
	"ForumWatcher/internal/ports"
)

const schema = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	published_at TEXT,
	rss_summary TEXT,
	full_text TEXT,
	ai_summary TEXT,
	score REAL NOT NULL DEFAULT 0,
	decision TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_posts_status_created ON posts(status, created_at);
CREATE INDEX IF NOT EXISTS ix_posts_updated ON posts(updated_at);

CREATE TABLE IF NOT EXISTS pushes (
	post_id TEXT PRIMARY KEY,
	pushed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conf (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// ErrNotFound reports a missing post id.
var ErrNotFound = errors.New("post not found")

// SQLiteRepository persists posts, push records, and configuration snapshots
// into a single SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.PostLedger = (*SQLiteRepository)(nil)

// Open creates the database file if needed and applies the schema.
func Open(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY between the poller and the admin surface.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// UpsertFromFeed inserts a freshly polled post, or refreshes the feed-owned
// columns of a known one. Processing state is never reset here.
func (r *SQLiteRepository) UpsertFromFeed(ctx context.Context, post domain.Post) (bool, error) {
	now := formatTime(time.Now())

	query, args, err := sq.Insert("posts").
		Columns("id", "title", "url", "published_at", "rss_summary", "status", "created_at", "updated_at").
		Values(post.ID, post.Title, post.URL, formatTime(post.PublishedAt), post.RawSummary, string(domain.StatusNew), now, now).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build upsert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("upsert post: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted > 0 {
		return true, nil
	}

	query, args, err = sq.Update("posts").
		Set("title", post.Title).
		Set("url", post.URL).
		Set("rss_summary", post.RawSummary).
		Set("updated_at", now).
		Where(sq.Eq{"id": post.ID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build refresh: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("refresh post: %w", err)
	}
	return false, nil
}

var postColumns = []string{
	"p.id", "p.title", "p.url", "p.published_at", "p.rss_summary",
	"p.full_text", "p.ai_summary", "p.score", "p.decision", "p.status",
	"p.created_at", "p.updated_at", "pu.pushed_at",
}

func (r *SQLiteRepository) selectPosts() sq.SelectBuilder {
	return sq.Select(postColumns...).
		From("posts p").
		LeftJoin("pushes pu ON pu.post_id = p.id")
}

// Get loads a single post by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (domain.Post, error) {
	query, args, err := r.selectPosts().Where(sq.Eq{"p.id": id}).ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build get: %w", err)
	}

	post, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return post, err
}

// NextPending returns the oldest unprocessed post, if any.
func (r *SQLiteRepository) NextPending(ctx context.Context) (domain.Post, bool, error) {
	query, args, err := r.selectPosts().
		Where(sq.Eq{"p.status": string(domain.StatusNew)}).
		OrderBy("p.created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Post{}, false, fmt.Errorf("build next pending: %w", err)
	}

	post, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, false, nil
	}
	if err != nil {
		return domain.Post{}, false, err
	}
	return post, true, nil
}

// SetStatus records a pipeline milestone.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return r.updatePost(ctx, id, map[string]any{"status": string(status)})
}

// SaveContent stores fetched full text.
func (r *SQLiteRepository) SaveContent(ctx context.Context, id, text string) error {
	return r.updatePost(ctx, id, map[string]any{"full_text": text})
}

// SaveScore stores the rule engine verdict.
func (r *SQLiteRepository) SaveScore(ctx context.Context, id string, score domain.ScoreResult) error {
	return r.updatePost(ctx, id, map[string]any{
		"score":    score.Total,
		"decision": string(score.Decision),
	})
}

// SaveSummary stores the AI summary rendered to a single text blob.
func (r *SQLiteRepository) SaveSummary(ctx context.Context, id string, summary domain.Summary) error {
	return r.updatePost(ctx, id, map[string]any{"ai_summary": summary.Render()})
}

func (r *SQLiteRepository) updatePost(ctx context.Context, id string, sets map[string]any) error {
	b := sq.Update("posts").Set("updated_at", formatTime(time.Now()))
	for col, val := range sets {
		b = b.Set(col, val)
	}

	query, args, err := b.Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	return nil
}

// IsPushed reports whether a push record exists for the post.
func (r *SQLiteRepository) IsPushed(ctx context.Context, id string) (bool, error) {
	query, args, err := sq.Select("1").From("pushes").Where(sq.Eq{"post_id": id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build is pushed: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query push record: %w", err)
	}
	return true, nil
}

// RecordPush marks the post delivered, overwriting any prior record.
func (r *SQLiteRepository) RecordPush(ctx context.Context, id string, at time.Time) error {
	query, args, err := sq.Insert("pushes").
		Columns("post_id", "pushed_at").
		Values(id, formatTime(at)).
		Suffix("ON CONFLICT(post_id) DO UPDATE SET pushed_at = excluded.pushed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build record push: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record push %s: %w", id, err)
	}

	return r.updatePost(ctx, id, map[string]any{"status": string(domain.StatusPushed)})
}

// ClearPush removes the push marker and resets the processing state so the
// pipeline treats the post as eligible again.
func (r *SQLiteRepository) ClearPush(ctx context.Context, id string) error {
	query, args, err := sq.Delete("pushes").Where(sq.Eq{"post_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build clear push: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear push %s: %w", id, err)
	}

	return r.updatePost(ctx, id, map[string]any{
		"status":   string(domain.StatusNew),
		"score":    0,
		"decision": "",
	})
}

// Recent returns the n most recently processed posts, most recent first.
// The result is a snapshot taken at call time.
func (r *SQLiteRepository) Recent(ctx context.Context, n int) ([]domain.Post, error) {
	if n <= 0 {
		return nil, nil
	}

	query, args, err := r.selectPosts().
		OrderBy("p.updated_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

// Cleanup deletes posts last touched before the given time, along with
// their push records.
func (r *SQLiteRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := formatTime(olderThan)

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM pushes WHERE post_id IN (SELECT id FROM posts WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("cleanup pushes: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup posts: %w", err)
	}
	return res.RowsAffected()
}

// GetConf reads a configuration snapshot value; empty string when absent.
func (r *SQLiteRepository) GetConf(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM conf WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query conf %s: %w", key, err)
	}
	return value, nil
}

// SetConf writes a configuration snapshot value.
func (r *SQLiteRepository) SetConf(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conf (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set conf %s: %w", key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (domain.Post, error) {
	var (
		post                              domain.Post
		publishedAt, createdAt, updatedAt string
		rssSummary, fullText, aiSummary   sql.NullString
		decision                          string
		status                            string
		pushedAt                          sql.NullString
	)

	err := row.Scan(
		&post.ID, &post.Title, &post.URL, &publishedAt, &rssSummary,
		&fullText, &aiSummary, &post.Score, &decision, &status,
		&createdAt, &updatedAt, &pushedAt,
	)
	if err != nil {
		return domain.Post{}, err
	}

	post.RawSummary = rssSummary.String
	post.FullText = fullText.String
	post.AISummary = aiSummary.String
	post.Decision = domain.Decision(decision)
	post.Status = domain.Status(status)
	post.PublishedAt = parseTime(publishedAt)
	post.CreatedAt = parseTime(createdAt)
	post.UpdatedAt = parseTime(updatedAt)
	if pushedAt.Valid {
		post.PushedAt = parseTime(pushedAt.String)
	}

	return post, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
