package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
)

type postRow struct {
	URI         string         `db:"uri"`
	CID         string         `db:"cid"`
	ReplyParent sql.NullString `db:"reply_parent"`
	ReplyRoot   sql.NullString `db:"reply_root"`
	IndexedAt   int64          `db:"indexed_at"`
}

func (r postRow) toDomain() domain.Post {
	return domain.Post{
		URI:         r.URI,
		CID:         r.CID,
		ReplyParent: r.ReplyParent.String,
		ReplyRoot:   r.ReplyRoot.String,
		IndexedAt:   time.UnixMilli(r.IndexedAt).UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// AcceptPost inserts a post and its vector in one transaction. A post whose
// URI is already stored is left as is.
func (r *Repository) AcceptPost(ctx context.Context, post *domain.Post, vector *domain.PostVector) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO posts (uri, cid, reply_parent, reply_root, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING`,
		post.URI, post.CID, nullString(post.ReplyParent), nullString(post.ReplyRoot), post.IndexedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert post %s: %w", post.URI, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	postID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("post id %s: %w", post.URI, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO post_vectors (post_id, post_text, post_vector, post_dim)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO NOTHING`,
		postID, vector.Text, domain.EncodeVector(vector.Vector), vector.Vector.Dim(),
	)
	if err != nil {
		return fmt.Errorf("insert vector %s: %w", post.URI, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteExpiredPosts removes every post indexed before cutoff, vectors first.
// Returns the number of posts deleted.
func (r *Repository) DeleteExpiredPosts(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoffMs := cutoff.UnixMilli()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM post_vectors
		WHERE post_id IN (SELECT id FROM posts WHERE indexed_at < ?)`,
		cutoffMs,
	); err != nil {
		return 0, fmt.Errorf("delete expired vectors: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE indexed_at < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete expired posts: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}

// GetFeedPosts retrieves up to limit posts ordered by indexed_at then cid,
// both descending, strictly after cursor when one is given.
func (r *Repository) GetFeedPosts(ctx context.Context, limit int, cursor *domain.Cursor) ([]domain.Post, error) {
	var rows []postRow

	if cursor != nil {
		ts := cursor.IndexedAt.UnixMilli()
		err := r.db.SelectContext(ctx, &rows, `
			SELECT uri, cid, reply_parent, reply_root, indexed_at
			FROM posts
			WHERE (indexed_at = ? AND cid < ?) OR indexed_at < ?
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?`,
			ts, cursor.CID, ts, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("query posts with cursor (time=%d, cid=%s, limit=%d): %w", ts, cursor.CID, limit, err)
		}
	} else {
		err := r.db.SelectContext(ctx, &rows, `
			SELECT uri, cid, reply_parent, reply_root, indexed_at
			FROM posts
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?`,
			limit,
		)
		if err != nil {
			return nil, fmt.Errorf("query posts without cursor (limit=%d): %w", limit, err)
		}
	}

	posts := make([]domain.Post, len(rows))
	for i, row := range rows {
		posts[i] = row.toDomain()
	}
	return posts, nil
}

// GetPostVector returns the stored text and embedding of the post at uri.
func (r *Repository) GetPostVector(ctx context.Context, uri string) (*domain.PostVector, error) {
	var row struct {
		Text   string `db:"post_text"`
		Vector []byte `db:"post_vector"`
		Dim    int    `db:"post_dim"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT v.post_text, v.post_vector, v.post_dim
		FROM post_vectors v JOIN posts p ON p.id = v.post_id
		WHERE p.uri = ?`, uri)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vector %s: %w", uri, err)
	}

	vector, err := domain.DecodeVector(row.Vector, row.Dim)
	if err != nil {
		return nil, fmt.Errorf("decode vector %s: %w", uri, err)
	}
	return &domain.PostVector{Text: row.Text, Vector: vector}, nil
}
