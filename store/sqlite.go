package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rushteam/phoenix/core"
)

// SQLiteStore 是基于 SQLite 的行为与帖子存储，实现 core.EventStore 与 core.PostStore。
// 时间以 Unix 毫秒保存。
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_actions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        TEXT    NOT NULL,
	action_type    TEXT    NOT NULL,
	target_post_id TEXT    NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_actions_created ON user_actions (created_at);
CREATE INDEX IF NOT EXISTS idx_user_actions_user ON user_actions (user_id, created_at);

CREATE TABLE IF NOT EXISTS posts (
	id               TEXT PRIMARY KEY,
	author_id        TEXT    NOT NULL DEFAULT '',
	original_post_id TEXT    NOT NULL DEFAULT '',
	reply_to_post_id TEXT    NOT NULL DEFAULT '',
	conversation_id  TEXT    NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL DEFAULT 0
);
`

// GetPosts 单条 IN 查询的最大参数个数
const sqliteBatchSize = 500

// NewSQLiteStore 打开（必要时创建）path 处的数据库并建表
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path 返回数据库文件路径
func (s *SQLiteStore) Path() string { return s.path }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// actionFilter 生成 created_at 与 action_type 条件
func actionFilter(since time.Time, actionTypes []string) (string, []any) {
	where := "created_at >= ? AND target_post_id != ''"
	args := []any{since.UnixMilli()}
	if len(actionTypes) > 0 {
		where += " AND action_type IN (" + placeholders(len(actionTypes)) + ")"
		for _, t := range actionTypes {
			args = append(args, t)
		}
	}
	return where, args
}

func (s *SQLiteStore) ActiveUsers(ctx context.Context, since time.Time, actionTypes []string, limit int) ([]string, error) {
	where, args := actionFilter(since, actionTypes)
	query := "SELECT DISTINCT user_id FROM user_actions WHERE " + where + " ORDER BY user_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) RecentTargets(ctx context.Context, userID string, since time.Time, actionTypes []string, limit int) ([]string, error) {
	where, args := actionFilter(since, actionTypes)
	query := "SELECT target_post_id FROM user_actions WHERE user_id = ? AND " + where + " ORDER BY created_at DESC, id DESC"
	args = append([]any{userID}, args...)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent targets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordActions 批量写入行为记录
func (s *SQLiteStore) RecordActions(ctx context.Context, actions ...core.Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO user_actions (user_id, action_type, target_post_id, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range actions {
		if _, err := stmt.ExecContext(ctx, a.UserID, a.ActionType, a.TargetPostID, a.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}
	return tx.Commit()
}

// PutPosts 写入或覆盖帖子
func (s *SQLiteStore) PutPosts(ctx context.Context, posts ...*core.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO posts (id, author_id, original_post_id, reply_to_post_id, conversation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author_id = excluded.author_id,
			original_post_id = excluded.original_post_id,
			reply_to_post_id = excluded.reply_to_post_id,
			conversation_id = excluded.conversation_id,
			created_at = excluded.created_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range posts {
		if p == nil || p.ID == "" {
			continue
		}
		var created int64
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.AuthorID, p.OriginalPostID, p.ReplyToPostID, p.ConversationID, created); err != nil {
			return fmt.Errorf("upsert post %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetPosts(ctx context.Context, ids []string) (map[string]*core.Post, error) {
	out := make(map[string]*core.Post, len(ids))
	for start := 0; start < len(ids); start += sqliteBatchSize {
		chunk := ids[start:min(start+sqliteBatchSize, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT id, author_id, original_post_id, reply_to_post_id, conversation_id, created_at FROM posts WHERE id IN ("+placeholders(len(chunk))+")",
			args...)
		if err != nil {
			return nil, fmt.Errorf("query posts: %w", err)
		}
		for rows.Next() {
			var p core.Post
			var created int64
			if err := rows.Scan(&p.ID, &p.AuthorID, &p.OriginalPostID, &p.ReplyToPostID, &p.ConversationID, &created); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan post: %w", err)
			}
			if created > 0 {
				p.CreatedAt = time.UnixMilli(created).UTC()
			}
			out[p.ID] = &p
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

var (
	_ core.EventStore = (*SQLiteStore)(nil)
	_ core.PostStore  = (*SQLiteStore)(nil)
)
