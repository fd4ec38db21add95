package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rushteam/phoenix/core"
)

const featureKeyPrefix = "fv:"

// 单条 upsert 事务冲突时的重试次数
const badgerConflictRetries = 5

// BadgerFeatureStore 是 BadgerDB 实现的 FeatureStore，适合单机持久化部署。
// 每条记录一个 key，值为 JSON；过期通过 entry TTL 交给 Badger 回收。
type BadgerFeatureStore struct {
	db    *badger.DB
	owned bool
	now   func() time.Time
}

// OpenBadgerFeatureStore 打开目录 dir 下的 Badger 库；dir 为空时使用内存模式。
func OpenBadgerFeatureStore(dir string) (*BadgerFeatureStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "badger: open "+dir, err)
	}
	s := NewBadgerFeatureStore(db)
	s.owned = true
	return s, nil
}

// NewBadgerFeatureStore 复用已打开的 Badger 实例，Close 不会关闭它
func NewBadgerFeatureStore(db *badger.DB) *BadgerFeatureStore {
	return &BadgerFeatureStore{db: db, now: time.Now}
}

func (s *BadgerFeatureStore) Name() string { return "badger" }

func (s *BadgerFeatureStore) Get(ctx context.Context, userID string) (*core.FeatureVector, error) {
	var fv core.FeatureVector
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(featureKeyPrefix + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get feature vector: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fv)
		})
	})
	if err != nil {
		return nil, err
	}
	if !fv.ExpiresAt.IsZero() && !s.now().Before(fv.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &fv, nil
}

func (s *BadgerFeatureStore) Upsert(ctx context.Context, fv *core.FeatureVector) error {
	if err := validateVector(fv); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.upsertTxn(txn, fv)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("badger: upsert %s: %w", fv.UserID, err)
	}
	return nil
}

func (s *BadgerFeatureStore) upsertTxn(txn *badger.Txn, fv *core.FeatureVector) error {
	key := []byte(featureKeyPrefix + fv.UserID)
	now := s.now().UTC()

	var prev *core.FeatureVector
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		var old core.FeatureVector
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &old) }); err != nil {
			return fmt.Errorf("decode previous: %w", err)
		}
		if old.ExpiresAt.IsZero() || now.Before(old.ExpiresAt) {
			prev = &old
		}
	}

	merged := mergeUpsert(prev, fv, now)
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal feature vector: %w", err)
	}
	entry := badger.NewEntry(key, data)
	if !merged.ExpiresAt.IsZero() {
		ttl := merged.ExpiresAt.Sub(now)
		if ttl <= 0 {
			ttl = time.Second
		}
		entry = entry.WithTTL(ttl)
	}
	if err := txn.SetEntry(entry); err != nil {
		return err
	}
	fv.Version, fv.CreatedAt, fv.UpdatedAt = merged.Version, merged.CreatedAt, merged.UpdatedAt
	return nil
}

// UpsertBatch 逐条提交事务；失败的记录不影响其他记录
func (s *BadgerFeatureStore) UpsertBatch(ctx context.Context, fvs []*core.FeatureVector) error {
	var first error
	for _, fv := range fvs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Upsert(ctx, fv); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *BadgerFeatureStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

var _ core.FeatureStore = (*BadgerFeatureStore)(nil)
