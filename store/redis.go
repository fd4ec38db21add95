package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/phoenix/core"
)

// upsertScript 在单个脚本内完成一条记录的 upsert：
// 覆盖特征字段、HSETNX createdAt、HINCRBY version，并按 expiresAt 设置过期。
// 返回新版本号与 createdAt。
var upsertScript = redis.NewScript(`
local key = KEYS[1]
redis.call('HSET', key,
  'embedding', ARGV[1],
  'qualityScore', ARGV[2],
  'modelVersion', ARGV[3],
  'computedAt', ARGV[4],
  'expiresAt', ARGV[5],
  'updatedAt', ARGV[6])
redis.call('HSETNX', key, 'createdAt', ARGV[6])
local version = redis.call('HINCRBY', key, 'version', 1)
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIREAT', key, ARGV[5])
end
return {version, redis.call('HGET', key, 'createdAt')}
`)

// RedisFeatureStore 是 Redis 实现的 FeatureStore，每个用户一个 hash。
// 生产环境常用，单条 upsert 由 Lua 脚本保证原子性，过期由 PEXPIREAT 交给 Redis。
type RedisFeatureStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisConfig 是 RedisFeatureStore 的连接配置
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

func NewRedisFeatureStore(ctx context.Context, cfg RedisConfig) (*RedisFeatureStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "redis: ping "+cfg.Addr, err)
	}
	return NewRedisFeatureStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisFeatureStoreWithClient 复用已有客户端
func NewRedisFeatureStoreWithClient(client *redis.Client, prefix string) *RedisFeatureStore {
	if prefix == "" {
		prefix = "phoenix:fv:"
	}
	return &RedisFeatureStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisFeatureStore) Name() string { return "redis" }

func (r *RedisFeatureStore) key(userID string) string { return r.prefix + userID }

func (r *RedisFeatureStore) Get(ctx context.Context, userID string) (*core.FeatureVector, error) {
	vals, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: hgetall %s: %w", userID, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	fv, err := parseRedisHash(userID, vals)
	if err != nil {
		return nil, err
	}
	if !fv.ExpiresAt.IsZero() && !r.now().Before(fv.ExpiresAt) {
		return nil, ErrNotFound
	}
	return fv, nil
}

func parseRedisHash(userID string, vals map[string]string) (*core.FeatureVector, error) {
	emb, err := decodeEmbedding([]byte(vals["embedding"]))
	if err != nil {
		return nil, fmt.Errorf("redis: %s: %w", userID, err)
	}
	quality, _ := strconv.ParseFloat(vals["qualityScore"], 64)
	version, _ := strconv.ParseInt(vals["version"], 10, 64)
	return &core.FeatureVector{
		UserID:       userID,
		Embedding:    emb,
		QualityScore: quality,
		ModelVersion: vals["modelVersion"],
		ComputedAt:   parseMillis(vals["computedAt"]),
		ExpiresAt:    parseMillis(vals["expiresAt"]),
		CreatedAt:    parseMillis(vals["createdAt"]),
		UpdatedAt:    parseMillis(vals["updatedAt"]),
		Version:      version,
	}, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *RedisFeatureStore) args(fv *core.FeatureVector, now time.Time) []any {
	return []any{
		encodeEmbedding(fv.Embedding),
		strconv.FormatFloat(fv.QualityScore, 'g', -1, 64),
		fv.ModelVersion,
		millis(fv.ComputedAt),
		millis(fv.ExpiresAt),
		millis(now),
	}
}

func applyScriptResult(fv *core.FeatureVector, res any, now time.Time) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return
	}
	if v, ok := vals[0].(int64); ok {
		fv.Version = v
	}
	if s, ok := vals[1].(string); ok {
		fv.CreatedAt = parseMillis(s)
	}
	fv.UpdatedAt = now
}

func (r *RedisFeatureStore) Upsert(ctx context.Context, fv *core.FeatureVector) error {
	if err := validateVector(fv); err != nil {
		return err
	}
	now := r.now().UTC()
	res, err := upsertScript.Run(ctx, r.client, []string{r.key(fv.UserID)}, r.args(fv, now)...).Result()
	if err != nil {
		return fmt.Errorf("redis: upsert %s: %w", fv.UserID, err)
	}
	applyScriptResult(fv, res, now)
	return nil
}

// UpsertBatch 通过 pipeline 批量执行 upsert 脚本；脚本先 LOAD，再以 EVALSHA 提交。
func (r *RedisFeatureStore) UpsertBatch(ctx context.Context, fvs []*core.FeatureVector) error {
	if len(fvs) == 0 {
		return nil
	}
	if err := upsertScript.Load(ctx, r.client).Err(); err != nil {
		return fmt.Errorf("redis: load upsert script: %w", err)
	}
	now := r.now().UTC()
	var first error
	pipe := r.client.Pipeline()
	cmds := make([]*redis.Cmd, len(fvs))
	for i, fv := range fvs {
		if err := validateVector(fv); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		cmds[i] = upsertScript.EvalSha(ctx, pipe, []string{r.key(fv.UserID)}, r.args(fv, now)...)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) && first == nil {
		first = fmt.Errorf("redis: upsert batch: %w", err)
	}
	for i, cmd := range cmds {
		if cmd == nil || cmd.Err() != nil {
			continue
		}
		applyScriptResult(fvs[i], cmd.Val(), now)
	}
	return first
}

func (r *RedisFeatureStore) Close() error {
	return r.client.Close()
}

var _ core.FeatureStore = (*RedisFeatureStore)(nil)
