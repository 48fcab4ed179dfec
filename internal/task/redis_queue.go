package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "LeadFlow/internal/errors"
)

const (
	// DefaultRedisQueue 是未配置队列名时使用的 list 键。
	DefaultRedisQueue = "leadflow:runs"

	defaultRedisBlockWait = 5 * time.Second
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address  string
	Password string
	DB       int
	Queue    string
	// BlockWait 是单次 BRPOP 的最长阻塞时间，决定消费协程感知取消的延迟。
	BlockWait time.Duration
}

// RedisQueue 把 list 当作 FIFO：LPUSH 入队尾，BRPOP 从队头取。
type RedisQueue struct {
	rdb  *redis.Client
	key  string
	wait time.Duration
}

// NewRedisQueue 连接 Redis 并以 PING 确认可用。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 地址不能为空")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败", xerrors.WithMetadata("address", cfg.Address))
	}
	return newRedisQueue(rdb, cfg), nil
}

func newRedisQueue(rdb *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{rdb: rdb, key: cfg.Queue, wait: cfg.BlockWait}
	if q.key == "" {
		q.key = DefaultRedisQueue
	}
	if q.wait <= 0 {
		q.wait = defaultRedisBlockWait
	}
	return q
}

func (q *RedisQueue) Publish(ctx context.Context, runID string) error {
	if err := q.rdb.LPush(ctx, q.key, runID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "写入 Redis 队列失败", xerrors.WithMetadata("run_id", runID))
	}
	return nil
}

// Consume 中 handler 返回错误的 ID 会重新放回队尾。
// 连接被关闭或 ctx 结束视为正常退出，其他 Redis 错误会终止全部消费协程。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return fanOut(ctx, workerCount, func(ctx context.Context) error {
		for ctx.Err() == nil {
			runID, err := q.pop(ctx)
			if err != nil {
				switch {
				case errors.Is(err, redis.Nil):
					continue
				case ctx.Err() != nil, errors.Is(err, redis.ErrClosed):
					return nil
				}
				return xerrors.Wrap(xerrors.CodeQueueFailure, err, "读取 Redis 队列失败")
			}
			if handler(ctx, runID) != nil {
				_ = q.rdb.LPush(ctx, q.key, runID).Err()
			}
		}
		return nil
	})
}

// pop 阻塞至多 q.wait，超时返回 redis.Nil。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	kv, err := q.rdb.BRPop(ctx, q.wait, q.key).Result()
	if err != nil {
		return "", err
	}
	if len(kv) != 2 {
		return "", redis.Nil
	}
	return kv[1], nil
}

func (q *RedisQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}
