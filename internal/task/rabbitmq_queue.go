package task

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "LeadFlow/internal/errors"
)

// DefaultRabbitMQQueue 是未配置队列名时声明的队列。
const DefaultRabbitMQQueue = "leadflow.runs"

// RabbitMQConfig 描述 RabbitMQ 队列的连接与声明参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认交换机直投到单个队列，消费使用手动确认。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 建立连接、打开 channel 并声明队列。任一步失败都会释放已打开的资源。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	q := &RabbitMQQueue{queue: cfg.Queue}
	if q.queue == "" {
		q.queue = DefaultRabbitMQQueue
	}

	steps := []struct {
		what string
		run  func() error
	}{
		{"连接 RabbitMQ", func() (err error) {
			q.conn, err = amqp.Dial(cfg.URL)
			return err
		}},
		{"打开 channel", func() (err error) {
			q.ch, err = q.conn.Channel()
			return err
		}},
		{"设置 prefetch", func() error {
			if cfg.Prefetch <= 0 {
				return nil
			}
			return q.ch.Qos(cfg.Prefetch, 0, false)
		}},
		{"声明队列", func() error {
			_, err := q.ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
			return err
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			_ = q.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, step.what+"失败", xerrors.WithMetadata("queue", q.queue))
		}
	}
	return q, nil
}

func (q *RabbitMQQueue) Publish(ctx context.Context, runID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    runID,
		Body:         []byte(runID),
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递到 RabbitMQ 失败", xerrors.WithMetadata("run_id", runID))
	}
	return nil
}

// Consume 中 handler 成功则 Ack，失败则 Nack 并重新入队。投递 channel 关闭时正常返回。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	return fanOut(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return nil
				}
				if handler(ctx, string(d.Body)) != nil {
					_ = d.Nack(false, true)
				} else {
					_ = d.Ack(false)
				}
			}
		}
	})
}

// Close 依次关闭 channel 与连接，可重复调用。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
		q.ch = nil
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
		q.conn = nil
	}
	return errors.Join(errs...)
}
