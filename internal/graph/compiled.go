package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// Step 是每执行完一个节点后交给观察者的快照。
type Step struct {
	Index int
	Node  state.NodeID
	State state.State
}

// Observer 接收每一步的状态，返回错误会中止执行。
type Observer func(step Step) error

// Compiled 是校验通过、可以执行的图。
type Compiled struct {
	nodes        map[state.NodeID]Node
	entry        state.NodeID
	edges        map[state.NodeID]state.NodeID
	conditionals map[state.NodeID]conditional
	stepLimit    int
	log          *slog.Logger
}

// StepLimit 返回最大步数。
func (c *Compiled) StepLimit() int { return c.stepLimit }

// Invoke 执行到结束并返回最终状态。
func (c *Compiled) Invoke(ctx context.Context, initial state.State) (state.State, error) {
	return c.Stream(ctx, initial, nil)
}

// Stream 从入口节点开始逐步执行，每步结束后把状态交给 observe。
//
// 正常抵达 End 时返回最终状态与 nil；步数耗尽时返回最后一个状态与 ErrStepLimitExceeded；
// ctx 被取消时返回最后一个状态与 CANCELLED 错误。
func (c *Compiled) Stream(ctx context.Context, initial state.State, observe Observer) (state.State, error) {
	current := c.entry
	st := initial
	steps := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return st, xerrors.Wrap(xerrors.CodeCancelled, err, "运行已取消", xerrors.WithMetadata("steps", strconv.Itoa(steps)))
		}
		if steps >= c.stepLimit {
			return st, xerrors.New(xerrors.CodeStepLimitExceeded,
				fmt.Sprintf("执行 %d 步后仍未结束", steps),
				xerrors.WithMetadata("next_node", string(current)))
		}

		node := c.nodes[current]
		out, err := node.Run(ctx, st)
		if err != nil {
			return st, fmt.Errorf("节点 %s 执行失败: %w", current, err)
		}
		steps++
		st = out

		next := c.route(current, st)
		c.log.Debug("完成一步", slog.Int("step", steps), slog.String("node", string(current)), slog.String("next", string(next)))

		if observe != nil {
			if err := observe(Step{Index: steps, Node: current, State: st.Clone()}); err != nil {
				return st, err
			}
		}
		if err := ctx.Err(); err != nil {
			return st, xerrors.Wrap(xerrors.CodeCancelled, err, "运行已取消", xerrors.WithMetadata("steps", strconv.Itoa(steps)))
		}
		current = next
	}
	return st, nil
}

// route 选择下一个节点。条件边中未登记的路由键一律走向 End。
func (c *Compiled) route(from state.NodeID, st state.State) state.NodeID {
	if to, ok := c.edges[from]; ok {
		return to
	}
	cond, ok := c.conditionals[from]
	if !ok {
		return End
	}
	to, ok := cond.mapping[cond.router(st)]
	if !ok {
		return End
	}
	if _, exists := c.nodes[to]; !exists {
		return End
	}
	return to
}
