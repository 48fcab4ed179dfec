// Package graph 实现一个带步数上限的有向状态机：从入口节点开始每步执行一个节点，
// 依据固定边或条件边选择下一个节点，直到抵达 End。
package graph

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

// End 是终止状态，没有出边。
const End = state.End

// DefaultStepLimit 是默认的最大步数。
const DefaultStepLimit = 1000

// ErrStepLimitExceeded 表示在抵达 End 之前步数已耗尽。可用 errors.Is 判断。
var ErrStepLimitExceeded = xerrors.New(xerrors.CodeStepLimitExceeded, "")

// Node 是图中的一个执行单元。
type Node interface {
	Run(ctx context.Context, st state.State) (state.State, error)
}

// NodeFunc 让普通函数满足 Node 接口。
type NodeFunc func(ctx context.Context, st state.State) (state.State, error)

// Run 实现 Node 接口。
func (f NodeFunc) Run(ctx context.Context, st state.State) (state.State, error) {
	return f(ctx, st)
}

// Router 根据当前状态给出路由键。
type Router func(st state.State) state.NodeID

// RouteByNext 使用状态中的 Next 字段作为路由键。
func RouteByNext(st state.State) state.NodeID {
	return st.Next
}

type conditional struct {
	router  Router
	mapping map[state.NodeID]state.NodeID
}

// Graph 是尚未编译的图定义。
type Graph struct {
	nodes        map[state.NodeID]Node
	order        []state.NodeID
	entry        state.NodeID
	edges        map[state.NodeID]state.NodeID
	conditionals map[state.NodeID]conditional
	errs         []error
}

// New 创建空的图定义。
func New() *Graph {
	return &Graph{
		nodes:        make(map[state.NodeID]Node),
		edges:        make(map[state.NodeID]state.NodeID),
		conditionals: make(map[state.NodeID]conditional),
	}
}

// AddNode 注册节点。
func (g *Graph) AddNode(id state.NodeID, node Node) *Graph {
	switch {
	case id == End:
		g.errs = append(g.errs, fmt.Errorf("节点名 %s 已被终止状态占用", id))
	case node == nil:
		g.errs = append(g.errs, fmt.Errorf("节点 %s 为空", id))
	default:
		if _, exists := g.nodes[id]; exists {
			g.errs = append(g.errs, fmt.Errorf("节点 %s 重复注册", id))
			return g
		}
		g.nodes[id] = node
		g.order = append(g.order, id)
	}
	return g
}

// SetEntryPoint 设置入口节点。
func (g *Graph) SetEntryPoint(id state.NodeID) *Graph {
	g.entry = id
	return g
}

// AddEdge 添加一条无条件边。
func (g *Graph) AddEdge(from, to state.NodeID) *Graph {
	if _, exists := g.edges[from]; exists {
		g.errs = append(g.errs, fmt.Errorf("节点 %s 已有出边", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges 添加条件边：router 的返回值在 mapping 中查找目标，找不到时走向 End。
func (g *Graph) AddConditionalEdges(from state.NodeID, router Router, mapping map[state.NodeID]state.NodeID) *Graph {
	if router == nil {
		g.errs = append(g.errs, fmt.Errorf("节点 %s 的路由函数为空", from))
		return g
	}
	if _, exists := g.conditionals[from]; exists {
		g.errs = append(g.errs, fmt.Errorf("节点 %s 已有条件边", from))
		return g
	}
	copied := make(map[state.NodeID]state.NodeID, len(mapping))
	for k, v := range mapping {
		copied[k] = v
	}
	g.conditionals[from] = conditional{router: router, mapping: copied}
	return g
}

// Option 定义编译选项。
type Option func(*Compiled)

// WithStepLimit 设置最大步数，n <= 0 时使用默认值。
func WithStepLimit(n int) Option {
	return func(c *Compiled) {
		if n > 0 {
			c.stepLimit = n
		}
	}
}

// Compile 校验图定义并生成可执行的图。校验失败返回 SETUP_FAILURE 错误。
func (g *Graph) Compile(opts ...Option) (*Compiled, error) {
	errs := append([]error(nil), g.errs...)

	if g.entry == "" {
		errs = append(errs, stdErrors.New("未设置入口节点"))
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("入口节点 %s 不存在", g.entry))
	}

	known := func(id state.NodeID) bool {
		_, ok := g.nodes[id]
		return ok || id == End
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("边的起点 %s 不存在", from))
		}
		if !known(to) {
			errs = append(errs, fmt.Errorf("边 %s -> %s 的终点不存在", from, to))
		}
	}
	for from, cond := range g.conditionals {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("条件边的起点 %s 不存在", from))
		}
		for key, to := range cond.mapping {
			if !known(to) {
				errs = append(errs, fmt.Errorf("条件边 %s[%s] 的终点 %s 不存在", from, key, to))
			}
		}
	}
	for _, id := range g.order {
		_, plain := g.edges[id]
		_, cond := g.conditionals[id]
		if plain == cond {
			errs = append(errs, fmt.Errorf("节点 %s 必须且只能有一条出边规则", id))
		}
	}

	if len(errs) > 0 {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, stdErrors.Join(errs...), "编排图配置无效")
	}

	c := &Compiled{
		nodes:        g.nodes,
		entry:        g.entry,
		edges:        g.edges,
		conditionals: g.conditionals,
		stepLimit:    DefaultStepLimit,
		log:          logger.Named("graph"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}
