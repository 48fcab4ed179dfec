package task

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	xerrors "LeadFlow/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于单机运行与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Task
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Task), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, run *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行不能为空")
	}
	if run.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if _, ok := m.runs[run.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = cloneTask(run)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(run), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch run.Status {
	case StatusSucceeded, StatusAborted:
		return cloneTask(run), ErrTaskCompleted
	case StatusRunning:
		return cloneTask(run), ErrTaskConflict
	}
	if run.Attempts >= run.MaxRetries {
		return cloneTask(run), ErrTaskExhausted
	}
	run.Status = StatusRunning
	run.Attempts++
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = m.now().Unix()
	return cloneTask(run), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result RunSummary) error {
	return m.update(id, func(t *Task) {
		t.Status = StatusSucceeded
		t.Result = cloneSummary(&result)
		t.LastError, t.ErrorCode = "", ""
	})
}

// MarkAborted 记录中止的运行及其部分结果。
func (m *MemoryStore) MarkAborted(_ context.Context, id string, code xerrors.Code, lastError string, result RunSummary) error {
	return m.update(id, func(t *Task) {
		t.Status = StatusAborted
		t.Result = cloneSummary(&result)
		t.LastError, t.ErrorCode = lastError, string(code)
	})
}

// MarkFailed 标记任务失败。terminal 为 true 时把剩余重试次数清零。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	return m.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.LastError, t.ErrorCode = lastError, string(code)
		if terminal {
			t.MaxRetries = min(t.MaxRetries, t.Attempts)
		}
	})
}

// RecoverInterrupted 实现 Store 接口。
func (m *MemoryStore) RecoverInterrupted(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	var retryable []*Task
	for _, run := range m.runs {
		if run.Status == StatusRunning {
			run.Status = StatusFailed
			run.LastError, run.ErrorCode = interruptedMessage, string(xerrors.CodeCancelled)
			run.UpdatedAt = now
		}
		if run.Status == StatusFailed && !run.Terminal() {
			retryable = append(retryable, run)
		}
	}
	slices.SortFunc(retryable, func(a, b *Task) int {
		return cmp.Or(cmp.Compare(a.UpdatedAt, b.UpdatedAt), strings.Compare(a.ID, b.ID))
	})
	ids := make([]string, len(retryable))
	for i, run := range retryable {
		ids[i] = run.ID
	}
	return ids, nil
}

func (m *MemoryStore) update(id string, apply func(*Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrTaskNotFound
	}
	apply(run)
	run.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter = filter.normalized()
	results := make([]*Task, 0, len(m.runs))
	for _, run := range m.runs {
		if filter.match(run) {
			results = append(results, cloneTask(run))
		}
	}

	slices.SortFunc(results, func(a, b *Task) int {
		c := cmp.Or(
			cmp.Compare(b.UpdatedAt, a.UpdatedAt),
			cmp.Compare(b.CreatedAt, a.CreatedAt),
			strings.Compare(b.ID, a.ID),
		)
		if filter.Oldest {
			return -c
		}
		return c
	})

	if filter.Offset >= len(results) {
		return []*Task{}, nil
	}
	results = results[filter.Offset:]
	return results[:min(len(results), filter.Limit)], nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, filter Filter) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter = filter.normalized()
	var stats Stats
	for _, run := range m.runs {
		if filter.match(run) {
			stats.add(run)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
