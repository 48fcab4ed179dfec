package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter 描述列表与统计查询的筛选条件。零值表示按更新时间倒序的前 20 条。
type Filter struct {
	Limit    int
	Offset   int
	Statuses []Status
	// Since 与 Until 为闭区间，零值表示不限制。
	Since     time.Time
	Until     time.Time
	HasResult *bool
	// Oldest 为 true 时按更新时间升序返回。
	Oldest bool
	// Query 对 ID、指令与最近一次错误做不区分大小写的子串匹配。
	Query string
}

// WithResult 返回只保留（或排除）已有运行结果的副本。
func (f Filter) WithResult(has bool) Filter {
	f.HasResult = &has
	return f
}

func (f Filter) normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	f.Offset = max(f.Offset, 0)
	f.Query = strings.TrimSpace(f.Query)

	var statuses []Status
	for _, s := range f.Statuses {
		if IsValidStatus(s) && !slices.Contains(statuses, s) {
			statuses = append(statuses, s)
		}
	}
	f.Statuses = statuses
	return f
}

func (f Filter) match(t *Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if !f.Since.IsZero() && t.UpdatedAt < f.Since.Unix() {
		return false
	}
	if !f.Until.IsZero() && t.UpdatedAt > f.Until.Unix() {
		return false
	}
	if f.HasResult != nil && (t.Result != nil) != *f.HasResult {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, field := range []string{t.ID, t.Instructions, t.LastError} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// likeEscaper 让关键字中的 % 与 _ 按字面匹配。
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// where 渲染 run_tasks 上的 WHERE 子句（不含关键字）与参数。
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if n := len(f.Statuses); n > 0 {
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.TrimSuffix(strings.Repeat("?,", n), ",")))
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if !f.Since.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "updated_at <= ?")
		args = append(args, f.Until.Unix())
	}
	if f.HasResult != nil {
		conds = append(conds, "has_result = ?")
		args = append(args, *f.HasResult)
	}
	if f.Query != "" {
		pattern := "%" + likeEscaper.Replace(f.Query) + "%"
		conds = append(conds, `(id LIKE ? ESCAPE '\\' OR instructions LIKE ? ESCAPE '\\' OR last_error LIKE ? ESCAPE '\\')`)
		args = append(args, pattern, pattern, pattern)
	}
	return strings.Join(conds, " AND "), args
}
