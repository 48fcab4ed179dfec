package task

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// 一个按脚本逐条校验的 database/sql 驱动，只覆盖 MySQLStore 用到的调用。

type stepKind string

const (
	stepExec     stepKind = "exec"
	stepQuery    stepKind = "query"
	stepBegin    stepKind = "begin"
	stepCommit   stepKind = "commit"
	stepRollback stepKind = "rollback"
)

type mockOperation struct {
	kind   stepKind
	query  string
	result mockResult
	rows   mockRowsData
	err    error
	// args 由驱动回填为实际收到的参数。
	args []driver.Value
}

type mockResult struct {
	rowsAffected int64
}

func (mockResult) LastInsertId() (int64, error)   { return 0, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{kind: stepExec, query: query, result: result}
}

func failingExecOp(query string, err error) mockOperation {
	return mockOperation{kind: stepExec, query: query, err: err}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{kind: stepQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{kind: stepBegin} }
func commitOp() mockOperation   { return mockOperation{kind: stepCommit} }
func rollbackOp() mockOperation { return mockOperation{kind: stepRollback} }

type queueDriver struct {
	mu  sync.Mutex
	ops []mockOperation
	pos int
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()
	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("leadflow-script-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db, drv
}

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.ops) {
		t.Fatalf("script not finished: %d/%d steps consumed", d.pos, len(d.ops))
	}
}

// advance 取出下一步并校验类型与 SQL（忽略空白差异）。
func (d *queueDriver) advance(kind stepKind, query string, args []driver.NamedValue) (*mockOperation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s beyond script: %s", kind, query)
	}
	op := &d.ops[d.pos]
	d.pos++
	if op.kind != kind {
		return nil, fmt.Errorf("step %d: want %s, got %s", d.pos, op.kind, kind)
	}
	if op.query != "" && squash(op.query) != squash(query) {
		return nil, fmt.Errorf("step %d: sql mismatch\nwant %q\ngot  %q", d.pos, squash(op.query), squash(query))
	}
	op.args = make([]driver.Value, len(args))
	for i, a := range args {
		op.args[i] = a.Value
	}
	return op, op.err
}

func (d *queueDriver) Open(string) (driver.Conn, error) { return scriptConn{d}, nil }

type scriptConn struct{ d *queueDriver }

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (scriptConn) Close() error { return nil }

func (scriptConn) Ping(context.Context) error { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.advance(stepBegin, "", nil); err != nil {
		return nil, err
	}
	return scriptTx(c), nil
}

func (c scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.d.advance(stepExec, query, args)
	if err != nil {
		return nil, err
	}
	return op.result, nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.d.advance(stepQuery, query, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{data: op.rows}, nil
}

type scriptTx struct{ d *queueDriver }

func (t scriptTx) Commit() error {
	_, err := t.d.advance(stepCommit, "", nil)
	return err
}

func (t scriptTx) Rollback() error {
	_, err := t.d.advance(stepRollback, "", nil)
	return err
}

type scriptRows struct {
	data mockRowsData
	next int
}

func (r *scriptRows) Columns() []string { return r.data.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.next >= len(r.data.values) {
		return io.EOF
	}
	copy(dest, r.data.values[r.next])
	r.next++
	return nil
}

func squash(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
