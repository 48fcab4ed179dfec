package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 记录运行任务。任务写入 run_tasks，线索按顺序逐行写入 run_leads。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

const (
	taskColumns = `id, instructions, status, attempts, max_retries, last_error, error_code,
        has_result, result_steps, result_aborted, result_transcript, started_at, finished_at, created_at, updated_at`

	leadColumns = `full_name, designation, employee_count, email, linkedin_url, mobile_number,
        company_name, company_website, company_details, company_type, email_subject, email_body,
        website_inaccessible, security_error`

	insertTaskSQL = `INSERT INTO run_tasks
        (id, instructions, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`

	selectTaskSQL = `SELECT ` + taskColumns + ` FROM run_tasks WHERE id = ?`

	selectLeadsSQL = `SELECT ` + leadColumns + ` FROM run_leads WHERE task_id = ? ORDER BY position`

	claimTaskSQL = `UPDATE run_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	finishTaskSQL = `UPDATE run_tasks SET status = ?, last_error = ?, error_code = ?, has_result = 1, result_steps = ?,
        result_aborted = ?, result_transcript = ?, started_at = ?, finished_at = ?, updated_at = ? WHERE id = ?`

	deleteLeadsSQL = `DELETE FROM run_leads WHERE task_id = ?`

	insertLeadSQL = `INSERT INTO run_leads (task_id, position, ` + leadColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	failTaskSQL = `UPDATE run_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	interruptTasksSQL = `UPDATE run_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE status = ?`

	selectRetryableSQL = `SELECT id FROM run_tasks WHERE status = ? AND attempts < max_retries
        ORDER BY updated_at ASC, id ASC`

	failTaskTerminalSQL = `UPDATE run_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        max_retries = LEAST(max_retries, attempts) WHERE id = ?`
)

// NewMySQLStore 连接数据库并执行迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &MySQLStore{db: db, now: time.Now}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, run *Task) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行不能为空")
	}
	if strings.TrimSpace(run.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, insertTaskSQL,
		run.ID,
		run.Instructions,
		string(run.Status),
		run.Attempts,
		run.MaxRetries,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务，包含线索明细。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	run, err := scanTask(s.db.QueryRowContext(ctx, selectTaskSQL, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	if err := s.loadLeads(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	res, err := s.db.ExecContext(ctx, claimTaskSQL,
		string(StatusRunning),
		s.now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}

	run, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return run, nil
	}
	switch run.Status {
	case StatusSucceeded, StatusAborted:
		return run, ErrTaskCompleted
	case StatusRunning:
		return run, ErrTaskConflict
	default:
		if run.Attempts >= run.MaxRetries {
			return run, ErrTaskExhausted
		}
		return run, ErrTaskConflict
	}
}

// MarkSucceeded 将任务标记为成功并写入线索。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result RunSummary) error {
	return s.finish(ctx, id, StatusSucceeded, "", "", result)
}

// MarkAborted 将任务标记为中止并写入部分线索。
func (s *MySQLStore) MarkAborted(ctx context.Context, id string, code xerrors.Code, lastError string, result RunSummary) error {
	return s.finish(ctx, id, StatusAborted, code, lastError, result)
}

func (s *MySQLStore) finish(ctx context.Context, id string, status Status, code xerrors.Code, lastError string, result RunSummary) error {
	transcript, err := marshalTranscript(result.Transcript)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码对话记录失败")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, finishTaskSQL,
			string(status), lastError, string(code),
			result.Steps, result.Aborted, transcript, result.StartedAt, result.FinishedAt,
			s.now().Unix(), id,
		)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务结果失败")
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrTaskNotFound
		}
		if _, err := tx.ExecContext(ctx, deleteLeadsSQL, id); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理旧线索失败")
		}
		for i, lead := range result.Leads {
			if _, err := tx.ExecContext(ctx, insertLeadSQL, leadArgs(id, i, lead)...); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入第 %d 条线索失败", i+1))
			}
		}
		return nil
	})
}

// inTx 在事务中执行 fn：fn 返回错误时回滚并原样返回该错误，否则提交。
func (s *MySQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// MarkFailed 将任务标记为失败，terminal 为 true 时不再允许重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := failTaskSQL
	if terminal {
		stmt = failTaskTerminalSQL
	}
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		lastError,
		string(code),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// RecoverInterrupted 实现 Store 接口，两步在同一事务内完成。
func (s *MySQLStore) RecoverInterrupted(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, interruptTasksSQL,
			string(StatusFailed),
			interruptedMessage,
			string(xerrors.CodeCancelled),
			s.now().Unix(),
			string(StatusRunning),
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回收中断任务失败")
		}

		rows, err := tx.QueryContext(ctx, selectRetryableSQL, string(StatusFailed))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询可重试任务失败")
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务 ID 失败")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历可重试任务失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	filter = filter.normalized()

	query := `SELECT ` + taskColumns + ` FROM run_tasks`
	clause, args := filter.where()
	if clause != "" {
		query += " WHERE " + clause
	}
	if filter.Oldest {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	runs := make([]*Task, 0, filter.Limit)
	for rows.Next() {
		run, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	rows.Close()

	for _, run := range runs {
		if err := s.loadLeads(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, filter Filter) (Stats, error) {
	filter = filter.normalized()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS aborted,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM run_tasks`

	clause, filterArgs := filter.where()
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending), string(StatusRunning), string(StatusSucceeded),
		string(StatusFailed), string(StatusAborted),
	}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Aborted,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		run        Task
		status     string
		hasResult  bool
		summary    RunSummary
		transcript sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.Instructions,
		&status,
		&run.Attempts,
		&run.MaxRetries,
		&run.LastError,
		&run.ErrorCode,
		&hasResult,
		&summary.Steps,
		&summary.Aborted,
		&transcript,
		&summary.StartedAt,
		&summary.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if hasResult {
		msgs, err := unmarshalTranscript(transcript)
		if err != nil {
			return nil, err
		}
		summary.Transcript = msgs
		summary.Leads = []state.Lead{}
		run.Result = &summary
	}
	return &run, nil
}

func (s *MySQLStore) loadLeads(ctx context.Context, run *Task) error {
	if run.Result == nil {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, selectLeadsSQL, run.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询线索失败")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lead    state.Lead
			details sql.NullString
			body    sql.NullString
		)
		if err := rows.Scan(
			&lead.FullName,
			&lead.Designation,
			&lead.EmployeeCount,
			&lead.Email,
			&lead.LinkedInURL,
			&lead.MobileNumber,
			&lead.CompanyName,
			&lead.CompanyWebsite,
			&details,
			&lead.CompanyType,
			&lead.EmailSubject,
			&body,
			&lead.WebsiteInaccessible,
			&lead.SecurityError,
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析线索失败")
		}
		lead.CompanyDetails = details.String
		lead.EmailBody = body.String
		run.Result.Leads = append(run.Result.Leads, lead)
	}
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历线索失败")
	}
	return nil
}

func leadArgs(taskID string, position int, lead state.Lead) []any {
	return []any{
		taskID,
		position,
		lead.FullName,
		lead.Designation,
		lead.EmployeeCount,
		lead.Email,
		lead.LinkedInURL,
		lead.MobileNumber,
		lead.CompanyName,
		lead.CompanyWebsite,
		lead.CompanyDetails,
		lead.CompanyType,
		lead.EmailSubject,
		lead.EmailBody,
		lead.WebsiteInaccessible,
		lead.SecurityError,
	}
}

func marshalTranscript(msgs []state.Message) (sql.NullString, error) {
	if len(msgs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalTranscript(raw sql.NullString) ([]state.Message, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var msgs []state.Message
	if err := json.Unmarshal([]byte(raw.String), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

var _ Store = (*MySQLStore)(nil)
