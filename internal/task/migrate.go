package task

import (
	"cmp"
	"context"
	"database/sql"
	"io/fs"
	"path"
	"slices"
	"strings"

	"LeadFlow/deploy/migrations"
	xerrors "LeadFlow/internal/errors"
)

var embeddedMigrations fs.FS = migrations.Files

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
	selectMigrationsSQL = `SELECT version FROM schema_migrations`
	recordMigrationSQL  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// migrationFile 是一个 NNNN_description.sql 文件，statements 按分号切分。
type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 按版本号顺序执行尚未记录在 schema_migrations 中的文件，每个文件一个事务。
func (s *MySQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 schema_migrations 失败")
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		return err
	}

	for _, m := range files {
		if applied[m.version] {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, recordMigrationSQL, m.version, s.now().Unix())
			return err
		})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败", xerrors.WithMetadata("migration", m.name))
		}
	}
	return nil
}

func (s *MySQLStore) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, selectMigrationsSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 schema_migrations 失败")
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

// loadMigrationFiles 读取 fsys 根目录下的 .sql 文件，跳过没有语句的文件。
func loadMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "列出迁移文件失败")
	}

	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取迁移文件失败", xerrors.WithMetadata("migration", name))
		}
		if stmts := splitSQLStatements(string(content)); len(stmts) > 0 {
			files = append(files, migrationFile{version: migrationVersion(name), name: name, statements: stmts})
		}
	}
	slices.SortFunc(files, func(a, b migrationFile) int {
		return cmp.Or(strings.Compare(a.version, b.version), strings.Compare(a.name, b.name))
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// migrationVersion 取文件名第一个下划线之前的部分，没有下划线时取去掉扩展名的文件名。
func migrationVersion(name string) string {
	if version, _, ok := strings.Cut(name, "_"); ok && version != "" {
		return version
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
