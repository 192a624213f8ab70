// Package catalog provides read-only introspection over SQL Server's
// INFORMATION_SCHEMA and sys catalogs: tables, columns, keys, procedures,
// data preview, and object search. The catalog never routes through the
// query gate; it is read-only by construction and shares the executor's
// timeout budget.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sqlgate/internal/domain"
	"sqlgate/internal/engine"
)

const (
	// DefaultSchema is assumed when a tool call omits the schema.
	DefaultSchema = "dbo"
	// DefaultPreviewCap bounds preview row counts unless the policy raises it.
	DefaultPreviewCap = 100
	// DefaultSearchCap bounds object-search results unless the policy raises it.
	DefaultSearchCap = 200
)

// Service answers introspection requests against a live SQL Server handle.
type Service struct {
	db         *sql.DB
	timeout    time.Duration
	previewCap int
	searchCap  int
}

// New creates a catalog Service. Zero caps fall back to the defaults; a zero
// timeout falls back to the engine default.
func New(db *sql.DB, timeout time.Duration, previewCap, searchCap int) *Service {
	if timeout <= 0 {
		timeout = engine.DefaultQueryTimeout
	}
	if previewCap <= 0 {
		previewCap = DefaultPreviewCap
	}
	if searchCap <= 0 {
		searchCap = DefaultSearchCap
	}
	return &Service{db: db, timeout: timeout, previewCap: previewCap, searchCap: searchCap}
}

// Table identifies one base table.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Column describes one table column.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int64  `json:"max_length,omitempty"`
}

// ForeignKey describes one outbound foreign-key column reference.
type ForeignKey struct {
	Constraint       string `json:"constraint"`
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
}

// TableDetails is the full description of one table.
type TableDetails struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Procedure identifies one stored procedure.
type Procedure struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Parameter describes one procedure parameter.
type Parameter struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Mode     string `json:"mode"`
	Position int    `json:"position"`
}

// ProcedureDetails is the full description of one procedure.
type ProcedureDetails struct {
	Schema     string      `json:"schema"`
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// SearchResult is one object-name match.
type SearchResult struct {
	Type   string `json:"type"`
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// ListTables returns base tables, optionally restricted to one schema.
func (s *Service) ListTables(ctx context.Context, schema string) ([]Table, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'`
	var args []any
	if schema != "" {
		query += ` AND TABLE_SCHEMA = @schema`
		args = append(args, sql.Named("schema", schema))
	}
	query += ` ORDER BY TABLE_SCHEMA, TABLE_NAME`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DescribeTable returns columns, primary key, and foreign keys for one
// table. Returns NotFoundError when the table has no columns (does not
// exist).
func (s *Service) DescribeTable(ctx context.Context, schema, table string) (*TableDetails, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	details := &TableDetails{Schema: schema, Name: table}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, CHARACTER_MAXIMUM_LENGTH
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION`,
		sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			c        Column
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.Default, &c.MaxLength); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		details.Columns = append(details.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(details.Columns) == 0 {
		return nil, domain.ErrNotFound("table %s.%s not found", schema, table)
	}

	if details.PrimaryKey, err = s.primaryKey(ctx, schema, table); err != nil {
		return nil, err
	}
	if details.ForeignKeys, err = s.foreignKeys(ctx, schema, table); err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) primaryKey(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = @schema AND tc.TABLE_NAME = @table
		ORDER BY kcu.ORDINAL_POSITION`,
		sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *Service) foreignKeys(ctx context.Context, schema, table string) ([]ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fk.name, cp.name, OBJECT_SCHEMA_NAME(fkc.referenced_object_id) + '.' + OBJECT_NAME(fkc.referenced_object_id), cr.name
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.columns cp ON fkc.parent_object_id = cp.object_id AND fkc.parent_column_id = cp.column_id
		JOIN sys.columns cr ON fkc.referenced_object_id = cr.object_id AND fkc.referenced_column_id = cr.column_id
		WHERE fk.parent_object_id = OBJECT_ID(@qualified)`,
		sql.Named("qualified", schema+"."+table))
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Constraint, &fk.Column, &fk.ReferencesTable, &fk.ReferencesColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// PreviewData returns up to limit rows from one table, clamped to the
// preview cap. The table must exist; identifiers reach the statement only
// through the bracket quoter.
func (s *Service) PreviewData(ctx context.Context, schema, table string, limit int) (*domain.QueryResult, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	limit = ClampLimit(limit, s.previewCap)

	// Existence check keeps arbitrary identifiers out of the TOP query.
	if _, err := s.DescribeTable(ctx, schema, table); err != nil {
		return nil, err
	}

	quoted, err := engine.QuoteQualifiedName(schema + "." + table)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, quoted))
	if err != nil {
		return nil, fmt.Errorf("preview %s.%s: %w", schema, table, err)
	}
	defer rows.Close() //nolint:errcheck

	result, err := scanPreview(rows)
	if err != nil {
		return nil, err
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// SearchObjects finds tables, columns, and procedures whose names match the
// pattern. LIKE wildcards in user input are escaped; matching is substring,
// case-insensitive per the server collation.
func (s *Service) SearchObjects(ctx context.Context, pattern, objectType string) ([]SearchResult, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, domain.ErrValidation("search pattern is required")
	}
	switch objectType {
	case "", "table", "column", "procedure":
	default:
		return nil, domain.ErrValidation("unknown object type %q (want table, column, or procedure)", objectType)
	}

	like := "%" + EscapeLike(pattern) + "%"

	var unions []string
	var args []any
	if objectType == "" || objectType == "table" {
		unions = append(unions, `
			SELECT 'table' AS type, TABLE_SCHEMA, TABLE_NAME, '' AS parent
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_NAME LIKE @pattern ESCAPE '\'`)
	}
	if objectType == "" || objectType == "column" {
		unions = append(unions, `
			SELECT 'column' AS type, TABLE_SCHEMA, COLUMN_NAME, TABLE_NAME AS parent
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE COLUMN_NAME LIKE @pattern ESCAPE '\'`)
	}
	if objectType == "" || objectType == "procedure" {
		unions = append(unions, `
			SELECT 'procedure' AS type, ROUTINE_SCHEMA, ROUTINE_NAME, '' AS parent
			FROM INFORMATION_SCHEMA.ROUTINES
			WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_NAME LIKE @pattern ESCAPE '\'`)
	}
	args = append(args, sql.Named("pattern", like))

	query := fmt.Sprintf(
		"SELECT TOP (%d) type, s, n, parent FROM (%s) AS matches (type, s, n, parent) ORDER BY type, s, n",
		s.searchCap, strings.Join(unions, " UNION ALL "))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search objects: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Type, &r.Schema, &r.Name, &r.Parent); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListProcedures returns stored procedures, optionally restricted to one
// schema.
func (s *Service) ListProcedures(ctx context.Context, schema string) ([]Procedure, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ROUTINE_SCHEMA, ROUTINE_NAME
		FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_TYPE = 'PROCEDURE'`
	var args []any
	if schema != "" {
		query += ` AND ROUTINE_SCHEMA = @schema`
		args = append(args, sql.Named("schema", schema))
	}
	query += ` ORDER BY ROUTINE_SCHEMA, ROUTINE_NAME`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var procs []Procedure
	for rows.Next() {
		var p Procedure
		if err := rows.Scan(&p.Schema, &p.Name); err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// DescribeProcedure returns the parameter list of one procedure.
func (s *Service) DescribeProcedure(ctx context.Context, schema, name string) (*ProcedureDetails, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = @schema AND ROUTINE_NAME = @name`,
		sql.Named("schema", schema), sql.Named("name", name)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("describe procedure: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrNotFound("procedure %s.%s not found", schema, name)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT PARAMETER_NAME, DATA_TYPE, PARAMETER_MODE, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.PARAMETERS
		WHERE SPECIFIC_SCHEMA = @schema AND SPECIFIC_NAME = @name
			AND PARAMETER_NAME IS NOT NULL AND PARAMETER_NAME <> ''
		ORDER BY ORDINAL_POSITION`,
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return nil, fmt.Errorf("describe parameters: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	details := &ProcedureDetails{Schema: schema, Name: name}
	for rows.Next() {
		var p Parameter
		if err := rows.Scan(&p.Name, &p.DataType, &p.Mode, &p.Position); err != nil {
			return nil, err
		}
		details.Parameters = append(details.Parameters, p)
	}
	return details, rows.Err()
}

// ClampLimit bounds a requested row limit to [1, cap]; zero or negative
// requests get the cap.
func ClampLimit(limit, cap int) int {
	if limit <= 0 || limit > cap {
		return cap
	}
	return limit
}

// EscapeLike escapes LIKE wildcards and the escape character itself in a
// user-supplied pattern.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `[`, `\[`)
	return r.Replace(s)
}

// scanPreview shapes preview rows like the executor does.
func scanPreview(rows *sql.Rows) (*domain.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &domain.QueryResult{Columns: cols, Rows: out, RowCount: len(out)}, nil
}
