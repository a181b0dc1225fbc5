// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package testserver

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/zteradb/zteradb-go/filter"
	"github.com/zteradb/zteradb-go/internal/wire"
	"github.com/zteradb/zteradb-go/query"
)

// OpenSQLite returns an in-memory database after running createTables and
// inserts.
func OpenSQLite(createTables string, inserts []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a new database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, err
	}
	for _, insert := range inserts {
		if _, err := db.Exec(insert); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// ProductDB returns a database holding a product table.
func ProductDB() (*sql.DB, error) {
	createTables := `
CREATE TABLE product (
	id integer PRIMARY KEY,
	name text NOT NULL,
	quantity integer,
	price real,
	status text
);
`
	inserts := []string{
		"INSERT INTO product VALUES (1, 'Phone', 5, 499.0, 'A');",
		"INSERT INTO product VALUES (2, 'Phone case', 40, 15.5, 'A');",
		"INSERT INTO product VALUES (3, 'Charger', 2, 25.0, 'B');",
		"INSERT INTO product VALUES (4, 'Headphones', 12, 120.0, 'A');",
		"INSERT INTO product VALUES (5, 'Cable', 0, 9.99, 'C');",
	}
	return OpenSQLite(createTables, inserts)
}

// SQLite answers queries by running them against a SQLite database.
// Related and nested queries are not supported.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a Handler backed by db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (h *SQLite) Serve(req *Request, w *ResponseWriter) error {
	q := req.Query
	if len(q.Related()) > 0 {
		return w.Error(wire.FieldError, "related queries are not supported")
	}
	stmt, err := translate(q)
	if err != nil {
		return w.Error(wire.ParseQueryError, err.Error())
	}

	if q.Operation() == query.Select {
		return h.stream(q, stmt, w)
	}
	if q.Operation() == query.Count {
		var n int64
		if err := h.db.QueryRow(stmt.sql, stmt.args...).Scan(&n); err != nil {
			return w.Error(errorCode(err), err.Error())
		}
		return w.OK(map[string]any{"count": n})
	}

	res, err := h.db.Exec(stmt.sql, stmt.args...)
	if err != nil {
		return w.Error(errorCode(err), err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return w.Error(wire.QueryError, err.Error())
	}
	switch q.Operation() {
	case query.Insert:
		id, err := res.LastInsertId()
		if err != nil {
			return w.Error(wire.QueryError, err.Error())
		}
		return w.OK(map[string]any{"last_insert_id": id, "rows_affected": n})
	case query.Update:
		return w.OK(map[string]any{"is_updated": n > 0, "rows_affected": n})
	default:
		return w.OK(map[string]any{"is_deleted": n > 0, "rows_affected": n})
	}
}

func (h *SQLite) stream(q *query.Query, stmt *statement, w *ResponseWriter) error {
	rows, err := h.db.Query(stmt.sql, stmt.args...)
	if err != nil {
		return w.Error(errorCode(err), err.Error())
	}
	defer rows.Close()

	excluded := make(map[string]bool)
	for _, f := range q.Fields() {
		if !f.Spec.Projected() {
			excluded[f.Name] = true
		}
	}
	cols, err := rows.Columns()
	if err != nil {
		return w.Error(wire.QueryError, err.Error())
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return w.Error(wire.QueryError, err.Error())
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			if excluded[col] {
				continue
			}
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			record[col] = values[i]
		}
		if err := w.Record(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return w.Error(wire.QueryError, err.Error())
	}
	return w.Done()
}

func errorCode(err error) wire.ResponseCode {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return wire.FieldError
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return wire.InvalidSchema
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "has no column"):
		return wire.FieldError
	}
	return wire.QueryError
}

type statement struct {
	sql  string
	args []any
}

type sqlWriter struct {
	sb   strings.Builder
	args []any
}

func (s *sqlWriter) write(parts ...string) {
	for _, p := range parts {
		s.sb.WriteString(p)
	}
}

func (s *sqlWriter) arg(v any) {
	s.sb.WriteString("?")
	s.args = append(s.args, v)
}

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ident(name string) (string, error) {
	if !identRegexp.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	// Brackets, since SQLite reads an unknown double quoted name as a string.
	return "[" + name + "]", nil
}

func translate(q *query.Query) (*statement, error) {
	w := &sqlWriter{}
	table, err := ident(q.Schema())
	if err != nil {
		return nil, err
	}

	switch q.Operation() {
	case query.Select:
		var cols []string
		for _, f := range q.Fields() {
			if !f.Spec.Projected() {
				continue
			}
			col, err := ident(f.Name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		if len(cols) == 0 {
			cols = []string{"*"}
		}
		w.write("SELECT ", strings.Join(cols, ", "), " FROM ", table)
	case query.Count:
		w.write("SELECT COUNT(*) FROM ", table)
	case query.Insert:
		var cols, marks []string
		for _, f := range q.Fields() {
			col, err := ident(f.Name)
			if err != nil {
				return nil, err
			}
			if f.Spec.Kind() != query.SpecLiteral {
				return nil, fmt.Errorf("field %q: nested queries are not supported", f.Name)
			}
			cols = append(cols, col)
			marks = append(marks, "?")
			w.args = append(w.args, sqlValue(f.Spec.Value()))
		}
		w.write("INSERT INTO ", table, " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(marks, ", "), ")")
		return &statement{sql: w.sb.String(), args: w.args}, nil
	case query.Update:
		w.write("UPDATE ", table, " SET ")
		for i, f := range q.Fields() {
			col, err := ident(f.Name)
			if err != nil {
				return nil, err
			}
			if f.Spec.Kind() != query.SpecLiteral {
				return nil, fmt.Errorf("field %q: nested queries are not supported", f.Name)
			}
			if i > 0 {
				w.write(", ")
			}
			w.write(col, " = ")
			w.arg(sqlValue(f.Spec.Value()))
		}
	case query.Delete:
		w.write("DELETE FROM ", table)
	}

	for i, f := range q.Filters() {
		if i == 0 {
			w.write(" WHERE ")
		} else {
			w.write(" AND ")
		}
		if err := w.expr(f); err != nil {
			return nil, err
		}
	}
	if q.Operation() != query.Select {
		return &statement{sql: w.sb.String(), args: w.args}, nil
	}

	for i, key := range q.Sort() {
		col, err := ident(key.Field)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			w.write(" ORDER BY ")
		} else {
			w.write(", ")
		}
		dir := "ASC"
		if key.Order == query.Desc {
			dir = "DESC"
		}
		w.write(col, " ", dir)
	}
	if l, ok := q.Limit(); ok {
		w.write(" LIMIT ")
		w.arg(l.End - l.Start)
		w.write(" OFFSET ")
		w.arg(l.Start)
	}
	return &statement{sql: w.sb.String(), args: w.args}, nil
}

func sqlValue(v filter.Value) any {
	if v.Kind() == filter.DateTimeValue {
		return v.AsTime().Format(time.RFC3339Nano)
	}
	return v.Interface()
}

var binaryOps = map[filter.Kind]string{
	filter.KindAdd: " + ",
	filter.KindSub: " - ",
	filter.KindMul: " * ",
	filter.KindDiv: " / ",
	filter.KindMod: " % ",
	filter.KindGt:  " > ",
	filter.KindGte: " >= ",
	filter.KindLt:  " < ",
	filter.KindLte: " <= ",
	filter.KindAnd: " AND ",
	filter.KindOr:  " OR ",
}

func (s *sqlWriter) expr(e filter.Expr) error {
	switch e := e.(type) {
	case *filter.Field:
		col, err := ident(e.Name())
		if err != nil {
			return err
		}
		s.write(col)
	case *filter.Literal:
		if e.Value().IsNull() {
			s.write("NULL")
			return nil
		}
		s.arg(sqlValue(e.Value()))
	case *filter.Op:
		return s.op(e)
	case *filter.Membership:
		col, err := ident(e.Field())
		if err != nil {
			return err
		}
		s.write("(", col, " IN (")
		for i, v := range e.Values() {
			if i > 0 {
				s.write(", ")
			}
			s.arg(sqlValue(v))
		}
		s.write("))")
	case *filter.Match:
		return s.match(e)
	default:
		return fmt.Errorf("unsupported expression %s", e)
	}
	return nil
}

func (s *sqlWriter) op(e *filter.Op) error {
	args := e.Args()
	if e.Kind() == filter.KindEqual {
		s.write("(")
		if err := s.expr(args[0]); err != nil {
			return err
		}
		if lit, ok := args[1].(*filter.Literal); ok && lit.Value().IsNull() {
			s.write(" IS NULL)")
			return nil
		}
		s.write(" = ")
		if err := s.expr(args[1]); err != nil {
			return err
		}
		s.write(")")
		return nil
	}

	sep, ok := binaryOps[e.Kind()]
	if !ok {
		return fmt.Errorf("unsupported operator %s", e.Kind())
	}
	s.write("(")
	if e.Kind().IsComparison() {
		// a > b > c is (a > b AND b > c).
		for i := 0; i+1 < len(args); i++ {
			if i > 0 {
				s.write(" AND ")
			}
			if err := s.expr(args[i]); err != nil {
				return err
			}
			s.write(sep)
			if err := s.expr(args[i+1]); err != nil {
				return err
			}
		}
	} else {
		for i, a := range args {
			if i > 0 {
				s.write(sep)
			}
			if err := s.expr(a); err != nil {
				return err
			}
		}
	}
	s.write(")")
	return nil
}

func (s *sqlWriter) match(m *filter.Match) error {
	col, err := ident(m.Field())
	if err != nil {
		return err
	}
	pattern := m.Pattern()
	if !m.CaseSensitive() {
		col = "lower(" + col + ")"
		pattern = strings.ToLower(pattern)
	}
	switch m.Base() {
	case filter.KindContains:
		s.write("(instr(", col, ", ")
		s.arg(pattern)
		s.write(") > 0)")
	case filter.KindStartsWith:
		s.write("(substr(", col, ", 1, ", fmt.Sprint(len(pattern)), ") = ")
		s.arg(pattern)
		s.write(")")
	case filter.KindEndsWith:
		s.write("(substr(", col, ", -", fmt.Sprint(len(pattern)), ") = ")
		s.arg(pattern)
		s.write(")")
	}
	return nil
}
