/*
Copyright 2024 github.com/ucirello

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pgdb

import (
	"context"
	"reflect"
	"slices"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// InsertShape is the kind of result an insert statement produces.
type InsertShape int

// Insert result shapes.
const (
	// ShapeCount is the number of inserted rows.
	ShapeCount InsertShape = iota
	// ShapeScalar is the single returned key of a single-row insert.
	ShapeScalar
	// ShapeScalars is the list of returned keys of a multi-row insert.
	ShapeScalars
	// ShapeRecord is the returned row of a single-row insert.
	ShapeRecord
	// ShapeRecords is the list of returned rows of a multi-row insert.
	ShapeRecords
)

func (s InsertShape) String() string {
	switch s {
	case ShapeCount:
		return "count"
	case ShapeScalar:
		return "scalar"
	case ShapeScalars:
		return "scalars"
	case ShapeRecord:
		return "record"
	case ShapeRecords:
		return "records"
	}
	return "unknown"
}

type keywordValue struct {
	column string
	value  any
}

// InsertStatement builds an INSERT statement. It has two modes: single-row,
// where every column comes from Value, and multi-row, where Objects supplies
// one row per object and Value supplies columns shared by (or computed for)
// every object.
type InsertStatement struct {
	table          string
	keywords       []keywordValue
	objects        []any
	multi          bool
	shouldInsert   func(any) bool
	include        []string
	includeSet     bool
	exclude        []string
	conflictTarget string
	conflictAction string
	returning      []string
	returningID    bool
	err            error
}

// InsertInto starts an insert statement into table.
func InsertInto(table string) *InsertStatement {
	return &InsertStatement{table: table}
}

// Value sets the value of column. v may be a ValueProvider, a function
// (wrapped with Func) or a constant. In single-row mode functions are not
// called; ValueProviders are resolved against a nil object.
func (s *InsertStatement) Value(column string, v any) *InsertStatement {
	for i, kw := range s.keywords {
		if kw.column == column {
			s.keywords[i].value = v
			return s
		}
	}
	s.keywords = append(s.keywords, keywordValue{column: column, value: v})
	return s
}

// Objects switches the statement to multi-row mode. objs must be a slice or
// an array. Maps with string keys and structs contribute columns by key
// (struct fields are named by their db tag); other objects are read by
// position.
func (s *InsertStatement) Objects(objs any) *InsertStatement {
	rv := reflect.ValueOf(objs)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		s.err = xerrors.Errorf("objects must be a slice or an array, got %T", objs)
		return s
	}
	s.multi = true
	s.objects = make([]any, rv.Len())
	for i := range s.objects {
		s.objects[i] = rv.Index(i).Interface()
	}
	return s
}

// ShouldInsert filters the objects: those for which fn returns false are
// skipped.
func (s *InsertStatement) ShouldInsert(fn func(obj any) bool) *InsertStatement {
	s.shouldInsert = fn
	return s
}

// Include restricts the columns taken from the objects to cols. Calling it
// without arguments takes no column from the objects. Without Include, every
// key of the first object is used.
func (s *InsertStatement) Include(cols ...string) *InsertStatement {
	s.includeSet = true
	s.include = append([]string{}, cols...)
	return s
}

// Exclude drops cols from the statement, including columns set with Value.
func (s *InsertStatement) Exclude(cols ...string) *InsertStatement {
	s.exclude = append(s.exclude, cols...)
	return s
}

// OnConflict adds an ON CONFLICT clause. The inserted table is aliased as C so
// that action can refer to the current row.
func (s *InsertStatement) OnConflict(target, action string) *InsertStatement {
	s.conflictTarget, s.conflictAction = target, action
	return s
}

// ReturningID makes the statement return the given key columns, "id" by
// default.
func (s *InsertStatement) ReturningID(keys ...string) *InsertStatement {
	if len(keys) == 0 {
		keys = []string{"id"}
	}
	s.returning, s.returningID = keys, true
	return s
}

// ReturningRecord makes the statement return the given columns of the
// inserted rows, all of them by default.
func (s *InsertStatement) ReturningRecord(cols ...string) *InsertStatement {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	s.returning, s.returningID = cols, false
	return s
}

// Shape reports the kind of result the statement produces.
func (s *InsertStatement) Shape() InsertShape {
	switch {
	case len(s.returning) == 0:
		return ShapeCount
	case s.returningID && len(s.returning) == 1 && s.multi:
		return ShapeScalars
	case s.returningID && len(s.returning) == 1:
		return ShapeScalar
	case s.multi:
		return ShapeRecords
	}
	return ShapeRecord
}

// Build renders the statement. query is empty when every object was filtered
// out by ShouldInsert, in which case nothing must be run.
func (s *InsertStatement) Build() (query string, args []any, err error) {
	if s.err != nil {
		return "", nil, s.err
	}
	var keywords []keywordValue
	for _, kw := range s.keywords {
		if !slices.Contains(s.exclude, kw.column) {
			keywords = append(keywords, kw)
		}
	}
	objects := s.objects
	if !s.multi {
		if len(keywords) == 0 {
			return "", nil, ErrNothingToInsert
		}
	} else {
		if s.shouldInsert != nil {
			objects = slices.DeleteFunc(slices.Clone(objects), func(o any) bool { return !s.shouldInsert(o) })
		}
		if len(objects) == 0 {
			return "", nil, nil
		}
	}

	columns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		columns = append(columns, kw.column)
	}
	addColumn := func(col string) {
		if !slices.Contains(s.exclude, col) && !slices.Contains(columns, col) {
			columns = append(columns, col)
		}
	}
	positional := 0
	if s.multi {
		switch {
		case s.includeSet:
			for _, col := range s.include {
				addColumn(col)
			}
		default:
			keys, dictLike := objectKeys(objects[0])
			switch {
			case dictLike:
				for _, col := range keys {
					addColumn(col)
				}
			case len(columns) == 0:
				n, err := objectLen(objects[0])
				if err != nil {
					return "", nil, err
				}
				positional = n
			}
		}
		if len(columns) == 0 && positional == 0 {
			return "", nil, ErrNothingToInsert
		}
	}

	var stmt statement
	stmt.write("INSERT INTO ", s.table)
	if s.conflictTarget != "" || s.conflictAction != "" {
		stmt.write(" AS C")
	}
	if positional == 0 {
		stmt.write(" (", strings.Join(columns, ", "), ")")
	}
	stmt.write(" VALUES ")
	if !s.multi {
		stmt.write("(")
		for i, kw := range keywords {
			if i > 0 {
				stmt.write(", ")
			}
			v := kw.value
			if p, ok := v.(ValueProvider); ok {
				if v, err = p.Value(nil); err != nil {
					return "", nil, xerrors.Errorf("cannot resolve column %s: %w", kw.column, err)
				}
			}
			stmt.bind(v)
		}
		stmt.write(")")
	} else {
		providers := s.providers(keywords, columns, positional)
		for i, o := range objects {
			if i > 0 {
				stmt.write(", ")
			}
			stmt.write("(")
			for j, p := range providers {
				if j > 0 {
					stmt.write(", ")
				}
				v, err := p.Value(o)
				if err != nil {
					return "", nil, xerrors.Errorf("cannot resolve value %d of row %d: %w", j, i, err)
				}
				stmt.bind(v)
			}
			stmt.write(")")
		}
	}
	if s.conflictTarget != "" || s.conflictAction != "" {
		stmt.write(" ON CONFLICT ", s.conflictTarget, " ", s.conflictAction)
	}
	if len(s.returning) > 0 {
		stmt.write(" RETURNING ", strings.Join(s.returning, ", "))
	}
	return stmt.String(), stmt.args, nil
}

// providers resolves one provider per column, once for the whole batch:
// keyword values first, then a lookup on each object.
func (s *InsertStatement) providers(keywords []keywordValue, columns []string, positional int) []ValueProvider {
	if positional > 0 {
		providers := make([]ValueProvider, positional)
		for i := range providers {
			providers[i] = Lookup(i)
		}
		return providers
	}
	providers := make([]ValueProvider, len(columns))
	for i, col := range columns {
		providers[i] = Lookup(col)
		for _, kw := range keywords {
			if kw.column == col {
				providers[i] = asProvider(kw.value)
				break
			}
		}
	}
	return providers
}

// objectKeys returns the column names of a dict-like object: the sorted keys
// of a string-keyed map or the fields of a struct, skipping omitempty fields
// holding their zero value.
func objectKeys(obj any) ([]string, bool) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return keys, true
	case reflect.Struct:
		idx := indexOf(rv.Type())
		keys := make([]string, 0, len(idx.fields))
		for _, f := range idx.fields {
			if f.omitEmpty && rv.FieldByIndex(f.index).IsZero() {
				continue
			}
			keys = append(keys, f.name)
		}
		return keys, true
	}
	return nil, false
}

func objectLen(obj any) (int, error) {
	rv := reflect.Indirect(reflect.ValueOf(obj))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), nil
	}
	return 0, xerrors.Errorf("cannot take positional values out of %T", obj)
}

// Insert runs the statement and returns the number of inserted rows. Returned
// columns, if any, are discarded.
func (c *Client) Insert(ctx context.Context, s *InsertStatement) (int64, error) {
	q, args, err := s.Build()
	if err != nil || q == "" {
		return 0, err
	}
	return c.exec(ctx, q, args)
}

// InsertAny runs the statement and returns the result matching its Shape:
// int64 for ShapeCount, any for ShapeScalar, []any for ShapeScalars, Row for
// ShapeRecord and []Row for ShapeRecords. Single-row shapes return nil when no
// row was returned, as with ON CONFLICT DO NOTHING.
func (c *Client) InsertAny(ctx context.Context, s *InsertStatement) (any, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	shape := s.Shape()
	if q == "" {
		switch shape {
		case ShapeScalars:
			return []any{}, nil
		case ShapeRecords:
			return []Row{}, nil
		}
		return int64(0), nil
	}
	if shape == ShapeCount {
		return c.exec(ctx, q, args)
	}
	cols, rows, err := c.fetch(ctx, q, args)
	if err != nil {
		return nil, err
	}
	switch shape {
	case ShapeScalar, ShapeScalars:
		if err := requireOneColumn(cols, q, args); err != nil {
			return nil, err
		}
		scalars := make([]any, len(rows))
		for i, r := range rows {
			scalars[i] = r.values[0]
		}
		if shape == ShapeScalars {
			return scalars, nil
		}
		if len(scalars) == 0 {
			return nil, nil
		}
		return scalars[0], nil
	case ShapeRecord:
		row, found, err := c.first(rows, q, args)
		if err != nil || !found {
			return nil, err
		}
		return row, nil
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func (c *Client) insertRows(ctx context.Context, s *InsertStatement, want ...InsertShape) ([]string, []Row, string, []any, error) {
	if shape := s.Shape(); !slices.Contains(want, shape) {
		return nil, nil, "", nil, &ContractViolationError{xerrors.Errorf("insert statement has shape %s, want %v", shape, want)}
	}
	q, args, err := s.Build()
	if err != nil || q == "" {
		return nil, nil, q, args, err
	}
	cols, rows, err := c.fetch(ctx, q, args)
	return cols, rows, q, args, err
}

// InsertID runs a single-row statement built with one ReturningID key and
// returns that key converted into T. found is false when no row was
// inserted.
func InsertID[T any](ctx context.Context, c *Client, s *InsertStatement) (id T, found bool, err error) {
	cols, rows, q, args, err := c.insertRows(ctx, s, ShapeScalar)
	if err != nil || len(rows) == 0 {
		return id, false, err
	}
	if err := requireOneColumn(cols, q, args); err != nil {
		return id, false, err
	}
	row, _, _ := c.first(rows, q, args)
	id, err = ScalarAs[T](row.values[0])
	return id, err == nil, err
}

// InsertIDs runs a multi-row statement built with one ReturningID key and
// returns the keys converted into T.
func InsertIDs[T any](ctx context.Context, c *Client, s *InsertStatement) ([]T, error) {
	cols, rows, q, args, err := c.insertRows(ctx, s, ShapeScalars)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return []T{}, nil
	}
	if err := requireOneColumn(cols, q, args); err != nil {
		return nil, err
	}
	ids := make([]T, len(rows))
	for i, r := range rows {
		if ids[i], err = ScalarAs[T](r.values[0]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// InsertRecord runs a single-row statement built with ReturningRecord, or
// ReturningID with several keys, and converts the returned row into T.
func InsertRecord[T any](ctx context.Context, c *Client, s *InsertStatement) (rec T, found bool, err error) {
	_, rows, q, args, err := c.insertRows(ctx, s, ShapeRecord)
	if err != nil || len(rows) == 0 {
		return rec, false, err
	}
	row, _, _ := c.first(rows, q, args)
	rec, err = As[T](row)
	return rec, err == nil, err
}

// InsertRecords runs a multi-row statement built with ReturningRecord, or
// ReturningID with several keys, and converts the returned rows into T.
func InsertRecords[T any](ctx context.Context, c *Client, s *InsertStatement) ([]T, error) {
	_, rows, _, _, err := c.insertRows(ctx, s, ShapeRecords)
	if err != nil {
		return nil, err
	}
	recs := make([]T, len(rows))
	for i, r := range rows {
		if recs[i], err = As[T](r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
