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
	"reflect"
	"strings"

	"golang.org/x/xerrors"
)

// Row is a fetched record. Values are addressable both by position and by
// column name.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a row out of matching column names and values.
func NewRow(columns []string, values []any) Row {
	return Row{columns: columns, values: values}
}

// Columns returns the column names in the order the server reported them.
func (r Row) Columns() []string { return r.columns }

// Values returns the values in column order.
func (r Row) Values() []any { return r.values }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	for i, c := range r.columns {
		if strings.EqualFold(c, column) {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a column to value mapping.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

// Scan copies the row into dest. dest must be a pointer to a struct, whose
// fields are matched by db tag or case-insensitive field name, a pointer to a
// map[string]any, or a pointer to a Row. Columns without a matching field are
// ignored.
func (r Row) Scan(dest any) error {
	switch d := dest.(type) {
	case *Row:
		*d = r
		return nil
	case *map[string]any:
		*d = r.Map()
		return nil
	}
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return xerrors.Errorf("cannot scan into %T: not a pointer", dest)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return xerrors.Errorf("cannot scan into %T: not a struct", dest)
	}
	idx := indexOf(rv.Type())
	for i, c := range r.columns {
		f, ok := idx.lookup(c)
		if !ok {
			continue
		}
		if err := assign(fieldByIndex(rv, f.index), r.values[i]); err != nil {
			return xerrors.Errorf("cannot scan column %q: %w", c, err)
		}
	}
	return nil
}

// scalar returns the only value of the row.
func (r Row) scalar(query string, args []any) (any, error) {
	if len(r.values) != 1 {
		return nil, &ShapeViolationError{
			error: xerrors.Errorf("expected exactly one column, got %d", len(r.values)),
			SQL:   query,
			Args:  args,
		}
	}
	return r.values[0], nil
}

// As converts a row into T. T may be a struct (or pointer to struct), a
// map[string]any or a Row.
func As[T any](r Row) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Struct {
		rv.Set(reflect.New(rv.Type().Elem()))
		return out, r.Scan(rv.Interface())
	}
	return out, r.Scan(&out)
}

// ScalarAs converts a scalar value read from the database into T.
func ScalarAs[T any](v any) (T, error) {
	var out T
	if err := assign(reflect.ValueOf(&out).Elem(), v); err != nil {
		return out, err
	}
	return out, nil
}
