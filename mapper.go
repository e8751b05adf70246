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
	"database/sql"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// structField describes one column-bearing field of a struct.
type structField struct {
	name      string
	index     []int
	omitEmpty bool
}

type structIndex struct {
	fields []structField
	byName map[string]int
}

var structIndexCache sync.Map // reflect.Type -> *structIndex

// indexOf maps the exported fields of t to column names. The column name is
// the first element of the db tag, or the field name when untagged; "-" skips
// the field. Embedded structs without a tag are flattened.
func indexOf(t reflect.Type) *structIndex {
	if v, ok := structIndexCache.Load(t); ok {
		return v.(*structIndex)
	}
	idx := &structIndex{byName: make(map[string]int)}
	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			path := append(append([]int(nil), base...), i)
			if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, path)
				continue
			}
			if sf.PkgPath != "" {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			key := strings.ToLower(name)
			if _, dup := idx.byName[key]; dup {
				continue
			}
			idx.byName[key] = len(idx.fields)
			idx.fields = append(idx.fields, structField{
				name:      name,
				index:     path,
				omitEmpty: opts == "omitempty",
			})
		}
	}
	walk(t, nil)
	v, _ := structIndexCache.LoadOrStore(t, idx)
	return v.(*structIndex)
}

func (idx *structIndex) lookup(name string) (structField, bool) {
	i, ok := idx.byName[strings.ToLower(name)]
	if !ok {
		return structField{}, false
	}
	return idx.fields[i], true
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// valueAssigner is implemented by pgtype values returned by the pgx driver.
type valueAssigner interface {
	AssignTo(dst any) error
}

// assign stores src into dst, converting between compatible kinds.
func assign(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		v := reflect.New(dst.Type().Elem())
		if err := assign(v.Elem(), src); err != nil {
			return err
		}
		dst.Set(v)
		return nil
	}
	if a, ok := src.(valueAssigner); ok && dst.CanAddr() {
		return a.AssignTo(dst.Addr().Interface())
	}
	switch {
	case dst.Kind() == reflect.String && sv.Kind() == reflect.Slice && sv.Type().Elem().Kind() == reflect.Uint8:
		dst.SetString(string(sv.Bytes()))
		return nil
	case isInt(dst.Kind()) && isInt(sv.Kind()):
		n := sv.Int()
		if dst.OverflowInt(n) {
			return xerrors.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil
	case isInt(dst.Kind()) && isUint(sv.Kind()):
		n := sv.Uint()
		if n > 1<<63-1 || dst.OverflowInt(int64(n)) {
			return xerrors.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(int64(n))
		return nil
	case isUint(dst.Kind()) && isInt(sv.Kind()):
		n := sv.Int()
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return xerrors.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil
	case isUint(dst.Kind()) && isUint(sv.Kind()):
		n := sv.Uint()
		if dst.OverflowUint(n) {
			return xerrors.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(n)
		return nil
	case isFloat(dst.Kind()) && (isInt(sv.Kind()) || isUint(sv.Kind()) || isFloat(sv.Kind())):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	case sv.Kind() == dst.Kind() && sv.Type().ConvertibleTo(dst.Type()):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return xerrors.Errorf("cannot assign %T to %s", src, dst.Type())
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// fieldByIndex walks path allocating nil embedded pointers on the way.
func fieldByIndex(v reflect.Value, path []int) reflect.Value {
	for _, i := range path {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}
