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
	"fmt"
	"reflect"

	"golang.org/x/xerrors"
)

// ValueProvider extracts the value of one column out of an object being
// inserted. See Const, Func and Lookup.
type ValueProvider interface {
	Value(obj any) (any, error)
}

type constProvider struct {
	v any
}

// Const provides the same value for every object.
func Const(v any) ValueProvider {
	return constProvider{v: v}
}

func (p constProvider) Value(any) (any, error) { return p.v, nil }

func (p constProvider) String() string { return fmt.Sprintf("Const(%v)", p.v) }

type funcProvider struct {
	fn    reflect.Value
	multi bool
	err   error
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Func provides the value returned by fn. fn must take at least one argument
// and return either a value or a value and an error. When fn takes more than
// one argument the object, which must then be a slice or an array, is unpacked
// into the arguments.
func Func(fn any) ValueProvider {
	rv := reflect.ValueOf(fn)
	p := funcProvider{fn: rv}
	if rv.Kind() != reflect.Func {
		p.err = xerrors.Errorf("value function must be a func, got %T", fn)
		return p
	}
	t := rv.Type()
	switch {
	case t.NumIn() == 0:
		p.err = xerrors.Errorf("value function %T takes no arguments", fn)
	case t.NumOut() == 0 || t.NumOut() > 2:
		p.err = xerrors.Errorf("value function %T must return a value and an optional error", fn)
	case t.NumOut() == 2 && t.Out(1) != errorType:
		p.err = xerrors.Errorf("value function %T second return must be an error", fn)
	}
	p.multi = t.NumIn() > 1
	return p
}

func (p funcProvider) Value(obj any) (any, error) {
	if p.err != nil {
		return nil, p.err
	}
	t := p.fn.Type()
	var in []reflect.Value
	if p.multi {
		ov := reflect.Indirect(reflect.ValueOf(obj))
		if ov.Kind() != reflect.Slice && ov.Kind() != reflect.Array {
			return nil, xerrors.Errorf("cannot unpack %T into %d arguments", obj, t.NumIn())
		}
		if ov.Len() != t.NumIn() {
			return nil, xerrors.Errorf("cannot unpack %d values into %d arguments", ov.Len(), t.NumIn())
		}
		in = make([]reflect.Value, t.NumIn())
		for i := range in {
			arg, err := argument(t.In(i), ov.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			in[i] = arg
		}
	} else {
		arg, err := argument(t.In(0), obj)
		if err != nil {
			return nil, err
		}
		in = []reflect.Value{arg}
	}
	out := p.fn.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

func argument(t reflect.Type, v any) (reflect.Value, error) {
	arg := reflect.New(t).Elem()
	if err := assign(arg, v); err != nil {
		return reflect.Value{}, xerrors.Errorf("cannot pass argument to value function: %w", err)
	}
	return arg, nil
}

type lookupProvider struct {
	key any
}

// Lookup provides the value found under key: a map entry, a struct field
// (matched like a column, by db tag or field name) or a slice element when key
// is an int.
func Lookup(key any) ValueProvider {
	return lookupProvider{key: key}
}

func (p lookupProvider) Value(obj any) (any, error) {
	return lookup(obj, p.key)
}

func (p lookupProvider) String() string { return fmt.Sprintf("Lookup(%v)", p.key) }

func lookup(obj, key any) (any, error) {
	ov := reflect.ValueOf(obj)
	for ov.Kind() == reflect.Pointer || ov.Kind() == reflect.Interface {
		if ov.IsNil() {
			return nil, xerrors.Errorf("cannot look up %v in nil %T", key, obj)
		}
		ov = ov.Elem()
	}
	switch ov.Kind() {
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.IsValid() || !kv.Type().ConvertibleTo(ov.Type().Key()) {
			return nil, xerrors.Errorf("invalid key %v for %T", key, obj)
		}
		v := ov.MapIndex(kv.Convert(ov.Type().Key()))
		if !v.IsValid() {
			return nil, xerrors.Errorf("key %v not found in %T", key, obj)
		}
		return v.Interface(), nil
	case reflect.Struct:
		name, ok := key.(string)
		if !ok {
			return nil, xerrors.Errorf("invalid key %v for %T", key, obj)
		}
		f, ok := indexOf(ov.Type()).lookup(name)
		if !ok {
			return nil, xerrors.Errorf("field %q not found in %T", name, obj)
		}
		return ov.FieldByIndex(f.index).Interface(), nil
	case reflect.Slice, reflect.Array:
		i, ok := key.(int)
		if !ok {
			return nil, xerrors.Errorf("invalid index %v for %T", key, obj)
		}
		if i < 0 || i >= ov.Len() {
			return nil, xerrors.Errorf("index %d out of range for %T of length %d", i, obj, ov.Len())
		}
		return ov.Index(i).Interface(), nil
	}
	return nil, xerrors.Errorf("cannot look up %v in %T", key, obj)
}

// asProvider turns a keyword value into a provider: providers are kept as
// they are, functions become Func and anything else becomes Const.
func asProvider(v any) ValueProvider {
	switch p := v.(type) {
	case ValueProvider:
		return p
	case nil:
		return Const(nil)
	}
	if reflect.TypeOf(v).Kind() == reflect.Func {
		return Func(v)
	}
	return Const(v)
}
