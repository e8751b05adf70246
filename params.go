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
	"strconv"
	"strings"
)

// Args carries the values of named parameters, keyed by name without the
// leading colon.
type Args map[string]any

// Render rewrites the named parameters (:name) of query into positional
// markers ($1, $2...) allocated in first-occurrence order, and returns the
// matching argument list. A name used more than once reuses its marker.
//
// A colon preceded by another colon is not a parameter, so type casts such as
// :data::JSON keep working. Tokens that do not start with a lowercase letter
// (:1000, :Name) are left untouched.
func Render(query string, args Args) (string, []any, error) {
	rendered, names := parse(query)
	values, err := bind(names, args)
	if err != nil {
		return "", nil, err
	}
	return rendered, values, nil
}

// RenderMany is like Render but binds each element of rows against the same
// rewritten query.
func RenderMany(query string, rows []Args) (string, [][]any, error) {
	rendered, names := parse(query)
	values := make([][]any, 0, len(rows))
	for _, args := range rows {
		v, err := bind(names, args)
		if err != nil {
			return "", nil, err
		}
		values = append(values, v)
	}
	return rendered, values, nil
}

func bind(names []string, args Args) ([]any, error) {
	values := make([]any, len(names))
	for i, name := range names {
		v, ok := args[name]
		if !ok {
			return nil, &MissingParameterError{Name: name}
		}
		values[i] = v
	}
	return values, nil
}

// parse returns the rewritten query and the distinct parameter names in the
// order their markers were allocated.
func parse(query string) (string, []string) {
	var (
		sb      strings.Builder
		names   []string
		indexes = make(map[string]int)
	)
	sb.Grow(len(query))
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch != ':' || (i > 0 && query[i-1] == ':') {
			sb.WriteByte(ch)
			continue
		}
		end := i + 1
		if end >= len(query) || !isLower(query[end]) {
			sb.WriteByte(ch)
			continue
		}
		for end < len(query) && isIdentChar(query[end]) {
			end++
		}
		name := query[i+1 : end]
		idx, ok := indexes[name]
		if !ok {
			names = append(names, name)
			idx = len(names)
			indexes[name] = idx
		}
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(idx))
		i = end - 1
	}
	return sb.String(), names
}

func isLower(ch byte) bool {
	return 'a' <= ch && ch <= 'z'
}

func isIdentChar(ch byte) bool {
	return isLower(ch) || ('0' <= ch && ch <= '9') || ch == '_'
}

// statement accumulates query fragments and positional arguments. Each value
// added gets its own marker.
type statement struct {
	sb   strings.Builder
	args []any
}

func (s *statement) write(fragments ...string) *statement {
	for _, f := range fragments {
		s.sb.WriteString(f)
	}
	return s
}

func (s *statement) bind(v any) *statement {
	s.args = append(s.args, v)
	s.sb.WriteByte('$')
	s.sb.WriteString(strconv.Itoa(len(s.args)))
	return s
}

func (s *statement) String() string {
	return s.sb.String()
}
