// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Parse decodes a JSON schema literal. Object key order is preserved, so
// sibling nodes come out in the order they were written.
func Parse(data []byte) (Spec, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parsing schema: invalid JSON")
	}
	return fromResult(gjson.ParseBytes(data), "$")
}

// ParseString is Parse for a string literal.
func ParseString(s string) (Spec, error) {
	return Parse([]byte(s))
}

func fromResult(r gjson.Result, path string) (Spec, error) {
	switch {
	case r.Type == gjson.String:
		return Label(r.String()), nil
	case r.IsArray():
		var list List
		var err error
		i := 0
		r.ForEach(func(_, value gjson.Result) bool {
			var s Spec
			s, err = fromResult(value, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return false
			}
			list = append(list, s)
			i++
			return true
		})
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = List{}
		}
		return list, nil
	case r.IsObject():
		var m Map
		var err error
		r.ForEach(func(key, value gjson.Result) bool {
			var s Spec
			s, err = fromResult(value, path+"."+key.String())
			if err != nil {
				return false
			}
			m = append(m, Entry{Key: key.String(), Value: s})
			return true
		})
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = Map{}
		}
		return m, nil
	default:
		return nil, &SchemaTypeError{Path: path, Got: jsonKind(r), Want: "string, array or object"}
	}
}

func jsonKind(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	default:
		return r.Type.String()
	}
}

// FromValue converts native Go values into a Spec. Accepted values are
// string, []string, []any, map[string]any, map[string]string,
// map[string][]string and Spec itself. Go maps have no order, so their
// keys are sorted.
func FromValue(v any) (Spec, error) {
	return fromValue(v, "$")
}

func fromValue(v any, path string) (Spec, error) {
	switch t := v.(type) {
	case Spec:
		return t, nil
	case string:
		return Label(t), nil
	case []string:
		list := make(List, len(t))
		for i, s := range t {
			list[i] = Label(s)
		}
		return list, nil
	case []any:
		list := make(List, 0, len(t))
		for i, e := range t {
			s, err := fromValue(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			list = append(list, s)
		}
		return list, nil
	case map[string]string:
		m := make(Map, 0, len(t))
		for _, k := range sortedKeys(t) {
			m = append(m, Entry{Key: k, Value: Label(t[k])})
		}
		return m, nil
	case map[string][]string:
		m := make(Map, 0, len(t))
		for _, k := range sortedKeys(t) {
			s, _ := fromValue(t[k], path+"."+k)
			m = append(m, Entry{Key: k, Value: s})
		}
		return m, nil
	case map[string]any:
		m := make(Map, 0, len(t))
		for _, k := range sortedKeys(t) {
			s, err := fromValue(t[k], path+"."+k)
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Key: k, Value: s})
		}
		return m, nil
	default:
		return nil, &SchemaTypeError{Path: path, Got: fmt.Sprintf("%T", v), Want: "string, list or mapping"}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
