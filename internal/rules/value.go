// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type kind uint8

const (
	kindNull kind = iota
	kindBool
	kindNumber
	kindString
	kindArray
	kindObject
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "bool"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindArray:
		return "array"
	case kindObject:
		return "object"
	default:
		return "unknown"
	}
}

// value is a parsed document that keeps object members in source order, so
// imports come out in the order the user wrote them.
type value struct {
	kind   kind
	str    string // string contents, or the literal of a number
	b      bool
	items  []value
	fields []member
}

type member struct {
	key string
	val value
}

func (v value) get(key string) (value, bool) {
	for _, m := range v.fields {
		if m.key == key {
			return m.val, true
		}
	}
	return value{}, false
}

// text renders scalars the way a user would type them.
func (v value) text() (string, bool) {
	switch v.kind {
	case kindString, kindNumber:
		return v.str, true
	default:
		return "", false
	}
}

func (v value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case kindNull:
		buf.WriteString("null")
	case kindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case kindNumber:
		buf.WriteString(v.str)
	case kindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case kindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case kindObject:
		buf.WriteByte('{')
		for i, m := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := m.val.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode value of kind %v", v.kind)
	}
	return nil
}

func (v value) raw() json.RawMessage {
	b, err := v.MarshalJSON()
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func parseJSON(data []byte) (value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := readValue(dec)
	if err != nil {
		return value{}, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return value{}, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

func readValue(dec *json.Decoder) (value, error) {
	tok, err := dec.Token()
	if err != nil {
		return value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return value{kind: kindNull}, nil
	case bool:
		return value{kind: kindBool, b: t}, nil
	case json.Number:
		return value{kind: kindNumber, str: t.String()}, nil
	case string:
		return value{kind: kindString, str: t}, nil
	case json.Delim:
		switch t {
		case '[':
			v := value{kind: kindArray}
			for dec.More() {
				item, err := readValue(dec)
				if err != nil {
					return value{}, err
				}
				v.items = append(v.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return value{}, err
			}
			return v, nil
		case '{':
			v := value{kind: kindObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				val, err := readValue(dec)
				if err != nil {
					return value{}, err
				}
				v.fields = setMember(v.fields, key, val)
			}
			if _, err := dec.Token(); err != nil {
				return value{}, err
			}
			return v, nil
		}
	}
	return value{}, fmt.Errorf("unexpected token %v", tok)
}

// setMember keeps the last duplicate key at the position of the first, matching
// what encoding/json does for maps.
func setMember(fields []member, key string, val value) []member {
	for i := range fields {
		if fields[i].key == key {
			fields[i].val = val
			return fields
		}
	}
	return append(fields, member{key: key, val: val})
}

// fromAny converts decoded Go values. Map keys are sorted since their order is lost.
func fromAny(x any) value {
	switch t := x.(type) {
	case nil:
		return value{kind: kindNull}
	case value:
		return t
	case bool:
		return value{kind: kindBool, b: t}
	case string:
		return value{kind: kindString, str: t}
	case json.Number:
		return value{kind: kindNumber, str: t.String()}
	case json.RawMessage:
		v, err := parseJSON(t)
		if err != nil {
			return value{kind: kindNull}
		}
		return v
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return value{kind: kindString, str: strconv.FormatFloat(t, 'g', -1, 64)}
		}
		return value{kind: kindNumber, str: strconv.FormatFloat(t, 'f', -1, 64)}
	case float32:
		return fromAny(float64(t))
	case int:
		return value{kind: kindNumber, str: strconv.Itoa(t)}
	case int64:
		return value{kind: kindNumber, str: strconv.FormatInt(t, 10)}
	case uint64:
		return value{kind: kindNumber, str: strconv.FormatUint(t, 10)}
	case []any:
		v := value{kind: kindArray, items: make([]value, 0, len(t))}
		for _, item := range t {
			v.items = append(v.items, fromAny(item))
		}
		return v
	case []string:
		v := value{kind: kindArray, items: make([]value, 0, len(t))}
		for _, item := range t {
			v.items = append(v.items, value{kind: kindString, str: item})
		}
		return v
	case map[string]any:
		v := value{kind: kindObject}
		for _, k := range sortedKeys(t) {
			v.fields = append(v.fields, member{key: k, val: fromAny(t[k])})
		}
		return v
	case map[string]string:
		v := value{kind: kindObject}
		for _, k := range sortedKeys(t) {
			v.fields = append(v.fields, member{key: k, val: value{kind: kindString, str: t[k]}})
		}
		return v
	}

	// Anything else (typed structs, typed slices) goes through its JSON form.
	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return value{kind: kindNull}
	}
	b, err := json.Marshal(x)
	if err != nil {
		return value{kind: kindNull}
	}
	v, err := parseJSON(b)
	if err != nil {
		return value{kind: kindNull}
	}
	return v
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func parseYAML(data []byte) (value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return value{}, err
	}
	return fromYAMLNode(&doc, 0)
}

const maxYAMLDepth = 64

func fromYAMLNode(n *yaml.Node, depth int) (value, error) {
	if depth > maxYAMLDepth {
		return value{}, fmt.Errorf("yaml document nested deeper than %d levels", maxYAMLDepth)
	}

	switch n.Kind {
	case 0:
		return value{kind: kindNull}, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return value{kind: kindNull}, nil
		}
		return fromYAMLNode(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return value{kind: kindNull}, nil
		}
		return fromYAMLNode(n.Alias, depth+1)
	case yaml.SequenceNode:
		v := value{kind: kindArray, items: make([]value, 0, len(n.Content))}
		for _, c := range n.Content {
			item, err := fromYAMLNode(c, depth+1)
			if err != nil {
				return value{}, err
			}
			v.items = append(v.items, item)
		}
		return v, nil
	case yaml.MappingNode:
		v := value{kind: kindObject}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			val, err := fromYAMLNode(n.Content[i+1], depth+1)
			if err != nil {
				return value{}, err
			}
			v.fields = setMember(v.fields, key, val)
		}
		return v, nil
	case yaml.ScalarNode:
		var x any
		if err := n.Decode(&x); err != nil {
			return value{kind: kindString, str: n.Value}, nil
		}
		if _, isTime := x.(time.Time); isTime {
			// timestamps stay as written
			return value{kind: kindString, str: n.Value}, nil
		}
		return fromAny(x), nil
	}
	return value{}, fmt.Errorf("unsupported yaml node kind %v", n.Kind)
}
