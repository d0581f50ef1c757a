// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

// Shape names the layouts an imported document can take.
type Shape int

const (
	Unrecognized Shape = iota
	ListOfTitles
	TitleToEntryMap
	TitleToStringMap
	CategoryToListMap
	FlatKeySet
)

func (s Shape) String() string {
	switch s {
	case ListOfTitles:
		return "list_of_titles"
	case TitleToEntryMap:
		return "title_to_entry_map"
	case TitleToStringMap:
		return "title_to_string_map"
	case CategoryToListMap:
		return "category_to_list_map"
	case FlatKeySet:
		return "flat_key_set"
	default:
		return "unrecognized"
	}
}

func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Classify inspects a decoded document once and names its shape.
func Classify(parsed any) Shape {
	return classify(fromAny(parsed))
}

func classify(v value) Shape {
	switch v.kind {
	case kindArray:
		if len(v.items) == 0 {
			return Unrecognized
		}
		return ListOfTitles
	case kindObject:
		if len(v.fields) == 0 {
			return Unrecognized
		}
	default:
		return Unrecognized
	}

	allObjects, allStrings, anyArray := true, true, false
	for _, m := range v.fields {
		allObjects = allObjects && m.val.kind == kindObject
		allStrings = allStrings && m.val.kind == kindString
		anyArray = anyArray || m.val.kind == kindArray
	}

	switch {
	case allObjects:
		return TitleToEntryMap
	case allStrings:
		return TitleToStringMap
	case anyArray:
		return CategoryToListMap
	default:
		return FlatKeySet
	}
}
