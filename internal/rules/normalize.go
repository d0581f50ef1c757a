// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnrecognized means the input has no shape we can turn into titles. Callers
// abort the import instead of keeping a partial result.
var ErrUnrecognized = errors.New("could not normalize input")

// Result is the outcome of a successful normalization.
type Result struct {
	Shape  Shape
	Titles *Collection
	// Issues lists items that were skipped or fields that were dropped.
	Issues []Issue
}

func (r *Result) report(category string, index int, title, reason string) {
	r.Issues = append(r.Issues, Issue{Category: category, Index: index, Title: title, Reason: reason})
}

// Normalizer converts imported documents into a Collection.
type Normalizer struct {
	opts Options
	log  zerolog.Logger
}

func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{
		opts: opts,
		log:  log.With().Str("module", "rules").Logger(),
	}
}

func (n *Normalizer) Options() Options {
	return n.opts
}

// Normalize accepts an already decoded document (maps, slices, strings).
func (n *Normalizer) Normalize(parsed any) (*Result, error) {
	return n.normalize(fromAny(parsed))
}

func (n *Normalizer) NormalizeJSON(data []byte) (*Result, error) {
	v, err := parseJSON(bytes.TrimPrefix(data, utf8BOM))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	return n.normalize(v)
}

// NormalizeRemote flattens a qBittorrent rules response into entries. An empty
// rules object yields no entries and no error; anything else that does not
// normalize is returned as ErrUnrecognized.
func (n *Normalizer) NormalizeRemote(data []byte) ([]Entry, error) {
	var defs map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &defs); err == nil && len(defs) == 0 {
		return nil, nil
	}

	res, err := n.NormalizeJSON(data)
	if err != nil {
		return nil, err
	}

	var out []Entry
	res.Titles.Each(func(_ string, _ int, e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, nil
}

// NormalizeText handles pasted or uploaded text: JSON when it parses as an
// array or object, otherwise one title per non-blank line.
func (n *Normalizer) NormalizeText(text string) (*Result, error) {
	text = strings.TrimPrefix(text, string(utf8BOM))
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnrecognized)
	}

	if v, err := parseJSON([]byte(trimmed)); err == nil && (v.kind == kindArray || v.kind == kindObject) {
		return n.normalize(v)
	}

	lines := value{kind: kindArray}
	for line := range strings.SplitSeq(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines.items = append(lines.items, value{kind: kindString, str: line})
		}
	}
	return n.normalize(lines)
}

// NormalizeYAML accepts the same layouts written as YAML. A document that is a
// single scalar is treated as text.
func (n *Normalizer) NormalizeYAML(data []byte) (*Result, error) {
	v, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	if v.kind != kindArray && v.kind != kindObject {
		return n.NormalizeText(string(data))
	}
	return n.normalize(v)
}

var utf8BOM = []byte("\xef\xbb\xbf")

func (n *Normalizer) normalize(v value) (*Result, error) {
	shape := classify(v)
	res := &Result{Shape: shape, Titles: NewCollection()}

	switch shape {
	case ListOfTitles:
		n.appendItems(res, CategoryAnime, v.items)

	case TitleToEntryMap:
		for i, m := range v.fields {
			e, problems := decodeEntry(m.val)
			for _, p := range problems {
				res.report(CategoryAnime, i, m.key, p)
			}
			if e.Title == "" {
				e.Title = strings.TrimSpace(m.key)
			}
			if e.DisplayTitle() == "" {
				res.report(CategoryAnime, i, m.key, "entry has no title")
				continue
			}
			res.Titles.Append(CategoryAnime, Complete(e, n.opts))
		}

	case TitleToStringMap:
		for i, m := range v.fields {
			title := strings.TrimSpace(m.val.str)
			if title == "" {
				title = strings.TrimSpace(m.key)
			}
			if title == "" {
				res.report(CategoryAnime, i, m.key, "blank title")
				continue
			}
			res.Titles.Append(CategoryAnime, Entry{Title: title})
		}

	case CategoryToListMap:
		for i, m := range v.fields {
			if m.val.kind != kindArray {
				res.report(m.key, i, "", fmt.Sprintf("expected a list of titles, got %v", m.val.kind))
				continue
			}
			n.appendItems(res, m.key, m.val.items)
		}

	case FlatKeySet:
		for i, m := range v.fields {
			title := strings.TrimSpace(m.key)
			if title == "" {
				res.report(CategoryAnime, i, "", "blank title")
				continue
			}
			res.Titles.Append(CategoryAnime, Entry{Title: title})
		}

	default:
		return nil, fmt.Errorf("%w: unsupported %v document", ErrUnrecognized, v.kind)
	}

	if res.Titles.Len() == 0 {
		return nil, fmt.Errorf("%w: no usable titles in %v document", ErrUnrecognized, shape)
	}

	n.log.Debug().
		Str("shape", shape.String()).
		Int("entries", res.Titles.Len()).
		Int("issues", len(res.Issues)).
		Msg("Normalized import")

	return res, nil
}

func (n *Normalizer) appendItems(res *Result, category string, items []value) {
	for i, item := range items {
		switch item.kind {
		case kindString, kindNumber:
			title := strings.TrimSpace(item.str)
			if title == "" {
				res.report(category, i, "", "blank title")
				continue
			}
			res.Titles.Append(category, Entry{Title: title})

		case kindObject:
			e, problems := decodeEntry(item)
			for _, p := range problems {
				res.report(category, i, e.DisplayTitle(), p)
			}
			if e.DisplayTitle() == "" {
				res.report(category, i, "", "entry has no title")
				continue
			}
			res.Titles.Append(category, e)

		default:
			res.report(category, i, "", fmt.Sprintf("unsupported %v item", item.kind))
		}
	}
}
