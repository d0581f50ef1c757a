// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

const (
	// CategoryAnime receives titles that arrive without a category of their own.
	CategoryAnime = "anime"
	// CategoryExisting receives rules merged in from a qBittorrent instance.
	CategoryExisting = "existing"
)

var ErrEntryNotFound = errors.New("entry not found")

type Category struct {
	Name    string
	Entries []Entry
}

// Collection maps category names to ordered entries. Categories keep the order
// in which they were first added.
type Collection struct {
	categories []Category
}

func NewCollection() *Collection {
	return &Collection{}
}

func (c *Collection) index(name string) int {
	return slices.IndexFunc(c.categories, func(cat Category) bool { return cat.Name == name })
}

func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		names = append(names, cat.Name)
	}
	return names
}

// Entries returns a copy of the entries in the named category.
func (c *Collection) Entries(name string) []Entry {
	i := c.index(name)
	if i < 0 {
		return nil
	}
	out := make([]Entry, 0, len(c.categories[i].Entries))
	for _, e := range c.categories[i].Entries {
		out = append(out, e.Clone())
	}
	return out
}

// Categories returns a deep copy of every category.
func (c *Collection) Categories() []Category {
	out := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, Category{Name: cat.Name, Entries: c.Entries(cat.Name)})
	}
	return out
}

func (c *Collection) Len() int {
	n := 0
	for _, cat := range c.categories {
		n += len(cat.Entries)
	}
	return n
}

func (c *Collection) Append(name string, entries ...Entry) {
	i := c.index(name)
	if i < 0 {
		c.categories = append(c.categories, Category{Name: name})
		i = len(c.categories) - 1
	}
	c.categories[i].Entries = append(c.categories[i].Entries, entries...)
}

func (c *Collection) At(name string, index int) (Entry, error) {
	i := c.index(name)
	if i < 0 || index < 0 || index >= len(c.categories[i].Entries) {
		return Entry{}, fmt.Errorf("%s[%d]: %w", name, index, ErrEntryNotFound)
	}
	return c.categories[i].Entries[index].Clone(), nil
}

func (c *Collection) Set(name string, index int, e Entry) error {
	i := c.index(name)
	if i < 0 || index < 0 || index >= len(c.categories[i].Entries) {
		return fmt.Errorf("%s[%d]: %w", name, index, ErrEntryNotFound)
	}
	c.categories[i].Entries[index] = e
	return nil
}

// Remove deletes and returns an entry. Emptied categories are kept.
func (c *Collection) Remove(name string, index int) (Entry, error) {
	i := c.index(name)
	if i < 0 || index < 0 || index >= len(c.categories[i].Entries) {
		return Entry{}, fmt.Errorf("%s[%d]: %w", name, index, ErrEntryNotFound)
	}
	e := c.categories[i].Entries[index]
	c.categories[i].Entries = slices.Delete(c.categories[i].Entries, index, index+1)
	return e, nil
}

// Insert puts e at index, clamped to the category bounds, creating the category
// when needed. It returns the index actually used.
func (c *Collection) Insert(name string, index int, e Entry) int {
	i := c.index(name)
	if i < 0 {
		c.Append(name, e)
		return 0
	}
	index = max(0, min(index, len(c.categories[i].Entries)))
	c.categories[i].Entries = slices.Insert(c.categories[i].Entries, index, e)
	return index
}

func (c *Collection) Clone() *Collection {
	return &Collection{categories: c.Categories()}
}

// Each visits every entry in order. Returning false stops the walk.
func (c *Collection) Each(fn func(category string, index int, e Entry) bool) {
	for _, cat := range c.categories {
		for i, e := range cat.Entries {
			if !fn(cat.Name, i, e) {
				return
			}
		}
	}
}

// update lets package helpers rewrite entries in place.
func (c *Collection) update(fn func(category string, e *Entry)) {
	for ci := range c.categories {
		for ei := range c.categories[ci].Entries {
			fn(c.categories[ci].Name, &c.categories[ci].Entries[ei])
		}
	}
}

// titles returns the display titles present anywhere in the collection.
func (c *Collection) titles() map[string]struct{} {
	set := make(map[string]struct{}, c.Len())
	c.Each(func(_ string, _ int, e Entry) bool {
		if t := e.DisplayTitle(); t != "" {
			set[t] = struct{}{}
		}
		return true
	})
	return set
}

// ImportResult counts what Import did.
type ImportResult struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
}

// Import merges other into c category by category. Entries whose display title
// or mustContain already exists anywhere in c are skipped.
func (c *Collection) Import(other *Collection) ImportResult {
	var res ImportResult
	if other == nil {
		return res
	}

	seen := c.titles()
	musts := make(map[string]struct{})
	c.Each(func(_ string, _ int, e Entry) bool {
		if e.MustContain != "" {
			musts[e.MustContain] = struct{}{}
		}
		return true
	})

	for _, cat := range other.categories {
		for _, e := range cat.Entries {
			title := e.DisplayTitle()
			_, dupTitle := seen[title]
			_, dupMust := musts[e.MustContain]
			if title == "" || dupTitle || (e.MustContain != "" && dupMust) {
				res.Duplicates++
				continue
			}
			seen[title] = struct{}{}
			if e.MustContain != "" {
				musts[e.MustContain] = struct{}{}
			}
			c.Append(cat.Name, e.Clone())
			res.Added++
		}
	}
	return res
}

// MarshalJSON writes {"category": [rule + node.title, ...]} in category order,
// which normalizes back into the same collection.
func (c *Collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cat := range c.categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(cat.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(":[")
		for j, e := range cat.Entries {
			if j > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalWithNode(e)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", cat.Name, j, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalWithNode(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	node, err := json.Marshal(map[string]string{"title": e.Title})
	if err != nil {
		return nil, err
	}
	m["node"] = node
	return json.Marshal(m)
}
