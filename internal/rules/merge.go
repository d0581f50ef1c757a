// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

// MergeNew appends the candidates whose display title is not yet present in
// existing to its "existing" category and returns them. Within candidates the
// first occurrence of a title wins; entries without any title are ignored.
func MergeNew(existing *Collection, candidates []Entry) []Entry {
	seen := existing.titles()

	var added []Entry
	for _, e := range candidates {
		title := e.DisplayTitle()
		if title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		added = append(added, e.Clone())
	}

	if len(added) > 0 {
		existing.Append(CategoryExisting, added...)
	}
	return added
}
