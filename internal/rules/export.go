// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

// BuildExport completes every entry and keys it by display title, the layout
// qBittorrent's rule import expects. When two categories hold the same title
// the first one wins and the other is reported.
func BuildExport(c *Collection, opts Options) (map[string]Entry, []Issue) {
	out := make(map[string]Entry, c.Len())
	var issues []Issue

	c.Each(func(category string, index int, e Entry) bool {
		done := Complete(e, opts)
		title := done.DisplayTitle()
		if title == "" {
			issues = append(issues, Issue{Category: category, Index: index, Reason: "entry has no title; not exported"})
			return true
		}
		if _, dup := out[title]; dup {
			issues = append(issues, Issue{Category: category, Index: index, Title: title, Reason: "duplicate title; not exported"})
			return true
		}
		out[title] = done
		return true
	})

	return out, issues
}

// EncodeExport writes rules as 4-space indented JSON.
func EncodeExport(w io.Writer, rules map[string]Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rules); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteExport atomically replaces path with the encoded rules.
func WriteExport(path string, rules map[string]Entry) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			log.Debug().Err(err).Str("path", path).Msg("cleanup pending export file")
		}
	}()

	if err := EncodeExport(pendingFile, rules); err != nil {
		return err
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace export file: %w", err)
	}
	return nil
}
