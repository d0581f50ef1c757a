// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Entry is one qBittorrent RSS download rule plus the display title it is
// listed under. JSON encoding uses qBittorrent's rule field names.
type Entry struct {
	// Title is the display name; it becomes the rule name on export.
	Title string

	MustContain    string
	MustNotContain string
	SavePath       string
	Category       string
	Enabled        *bool
	AffectedFeeds  []string
	// LastMatch is opaque to us: usually a date string, sometimes structured.
	LastMatch         json.RawMessage
	PreviouslyMatched []string
	Priority          int
	UseRegex          bool

	AddPaused            *bool
	EpisodeFilter        string
	IgnoreDays           int
	SmartFilter          bool
	TorrentContentLayout *string
	TorrentParams        *TorrentParams

	// Extra holds keys we do not model, re-emitted untouched.
	Extra map[string]json.RawMessage
}

// TorrentParams mirrors the torrentParams object qBittorrent 5 attaches to rules.
type TorrentParams struct {
	Category                 string
	DownloadLimit            int
	DownloadPath             string
	InactiveSeedingTimeLimit int
	OperatingMode            string
	RatioLimit               float64
	SavePath                 string
	SeedingTimeLimit         int
	ShareLimitAction         string
	SkipChecking             bool
	SSLCertificate           string
	SSLDHParams              string
	SSLPrivateKey            string
	Stopped                  bool
	Tags                     []string
	UploadLimit              int
	UseAutoTMM               bool

	Extra map[string]json.RawMessage
}

// DefaultTorrentParams returns the values qBittorrent uses for a new rule.
func DefaultTorrentParams() TorrentParams {
	return TorrentParams{
		DownloadLimit:            -1,
		InactiveSeedingTimeLimit: -2,
		OperatingMode:            "AutoManaged",
		RatioLimit:               -2,
		SeedingTimeLimit:         -2,
		ShareLimitAction:         "Default",
		Tags:                     []string{},
		UploadLimit:              -1,
	}
}

// DisplayTitle is the key used for de-duplication and export.
func (e Entry) DisplayTitle() string {
	if t := strings.TrimSpace(e.Title); t != "" {
		return t
	}
	return strings.TrimSpace(e.MustContain)
}

// IsEnabled treats an unset flag as enabled, as qBittorrent does.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e Entry) Clone() Entry {
	out := e
	out.Enabled = clonePtr(e.Enabled)
	out.AddPaused = clonePtr(e.AddPaused)
	out.TorrentContentLayout = clonePtr(e.TorrentContentLayout)
	out.AffectedFeeds = slices.Clone(e.AffectedFeeds)
	out.PreviouslyMatched = slices.Clone(e.PreviouslyMatched)
	out.LastMatch = slices.Clone(e.LastMatch)
	out.Extra = cloneRaw(e.Extra)
	if e.TorrentParams != nil {
		tp := e.TorrentParams.Clone()
		out.TorrentParams = &tp
	}
	return out
}

func (p TorrentParams) Clone() TorrentParams {
	out := p
	out.Tags = slices.Clone(p.Tags)
	out.Extra = cloneRaw(p.Extra)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (e Entry) MarshalJSON() ([]byte, error) {
	lastMatch := e.LastMatch
	if len(lastMatch) == 0 {
		lastMatch = json.RawMessage(`""`)
	}

	m := map[string]any{
		"addPaused":                 e.AddPaused,
		"affectedFeeds":             nonNil(e.AffectedFeeds),
		"assignedCategory":          e.Category,
		"enabled":                   e.IsEnabled(),
		"episodeFilter":             e.EpisodeFilter,
		"ignoreDays":                e.IgnoreDays,
		"lastMatch":                 lastMatch,
		"mustContain":               e.MustContain,
		"mustNotContain":            e.MustNotContain,
		"previouslyMatchedEpisodes": nonNil(e.PreviouslyMatched),
		"priority":                  e.Priority,
		"savePath":                  e.SavePath,
		"smartFilter":               e.SmartFilter,
		"torrentContentLayout":      e.TorrentContentLayout,
		"useRegex":                  e.UseRegex,
	}
	if e.TorrentParams != nil {
		m["torrentParams"] = e.TorrentParams
	}
	for k, v := range e.Extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	v, err := parseJSON(data)
	if err != nil {
		return err
	}
	if v.kind != kindObject {
		return fmt.Errorf("rule must be a JSON object, got %v", v.kind)
	}
	decoded, _ := decodeEntry(v)
	*e = decoded
	return nil
}

func (p TorrentParams) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"category":                    p.Category,
		"download_limit":              p.DownloadLimit,
		"download_path":               p.DownloadPath,
		"inactive_seeding_time_limit": p.InactiveSeedingTimeLimit,
		"operating_mode":              p.OperatingMode,
		"ratio_limit":                 p.RatioLimit,
		"save_path":                   p.SavePath,
		"seeding_time_limit":          p.SeedingTimeLimit,
		"share_limit_action":          p.ShareLimitAction,
		"skip_checking":               p.SkipChecking,
		"ssl_certificate":             p.SSLCertificate,
		"ssl_dh_params":               p.SSLDHParams,
		"ssl_private_key":             p.SSLPrivateKey,
		"stopped":                     p.Stopped,
		"tags":                        nonNil(p.Tags),
		"upload_limit":                p.UploadLimit,
		"use_auto_tmm":                p.UseAutoTMM,
	}
	for k, v := range p.Extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func (p *TorrentParams) UnmarshalJSON(data []byte) error {
	v, err := parseJSON(data)
	if err != nil {
		return err
	}
	if v.kind != kindObject {
		return fmt.Errorf("torrentParams must be a JSON object, got %v", v.kind)
	}
	decoded, _ := decodeTorrentParams(v)
	*p = decoded
	return nil
}

// fieldDecoder collects type mismatches instead of failing the whole entry.
type fieldDecoder struct {
	prefix   string
	problems []string
}

func (d *fieldDecoder) mismatch(key string, want string, got value) {
	d.problems = append(d.problems, fmt.Sprintf("%s%s: expected %s, got %v", d.prefix, key, want, got.kind))
}

func (d *fieldDecoder) str(key string, v value, dst *string) {
	switch v.kind {
	case kindString, kindNumber:
		*dst = v.str
	case kindNull:
	default:
		d.mismatch(key, "string", v)
	}
}

func (d *fieldDecoder) optStr(key string, v value, dst **string) {
	switch v.kind {
	case kindString:
		s := v.str
		*dst = &s
	case kindNull:
		*dst = nil
	default:
		d.mismatch(key, "string or null", v)
	}
}

func (d *fieldDecoder) boolean(key string, v value, dst *bool) {
	switch v.kind {
	case kindBool:
		*dst = v.b
	case kindNull:
	default:
		d.mismatch(key, "bool", v)
	}
}

func (d *fieldDecoder) optBool(key string, v value, dst **bool) {
	switch v.kind {
	case kindBool:
		b := v.b
		*dst = &b
	case kindNull:
		*dst = nil
	default:
		d.mismatch(key, "bool or null", v)
	}
}

func (d *fieldDecoder) integer(key string, v value, dst *int) {
	if v.kind == kindNull {
		return
	}
	if v.kind == kindNumber {
		if n, err := strconv.Atoi(v.str); err == nil {
			*dst = n
			return
		}
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			*dst = int(f)
			return
		}
	}
	d.mismatch(key, "integer", v)
}

func (d *fieldDecoder) float(key string, v value, dst *float64) {
	if v.kind == kindNull {
		return
	}
	if v.kind == kindNumber {
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			*dst = f
			return
		}
	}
	d.mismatch(key, "number", v)
}

func (d *fieldDecoder) strings(key string, v value, dst *[]string) {
	switch v.kind {
	case kindArray:
		out := make([]string, 0, len(v.items))
		for _, item := range v.items {
			s, ok := item.text()
			if !ok {
				d.mismatch(key+"[]", "string", item)
				continue
			}
			out = append(out, s)
		}
		*dst = out
	case kindString:
		if v.str != "" {
			*dst = []string{v.str}
		}
	case kindNull:
	default:
		d.mismatch(key, "list of strings", v)
	}
}

// decodeEntry builds an Entry from an object, keeping well-typed fields and
// reporting the rest.
func decodeEntry(v value) (Entry, []string) {
	var (
		e      Entry
		d      fieldDecoder
		titles = map[string]string{}
	)

	for _, m := range v.fields {
		switch m.key {
		case "node":
			if m.val.kind == kindObject {
				if t, ok := m.val.get("title"); ok {
					if s, ok := t.text(); ok {
						titles["node"] = s
					}
				}
			}
		case "title", "name", "ruleName":
			if s, ok := m.val.text(); ok {
				titles[m.key] = s
			}
		case "mustContain":
			d.str(m.key, m.val, &e.MustContain)
		case "mustNotContain":
			d.str(m.key, m.val, &e.MustNotContain)
		case "savePath":
			d.str(m.key, m.val, &e.SavePath)
		case "assignedCategory":
			d.str(m.key, m.val, &e.Category)
		case "enabled":
			d.optBool(m.key, m.val, &e.Enabled)
		case "affectedFeeds":
			d.strings(m.key, m.val, &e.AffectedFeeds)
		case "lastMatch":
			if m.val.kind != kindNull {
				e.LastMatch = m.val.raw()
			}
		case "previouslyMatchedEpisodes":
			d.strings(m.key, m.val, &e.PreviouslyMatched)
		case "priority":
			d.integer(m.key, m.val, &e.Priority)
		case "useRegex":
			d.boolean(m.key, m.val, &e.UseRegex)
		case "addPaused":
			d.optBool(m.key, m.val, &e.AddPaused)
		case "episodeFilter":
			d.str(m.key, m.val, &e.EpisodeFilter)
		case "ignoreDays":
			d.integer(m.key, m.val, &e.IgnoreDays)
		case "smartFilter":
			d.boolean(m.key, m.val, &e.SmartFilter)
		case "torrentContentLayout":
			d.optStr(m.key, m.val, &e.TorrentContentLayout)
		case "torrentParams":
			switch m.val.kind {
			case kindObject:
				tp, problems := decodeTorrentParams(m.val)
				e.TorrentParams = &tp
				d.problems = append(d.problems, problems...)
			case kindNull:
			default:
				d.mismatch(m.key, "object", m.val)
			}
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[m.key] = m.val.raw()
		}
	}

	for _, key := range []string{"node", "title", "name", "ruleName"} {
		if t := strings.TrimSpace(titles[key]); t != "" {
			e.Title = t
			break
		}
	}

	return e, d.problems
}

func decodeTorrentParams(v value) (TorrentParams, []string) {
	p := DefaultTorrentParams()
	d := fieldDecoder{prefix: "torrentParams."}

	for _, m := range v.fields {
		switch m.key {
		case "category":
			d.str(m.key, m.val, &p.Category)
		case "download_limit":
			d.integer(m.key, m.val, &p.DownloadLimit)
		case "download_path":
			d.str(m.key, m.val, &p.DownloadPath)
		case "inactive_seeding_time_limit":
			d.integer(m.key, m.val, &p.InactiveSeedingTimeLimit)
		case "operating_mode":
			d.str(m.key, m.val, &p.OperatingMode)
		case "ratio_limit":
			d.float(m.key, m.val, &p.RatioLimit)
		case "save_path":
			d.str(m.key, m.val, &p.SavePath)
		case "seeding_time_limit":
			d.integer(m.key, m.val, &p.SeedingTimeLimit)
		case "share_limit_action":
			d.str(m.key, m.val, &p.ShareLimitAction)
		case "skip_checking":
			d.boolean(m.key, m.val, &p.SkipChecking)
		case "ssl_certificate":
			d.str(m.key, m.val, &p.SSLCertificate)
		case "ssl_dh_params":
			d.str(m.key, m.val, &p.SSLDHParams)
		case "ssl_private_key":
			d.str(m.key, m.val, &p.SSLPrivateKey)
		case "stopped":
			d.boolean(m.key, m.val, &p.Stopped)
		case "tags":
			d.strings(m.key, m.val, &p.Tags)
		case "upload_limit":
			d.integer(m.key, m.val, &p.UploadLimit)
		case "use_auto_tmm":
			d.boolean(m.key, m.val, &p.UseAutoTMM)
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]json.RawMessage)
			}
			p.Extra[m.key] = m.val.raw()
		}
	}

	return p, d.problems
}
