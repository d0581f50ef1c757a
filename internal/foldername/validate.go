// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package foldername

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmpty        = errors.New("folder name is empty")
	ErrIllegalChars = errors.New("folder name contains illegal characters")
	ErrTrailing     = errors.New("folder name ends with a space or dot")
	ErrReserved     = errors.New("folder name is a reserved device name")
	ErrTooLong      = errors.New("folder name is too long")
)

// Error describes why a folder name failed validation.
type Error struct {
	Name string
	// Chars lists each offending character once, in order of appearance.
	Chars []rune
	Err   error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrIllegalChars):
		quoted := make([]string, 0, len(e.Chars))
		for _, r := range e.Chars {
			quoted = append(quoted, string(r))
		}
		return fmt.Sprintf("%q: %v: %s", e.Name, e.Err, strings.Join(quoted, " "))
	case errors.Is(e.Err, ErrReserved):
		return fmt.Sprintf("%q: %v (%s)", e.Name, e.Err, strings.ToUpper(baseName(e.Name)))
	case errors.Is(e.Err, ErrTooLong):
		return fmt.Sprintf("%q: %v (%d > %d characters)", e.Name, e.Err, utf8.RuneCountInString(e.Name), DefaultMaxLength)
	default:
		return fmt.Sprintf("%q: %v", e.Name, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validate reports the first problem with name, or nil. It never alters name.
func Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return &Error{Name: name, Err: ErrEmpty}
	}

	if chars := findIllegal(name); len(chars) > 0 {
		return &Error{Name: name, Chars: chars, Err: ErrIllegalChars}
	}

	if last, _ := utf8.DecodeLastRuneInString(name); last == ' ' || last == '.' {
		return &Error{Name: name, Err: ErrTrailing}
	}

	if isReserved(name) {
		return &Error{Name: name, Err: ErrReserved}
	}

	if utf8.RuneCountInString(name) > DefaultMaxLength {
		return &Error{Name: name, Err: ErrTooLong}
	}

	return nil
}

// Check is Validate in success-flag form.
func Check(name string) (bool, string) {
	if err := Validate(name); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func findIllegal(name string) []rune {
	var chars []rune
	seen := make(map[rune]struct{})
	for _, r := range name {
		if !isIllegal(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		chars = append(chars, r)
	}
	return chars
}
