// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package foldername

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid", input: "Frieren", wantErr: nil},
		{name: "empty", input: "", wantErr: ErrEmpty},
		{name: "blank", input: "   ", wantErr: ErrEmpty},
		{name: "colon", input: "Show: Part Two", wantErr: ErrIllegalChars},
		{name: "trailing dot", input: "Title.", wantErr: ErrTrailing},
		{name: "trailing space", input: "Title ", wantErr: ErrTrailing},
		{name: "reserved", input: "aux", wantErr: ErrReserved},
		{name: "reserved with extension", input: "Nul.txt", wantErr: ErrReserved},
		{name: "too long", input: strings.Repeat("a", 256), wantErr: ErrTooLong},
		{name: "exactly max", input: strings.Repeat("a", 255), wantErr: nil},
		{name: "illegal checked before trailing", input: "a?.", wantErr: ErrIllegalChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var verr *Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.input, verr.Name)
		})
	}
}

func TestValidateReportsIllegalCharacters(t *testing.T) {
	err := Validate(`a:b?c:d*`)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []rune{':', '?', '*'}, verr.Chars)
	assert.Contains(t, err.Error(), ": ? *")
}

func TestCheck(t *testing.T) {
	ok, reason := Check("Frieren")
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = Check("CON")
	assert.False(t, ok)
	assert.Contains(t, reason, "reserved")
}

func TestSanitizedNamesValidate(t *testing.T) {
	for _, in := range []string{"Show: Part Two", "CON", "con.txt", "x?y.", "  spaced  "} {
		t.Run(in, func(t *testing.T) {
			assert.NoError(t, Validate(Sanitize(in)))
		})
	}
}
