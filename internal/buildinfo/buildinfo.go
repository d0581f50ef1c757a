// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

// Set via ldflags:
// -X github.com/autobrr/qrr/internal/buildinfo.Version=v1.0.0
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent on outgoing HTTP requests.
var UserAgent = "qrr/" + Version

func String() string {
	s := Version
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	if Date != "" {
		s += " built " + Date
	}
	return fmt.Sprintf("%s %s/%s", s, runtime.GOOS, runtime.GOARCH)
}
