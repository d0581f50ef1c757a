// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package subsplease

import (
	"context"
	"time"

	"github.com/autobrr/qrr/internal/cache"
)

// Fetcher returns the current schedule titles.
type Fetcher interface {
	Schedule(ctx context.Context) ([]string, error)
}

// Service serves schedule titles from the cache, fetching when asked to or
// when nothing is cached yet.
type Service struct {
	fetcher Fetcher
	store   *cache.Store
	now     func() time.Time
}

func NewService(fetcher Fetcher, store *cache.Store) *Service {
	return &Service{fetcher: fetcher, store: store, now: time.Now}
}

func (s *Service) Titles(ctx context.Context, refresh bool) ([]string, error) {
	if !refresh {
		cached, err := s.store.SubsPleaseTitles()
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			titles := make([]string, len(cached))
			for i, t := range cached {
				titles[i] = t.Title
			}
			return titles, nil
		}
	}

	titles, err := s.fetcher.Schedule(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSubsPleaseTitles(titles, s.now()); err != nil {
		return nil, err
	}
	return titles, nil
}

// Match finds title among the cached schedule titles.
func (s *Service) Match(ctx context.Context, title string) (Match, bool, error) {
	titles, err := s.Titles(ctx, false)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := FindMatch(title, titles)
	return m, ok, nil
}
