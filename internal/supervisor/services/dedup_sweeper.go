// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package services

import (
	"context"
	"time"

	"github.com/vzaretsky/parley/internal/dedup"
	"github.com/vzaretsky/parley/internal/logging"
)

// DedupSweeperService sweeps the dedup cache on a timer. The engine also
// sweeps opportunistically on allowed sends; this service covers idle chats
// whose stale entries would otherwise linger.
type DedupSweeperService struct {
	engine   *dedup.Engine
	interval time.Duration
}

// NewDedupSweeperService creates the sweeper.
func NewDedupSweeperService(engine *dedup.Engine, interval time.Duration) *DedupSweeperService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DedupSweeperService{engine: engine, interval: interval}
}

// Serve implements suture.Service.
func (s *DedupSweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Debug().Dur("interval", s.interval).Msg("dedup sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.engine.Sweep()
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *DedupSweeperService) String() string { return "dedup-sweeper" }
