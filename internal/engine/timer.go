// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"time"

	"github.com/Thermoquad/helioguard/pkg/output"
)

// postTimer implements output.Timer with time.AfterFunc. The callback only
// posts a TimerExpired event; the controller's epoch check discards it if
// the mode moved on before it was consumed.
type postTimer struct {
	post  func(Event) bool
	timer *time.Timer
}

func (p *postTimer) Schedule(d time.Duration, mode output.Mode, epoch uint64) {
	p.Cancel()
	p.timer = time.AfterFunc(d, func() {
		p.post(TimerExpired{Mode: mode, Epoch: epoch})
	})
}

func (p *postTimer) Cancel() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
