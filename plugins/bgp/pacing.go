// Copyright (c) 2018 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgp

import (
	"fmt"
	"sync"
	"time"

	"github.com/ligato/cn-infra/logging"

	"github.com/contiv/bgpd/plugins/bgp/model"
)

// timerKey identifies the relayed or the self-originated queues of one
// peer and family.
type timerKey struct {
	peer   string
	family model.Family
	origin bool
}

// String returns a human-readable description of the key.
func (k timerKey) String() string {
	queues := "relay"
	if k.origin {
		queues = "origin"
	}
	return fmt.Sprintf("%s %s %s", k.peer, k.family, queues)
}

// pacer runs the advertisement-interval and AS-origination-interval timers.
// An expired timer pushes a flush event and is re-armed by the event loop
// once the flush was processed.
type pacer struct {
	sync.Mutex
	log    logging.Logger
	push   func(event Event) error
	timers map[timerKey]*time.Timer
}

func newPacer(log logging.Logger, push func(event Event) error) *pacer {
	return &pacer{
		log:    log,
		push:   push,
		timers: make(map[timerKey]*time.Timer),
	}
}

// start arms the timer of <key> unless it is already running.
// Queues with zero interval are not paced.
func (pc *pacer) start(key timerKey, interval time.Duration) {
	if interval <= 0 {
		return
	}
	pc.Lock()
	defer pc.Unlock()
	if _, running := pc.timers[key]; running {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(interval, func() {
		pc.fire(key, timer, interval)
	})
	pc.timers[key] = timer
}

func (pc *pacer) fire(key timerKey, timer *time.Timer, interval time.Duration) {
	pc.Lock()
	defer pc.Unlock()
	if pc.timers[key] != timer {
		// stopped in the meantime
		return
	}
	if err := pc.push(&flushEvent{key: key, timer: true}); err != nil {
		pc.log.Warnf("Failed to trigger flush of %s: %v", key, err)
		if err != ErrClosedEventLoop {
			timer.Reset(interval)
		}
	}
}

// rearm schedules the next expiration of the timer of <key>.
func (pc *pacer) rearm(key timerKey, interval time.Duration) {
	pc.Lock()
	defer pc.Unlock()
	if timer, running := pc.timers[key]; running {
		timer.Reset(interval)
	}
}

// stopPeer stops all timers of the peer.
func (pc *pacer) stopPeer(peer string) {
	pc.Lock()
	defer pc.Unlock()
	for key, timer := range pc.timers {
		if key.peer == peer {
			timer.Stop()
			delete(pc.timers, key)
		}
	}
}

// stopAll stops all timers.
func (pc *pacer) stopAll() {
	pc.Lock()
	defer pc.Unlock()
	for key, timer := range pc.timers {
		timer.Stop()
		delete(pc.timers, key)
	}
}

// running returns the number of armed timers.
func (pc *pacer) running() int {
	pc.Lock()
	defer pc.Unlock()
	return len(pc.timers)
}
