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
	"bytes"
	"errors"
	"runtime"
	"time"

	"github.com/ligato/cn-infra/health/statuscheck"

	"github.com/contiv/bgpd/plugins/bgp/restapi"
)

const (
	// maximum number of events waiting for processing
	eventQueueSize = 1000
)

var (
	// ErrClosedEventLoop is returned when the event loop was already closed.
	ErrClosedEventLoop = errors.New("BGP event loop was closed")

	// ErrEventQueueFull is returned when the queue of events is full.
	ErrEventQueueFull = errors.New("queue with events is full")
)

// FatalError tells the event loop to stop, the agent has to be restarted.
type FatalError struct {
	origErr error
}

// NewFatalError is a constructor for FatalError.
func NewFatalError(origErr error) *FatalError {
	return &FatalError{origErr: origErr}
}

// Error returns the string representation of the error.
func (e *FatalError) Error() string {
	return "fatal error: " + e.origErr.Error()
}

// GetOriginalError returns the wrapped error.
func (e *FatalError) GetOriginalError() error {
	return e.origErr
}

type queuedEvent struct {
	event           Event
	isFollowUp      bool
	followUpToEvent uint64
}

// PushEvent adds the given event into the queue of the event loop.
// Events pushed from within the event loop are follow-ups: they are
// processed before any other queued event and must not be blocking.
func (p *Plugin) PushEvent(event Event) error {
	if p.ctx == nil || p.ctx.Err() != nil {
		return ErrClosedEventLoop
	}
	if getGID() == p.evLoopGID {
		if event.IsBlocking() {
			panic("deadlock detected - blocking event sent from within the BGP event loop")
		}
		select {
		case <-p.ctx.Done():
			return ErrClosedEventLoop
		case p.followUpEventQueue <- &queuedEvent{
			event:           event,
			isFollowUp:      true,
			followUpToEvent: p.evSeqNum - 1}:
			return nil
		default:
			return ErrEventQueueFull
		}
	}

	select {
	case <-p.ctx.Done():
		return ErrClosedEventLoop
	case p.eventQueue <- &queuedEvent{event: event}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// eventLoop processes events one by one, it is the only goroutine
// accessing the routing core.
func (p *Plugin) eventLoop() {
	defer p.wg.Done()
	p.evLoopGID = getGID()
	close(p.evLoopStarted)

	for {
		select {
		case <-p.ctx.Done():
			return

		case qe := <-p.followUpEventQueue:
			if exit := p.receiveEvent(qe); exit {
				return
			}

		case qe := <-p.eventQueue:
			if exit := p.receiveEvent(qe); exit {
				return
			}
		}
	}
}

// receiveEvent processes the received event and all the follow-ups it caused.
func (p *Plugin) receiveEvent(qe *queuedEvent) (exitLoop bool) {
	for qe != nil {
		err := p.processEvent(qe)
		if _, fatal := err.(*FatalError); fatal {
			p.Log.Errorf("BGP event loop stopped: %v", err)
			if p.StatusCheck != nil {
				p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.Error, err)
			}
			p.cancel()
			return true
		}
		select {
		case qe = <-p.followUpEventQueue:
		default:
			qe = nil
		}
	}
	return false
}

// processEvent handles one event and records it into the history.
func (p *Plugin) processEvent(qe *queuedEvent) error {
	event := qe.event
	if !isRecorded(event) {
		_, err := p.handleEvent(event)
		if err != nil {
			p.Log.Warnf("Failed to process %s: %v", event.GetName(), err)
		}
		event.Done(err)
		return err
	}

	evRecord := &restapi.EventRecord{
		SeqNum:          p.evSeqNum,
		IsFollowUp:      qe.isFollowUp,
		FollowUpTo:      qe.followUpToEvent,
		Name:            event.GetName(),
		Description:     event.String(),
		ProcessingStart: time.Now(),
	}
	p.evSeqNum++
	p.printNewEvent(evRecord)

	change, err := p.handleEvent(event)
	p.flushUnpaced()

	evRecord.ProcessingEnd = time.Now()
	evRecord.Change = change
	if err != nil {
		evRecord.Error = err
		evRecord.ErrorStr = err.Error()
		p.Log.Warnf("Failed to process %s: %v", event.GetName(), err)
	}
	p.printFinalizedEvent(evRecord)

	p.historyLock.Lock()
	p.eventHistory = append(p.eventHistory, evRecord)
	if limit := p.config.EventHistoryLimit; limit > 0 && len(p.eventHistory) > limit {
		p.eventHistory = append([]*restapi.EventRecord{}, p.eventHistory[len(p.eventHistory)-limit:]...)
	}
	p.historyLock.Unlock()

	event.Done(err)
	return err
}

// getEventHistory returns the records of events processed in the given
// time window.
func (p *Plugin) getEventHistory(since, until time.Time) []*restapi.EventRecord {
	var history []*restapi.EventRecord
	for _, evRecord := range p.eventHistory {
		if !since.IsZero() && evRecord.ProcessingEnd.Before(since) {
			continue
		}
		if !until.IsZero() && evRecord.ProcessingStart.After(until) {
			continue
		}
		history = append(history, evRecord)
	}
	return history
}

// getGID returns the ID of the current goroutine.
func getGID() string {
	goroutineLabel := []byte("goroutine ")
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	if !bytes.HasPrefix(b, goroutineLabel) {
		return "unknown"
	}
	b = bytes.TrimPrefix(b, goroutineLabel)
	b = b[:bytes.IndexByte(b, ' ')]
	return string(b)
}
