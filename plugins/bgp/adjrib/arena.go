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

package adjrib

import (
	"github.com/go-errors/errors"

	"github.com/contiv/bgpd/plugins/bgp/attrintern"
)

// EntryID is a generational index of an advertisement entry inside the arena
// of its peer queue. The zero EntryID refers to nothing.
type EntryID struct {
	idx uint32
	gen uint32
}

// IsNil returns true for the zero EntryID.
func (id EntryID) IsNil() bool {
	return id.gen == 0
}

// entry is a pending announcement or withdrawal of one destination to one peer.
type entry struct {
	adj   *AdjOut
	queue QueueKind
	// enqueue order within the peer queue
	seq uint64

	// post-policy attributes (nil handle for withdrawals and EOR)
	attrs attrintern.Handle
	group *AttributeGroup

	// peer FIFO links
	prev, next EntryID
	// attribute-group sibling links
	gprev, gnext EntryID
}

type slot struct {
	gen  uint32
	used bool
	e    entry
}

// arena stores entries in a slice; freed slots are reused with a bumped
// generation so that stale EntryIDs are detected.
type arena struct {
	slots []slot
	free  []uint32
	used  int
}

func (a *arena) alloc() EntryID {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	s.e = entry{}
	a.used++
	return EntryID{idx: idx, gen: s.gen}
}

func (a *arena) get(id EntryID) *entry {
	if id.IsNil() || int(id.idx) >= len(a.slots) {
		panic(errors.Errorf("adjrib: invalid entry id %+v", id))
	}
	s := &a.slots[id.idx]
	if !s.used || s.gen != id.gen {
		panic(errors.Errorf("adjrib: stale entry id %+v (slot generation %d)", id, s.gen))
	}
	return &s.e
}

func (a *arena) release(id EntryID) {
	a.get(id)
	s := &a.slots[id.idx]
	s.used = false
	s.e = entry{}
	a.free = append(a.free, id.idx)
	a.used--
}

// list is an ordered sequence of entries linked through the arena.
// The sibling flag selects which pair of links (peer FIFO or group) is used.
type list struct {
	head, tail EntryID
	len        int
	sibling    bool
}

func (l *list) links(a *arena, id EntryID) (prev, next *EntryID) {
	e := a.get(id)
	if l.sibling {
		return &e.gprev, &e.gnext
	}
	return &e.prev, &e.next
}

func (l *list) pushBack(a *arena, id EntryID) {
	prev, next := l.links(a, id)
	*prev, *next = l.tail, EntryID{}
	if l.tail.IsNil() {
		l.head = id
	} else {
		_, tailNext := l.links(a, l.tail)
		*tailNext = id
	}
	l.tail = id
	l.len++
}

func (l *list) remove(a *arena, id EntryID) {
	prev, next := l.links(a, id)
	if prev.IsNil() {
		l.head = *next
	} else {
		_, prevNext := l.links(a, *prev)
		*prevNext = *next
	}
	if next.IsNil() {
		l.tail = *prev
	} else {
		nextPrev, _ := l.links(a, *next)
		*nextPrev = *prev
	}
	*prev, *next = EntryID{}, EntryID{}
	l.len--
}

func (l *list) nextOf(a *arena, id EntryID) EntryID {
	_, next := l.links(a, id)
	return *next
}

func (l *list) ids(a *arena) (ids []EntryID) {
	for id := l.head; !id.IsNil(); id = l.nextOf(a, id) {
		ids = append(ids, id)
	}
	return ids
}
