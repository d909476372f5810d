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

package attrintern

import (
	"github.com/go-errors/errors"

	"github.com/contiv/bgpd/plugins/bgp/model"
)

// Handle is a counted reference to an interned attribute set.
// The zero Handle refers to nothing.
//
// Every Handle obtained from Intern or Ref must be handed back to Release
// exactly once. Handles are compared by identity: two handles obtained from
// the same table for equal content are always Same.
type Handle struct {
	e *entry
}

type entry struct {
	table *Table
	key   string
	attrs *model.PathAttributes
	refs  int
}

// IsNil returns true for the zero Handle.
func (h Handle) IsNil() bool {
	return h.e == nil
}

// Same returns true if both handles refer to the same interned set.
func (h Handle) Same(other Handle) bool {
	return h.e == other.e
}

// Attrs returns the interned attributes. The returned value is shared and
// must not be modified.
func (h Handle) Attrs() *model.PathAttributes {
	if h.e == nil {
		return nil
	}
	return h.e.attrs
}

// Table de-duplicates attribute sets by their semantic content
// (model.PathAttributes.Key) and counts references to them.
// Table is not safe for concurrent use, it is owned by the single event loop.
type Table struct {
	name    string
	entries map[string]*entry
}

// NewTable creates an empty intern table.
func NewTable(name string) *Table {
	return &Table{
		name:    name,
		entries: make(map[string]*entry),
	}
}

// Name returns the name the table was created with.
func (t *Table) Name() string {
	return t.name
}

// Intern returns a handle to the attribute set with the same content as
// <attrs>, creating it (refcount 1) if it does not exist yet, or
// incrementing the refcount of the existing one. The table keeps its own
// copy, the caller may reuse <attrs> afterwards.
func (t *Table) Intern(attrs *model.PathAttributes) Handle {
	if attrs == nil {
		panic(errors.Errorf("attrintern(%s): intern of nil attributes", t.name))
	}
	key := attrs.Key()
	if e, exists := t.entries[key]; exists {
		e.refs++
		return Handle{e: e}
	}
	e := &entry{
		table: t,
		key:   key,
		attrs: attrs.Clone(),
		refs:  1,
	}
	t.entries[key] = e
	return Handle{e: e}
}

// Ref takes another reference to an already interned set.
func (t *Table) Ref(h Handle) Handle {
	t.check(h, "ref")
	h.e.refs++
	return h
}

// Release drops one reference. When the count reaches zero the set is
// removed from the table. Releasing a handle whose count already dropped
// to zero is a programming error and panics.
func (t *Table) Release(h Handle) {
	t.check(h, "release")
	h.e.refs--
	if h.e.refs == 0 {
		delete(t.entries, h.e.key)
	}
}

// Lookup finds the interned set with the same content without taking
// a reference.
func (t *Table) Lookup(attrs *model.PathAttributes) (h Handle, found bool) {
	e, found := t.entries[attrs.Key()]
	if !found {
		return Handle{}, false
	}
	return Handle{e: e}, true
}

// Refcount returns the current number of references of the set.
func (t *Table) Refcount(h Handle) int {
	if h.e == nil || h.e.table != t {
		return 0
	}
	return h.e.refs
}

// Len returns the number of distinct attribute sets held by the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// TotalRefs returns the sum of all reference counts.
func (t *Table) TotalRefs() (total int) {
	for _, e := range t.entries {
		total += e.refs
	}
	return total
}

func (t *Table) check(h Handle, op string) {
	if h.e == nil {
		panic(errors.Errorf("attrintern(%s): %s of nil handle", t.name, op))
	}
	if h.e.table != t {
		panic(errors.Errorf("attrintern(%s): %s of handle owned by table %s", t.name, op, h.e.table.name))
	}
	if h.e.refs <= 0 {
		panic(errors.Errorf("attrintern(%s): %s with zero refcount (double release) for %s",
			t.name, op, h.e.attrs))
	}
}
