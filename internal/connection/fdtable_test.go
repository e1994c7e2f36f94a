// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import "testing"

func TestFDTableAttachLookupDetach(t *testing.T) {
	table := NewFDTable()
	if table.Lookup(5) != nil {
		t.Fatal("empty table should resolve nothing")
	}

	c := &Connection{fd: 5}
	table.Attach(5, c)
	if table.Lookup(5) != c {
		t.Fatal("Lookup did not return the attached connection")
	}

	table.Detach(5)
	if table.Lookup(5) != nil {
		t.Fatal("Lookup should return nil after Detach")
	}
}

func TestFDTableAttachOverwrites(t *testing.T) {
	table := NewFDTable()
	a := &Connection{fd: 7}
	b := &Connection{fd: 7}
	table.Attach(7, a)
	table.Attach(7, b)
	if table.Lookup(7) != b {
		t.Fatal("second Attach on the same fd should win")
	}
}
