// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import "testing"

func TestDedupCacheFirstSeenIsFalse(t *testing.T) {
	c := newDedupCache(10)
	if c.seen(dedupKey{sensorID: "s1", flowID: "f1", tEndUnix: 100}) {
		t.Fatal("first observation reported as already seen")
	}
}

func TestDedupCacheRepeatIsTrue(t *testing.T) {
	c := newDedupCache(10)
	key := dedupKey{sensorID: "s1", flowID: "f1", tEndUnix: 100}
	c.seen(key)
	if !c.seen(key) {
		t.Fatal("repeated observation not detected as duplicate")
	}
}

func TestDedupCacheDistinguishesBySensorAndFlow(t *testing.T) {
	c := newDedupCache(10)
	c.seen(dedupKey{sensorID: "s1", flowID: "f1", tEndUnix: 100})
	if c.seen(dedupKey{sensorID: "s2", flowID: "f1", tEndUnix: 100}) {
		t.Fatal("different sensor ID treated as duplicate")
	}
	if c.seen(dedupKey{sensorID: "s1", flowID: "f2", tEndUnix: 100}) {
		t.Fatal("different flow ID treated as duplicate")
	}
}

func TestDedupCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newDedupCache(2)
	c.seen(dedupKey{sensorID: "s", flowID: "a", tEndUnix: 1})
	c.seen(dedupKey{sensorID: "s", flowID: "b", tEndUnix: 1})
	c.seen(dedupKey{sensorID: "s", flowID: "c", tEndUnix: 1}) // evicts "a"

	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}
	if c.seen(dedupKey{sensorID: "s", flowID: "a", tEndUnix: 1}) {
		t.Fatal("evicted key still reported as seen")
	}
}

func TestDedupCacheRecencyProtectsFromEviction(t *testing.T) {
	c := newDedupCache(2)
	a := dedupKey{sensorID: "s", flowID: "a", tEndUnix: 1}
	b := dedupKey{sensorID: "s", flowID: "b", tEndUnix: 1}
	c.seen(a)
	c.seen(b)
	c.seen(a) // touch a, making b the LRU entry
	c.seen(dedupKey{sensorID: "s", flowID: "c", tEndUnix: 1})

	if !c.seen(a) {
		t.Fatal("recently touched key was evicted")
	}
}

func TestNewDedupCacheDefaultsCapacity(t *testing.T) {
	c := newDedupCache(0)
	if c.capacity != 100_000 {
		t.Fatalf("capacity = %d, want default 100000", c.capacity)
	}
}
