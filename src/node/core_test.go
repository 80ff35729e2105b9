package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/resolver"
	"github.com/shoplane/factsync/src/store"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func newTestCore(t *testing.T, device string) *Core {
	core, err := NewCore(device, store.NewInmemStore(), common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)
	return core
}

func assertValue(t *testing.T, c *Core, author, entity, prop, value string, minute int) *fact.Record {
	rec, err := c.Assert(entity, prop, value, fact.NewMeta(author, c.DeviceID(), at(minute)))
	require.NoError(t, err)
	return rec
}

func TestCoreAssertObsoletesCurrent(t *testing.T) {
	c := newTestCore(t, "dev-x")

	r1 := assertValue(t, c, "annette", "Davenport123", "printer_ip", "10.0.0.5", 1)
	assert.Empty(t, r1.Obsoletes)

	r2 := assertValue(t, c, "annette", "Davenport123", "printer_ip", "10.0.0.6", 2)
	assert.Equal(t, []string{r1.Hash()}, r2.Obsoletes)

	st, err := c.State("Davenport123", "printer_ip")
	require.NoError(t, err)
	assert.Equal(t, resolver.Good, st.Kind)
	v, _ := st.Value()
	assert.Equal(t, "10.0.0.6", v)

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Tree().Contains(r1.Hash()))
	assert.True(t, c.Tree().Contains(r2.Hash()))

	// The device is filled in when missing.
	r3, err := c.Assert("Davenport123", "lane", "3", fact.Meta{Author: "hans", Timestamp: at(3).UnixNano()})
	require.NoError(t, err)
	assert.Equal(t, "dev-x", r3.Fact.Meta.Device)

	_, err = c.Assert("", "lane", "3", c.Meta("hans"))
	assert.Error(t, err)
}

func TestCoreResolve(t *testing.T) {
	x := newTestCore(t, "dev-x")

	assertValue(t, x, "annette", "E1", "p", "a", 1)
	_, err := x.Resolve("E1", "p", "b", x.Meta("annette"))
	assert.ErrorIs(t, err, ErrNoConflict)

	_, err = x.Resolve("E2", "p", "b", x.Meta("annette"))
	assert.ErrorIs(t, err, ErrNoConflict)

	y := newTestCore(t, "dev-y")
	ry := assertValue(t, y, "hans", "E1", "p", "c", 2)
	_, _, err = x.ApplyFetched([]fact.Record{*ry})
	require.NoError(t, err)

	st, err := x.State("E1", "p")
	require.NoError(t, err)
	require.Equal(t, resolver.Conflict, st.Kind)

	res, err := x.Resolve("E1", "p", "b", fact.NewMeta("annette", "dev-x", at(3)))
	require.NoError(t, err)
	assert.ElementsMatch(t, st.Hashes(), res.Obsoletes)

	st, err = x.State("E1", "p")
	require.NoError(t, err)
	assert.Equal(t, resolver.Good, st.Kind)
	v, _ := st.Value()
	assert.Equal(t, "b", v)
}

func TestCoreApplyFetchedOrder(t *testing.T) {
	src := newTestCore(t, "dev-src")

	var records []fact.Record
	for i := 0; i < 6; i++ {
		records = append(records, *assertValue(t, src, "annette", "E", "p", fmt.Sprint(i), i+1))
	}

	// Reverse the chain so every record arrives before its dependency.
	reversed := make([]fact.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	dst := newTestCore(t, "dev-dst")
	applied, deferred, err := dst.ApplyFetched(reversed)
	require.NoError(t, err)
	assert.Empty(t, deferred)
	assert.Equal(t, 6, applied)
	assert.Equal(t, src.TopHash(), dst.TopHash())

	// Replaying is harmless.
	applied, deferred, err = dst.ApplyFetched(records)
	require.NoError(t, err)
	assert.Empty(t, deferred)
	assert.Equal(t, 0, applied)
}

func TestCoreApplyFetchedMissingDependency(t *testing.T) {
	src := newTestCore(t, "dev-src")
	r1 := assertValue(t, src, "annette", "E", "p", "1", 1)
	r2 := assertValue(t, src, "annette", "E", "p", "2", 2)
	r3 := assertValue(t, src, "annette", "F", "p", "3", 3)

	dst := newTestCore(t, "dev-dst")
	applied, deferred, err := dst.ApplyFetched([]fact.Record{*r2, *r3})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.Len(t, deferred, 1)
	assert.Equal(t, r2.Hash(), deferred[0].Hash())

	applied, deferred, err = dst.ApplyFetched(append(deferred, *r1))
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Empty(t, deferred)
}

func TestCoreApplyFetchedDuplicateHash(t *testing.T) {
	src := newTestCore(t, "dev-src")
	r1 := assertValue(t, src, "annette", "E", "p", "1", 1)
	r2 := assertValue(t, src, "annette", "E", "p", "2", 2)

	dst := newTestCore(t, "dev-dst")
	_, _, err := dst.ApplyFetched([]fact.Record{*r1, *r2})
	require.NoError(t, err)

	bad := *r2
	bad.Obsoletes = nil
	applied, _, err := dst.ApplyFetched([]fact.Record{bad})
	assert.Equal(t, 0, applied)
	assert.True(t, common.IsStore(err, common.DuplicateHash))
}

func TestCoreRecordsAndChanges(t *testing.T) {
	c := newTestCore(t, "dev-x")

	select {
	case <-c.Changes():
		t.Fatal("no change expected yet")
	default:
	}

	r1 := assertValue(t, c, "annette", "E", "p", "1", 1)
	r2 := assertValue(t, c, "annette", "E", "p", "2", 2)

	select {
	case <-c.Changes():
	default:
		t.Fatal("expected a change signal")
	}

	records, err := c.Records([]string{r2.Hash(), r1.Hash()})
	require.NoError(t, err)
	assert.Equal(t, []string{r1.Hash(), r2.Hash()}, fact.Hashes(records))

	_, err = c.Records([]string{"00"})
	assert.True(t, common.IsStore(err, common.KeyNotFound))
}

func TestCoreReload(t *testing.T) {
	s := store.NewInmemStore()
	c, err := NewCore("dev-x", s, common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)

	assertValue(t, c, "annette", "E", "p", "1", 1)
	assertValue(t, c, "annette", "E", "q", "2", 2)

	reloaded, err := NewCore("dev-x", s, common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)
	assert.Equal(t, c.TopHash(), reloaded.TopHash())
	assert.Equal(t, 2, reloaded.Len())

	entity, err := reloaded.Entity("E")
	require.NoError(t, err)
	assert.Len(t, entity, 2)
	assert.Equal(t, resolver.Good, entity["q"].Kind)
}
