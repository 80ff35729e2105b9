package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/config"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/node"
	"github.com/shoplane/factsync/src/service"
)

// execute runs a fresh command tree against datadir with the sqlite store.
func execute(t *testing.T, datadir string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--datadir", datadir, "--store", "sqlite", "--log", "error"))

	err := cmd.Execute()
	return out.String(), err
}

func executeJSON(t *testing.T, datadir string, v interface{}, args ...string) {
	t.Helper()

	out, err := execute(t, datadir, append(args, "-o", "json")...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestAssertGetHistory(t *testing.T) {
	dir := t.TempDir()

	var first []fact.Record
	executeJSON(t, dir, &first, "assert", "sku-1", "price", "10", "--author", "alice")
	require.Len(t, first, 1)
	assert.Equal(t, "10", first[0].Fact.Value)
	assert.Equal(t, "alice", first[0].Fact.Meta.Author)
	assert.Empty(t, first[0].Obsoletes)

	var second []fact.Record
	executeJSON(t, dir, &second, "assert", "sku-1", "price", "12", "--author", "alice")
	require.Len(t, second, 1)
	assert.Equal(t, []string{first[0].Fact.Hash}, second[0].Obsoletes)

	var prop service.PropertyView
	executeJSON(t, dir, &prop, "get", "sku-1", "price")
	assert.Equal(t, "Good", prop.State)
	assert.Equal(t, "12", prop.Value)

	var entity service.EntityView
	executeJSON(t, dir, &entity, "get", "sku-1")
	require.Len(t, entity.Properties, 1)
	assert.Equal(t, "price", entity.Properties[0].Property)

	var history []fact.Fact
	executeJSON(t, dir, &history, "history", "sku-1", "price")
	require.Len(t, history, 2)
	assert.Equal(t, "10", history[0].Value)
	assert.Equal(t, "12", history[1].Value)

	if _, err := execute(t, dir, "resolve", "sku-1", "price", "11"); err == nil {
		t.Fatal("resolve should fail without a conflict")
	} else {
		assert.ErrorIs(t, err, node.ErrNoConflict)
	}

	out, err := execute(t, dir, "get", "sku-1", "price")
	require.NoError(t, err)
	assert.Contains(t, out, `sku-1/price Good "12"`)
}

func TestSnapshotAndRestore(t *testing.T) {
	dir := t.TempDir()

	var first []fact.Record
	executeJSON(t, dir, &first, "assert", "sku-1", "price", "10")
	var named []fact.Record
	executeJSON(t, dir, &named, "assert", "sku-1", "name", "Tea")
	var second []fact.Record
	executeJSON(t, dir, &second, "assert", "sku-1", "price", "12")

	asOf := strconv.FormatInt(named[0].Fact.Meta.Timestamp, 10)

	var snap service.EntityView
	executeJSON(t, dir, &snap, "snapshot", "sku-1", "--as-of", asOf)
	require.NotNil(t, snap.AsOf)
	require.Len(t, snap.Properties, 2)
	assert.Equal(t, "name", snap.Properties[0].Property)
	assert.Equal(t, "price", snap.Properties[1].Property)
	assert.Equal(t, "10", snap.Properties[1].Value)

	if _, err := execute(t, dir, "snapshot", "sku-1"); err == nil {
		t.Fatal("snapshot without --as-of should fail")
	}

	var restored []fact.Record
	executeJSON(t, dir, &restored, "restore", "sku-1", "--as-of", asOf, "--author", "manager")
	require.Len(t, restored, 1)
	assert.Equal(t, "price", restored[0].Fact.Property)
	assert.Equal(t, "10", restored[0].Fact.Value)
	assert.Equal(t, "manager", restored[0].Fact.Meta.Author)
	assert.Equal(t, []string{second[0].Fact.Hash}, restored[0].Obsoletes)

	out, err := execute(t, dir, "restore", "sku-1", "price", "--as-of", asOf)
	require.NoError(t, err)
	assert.Equal(t, node.ErrNothingToRestore.Error()+"\n", out)

	var prop service.PropertyView
	executeJSON(t, dir, &prop, "get", "sku-1", "price")
	assert.Equal(t, "10", prop.Value)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	toml := []byte("author = \"carol\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "factsync.toml"), toml, 0600))

	var recs []fact.Record
	executeJSON(t, dir, &recs, "assert", "sku-1", "price", "10")
	require.Len(t, recs, 1)
	assert.Equal(t, "carol", recs[0].Fact.Meta.Author)

	// Flags win over the file.
	executeJSON(t, dir, &recs, "assert", "sku-1", "price", "11", "--author", "dave")
	require.Len(t, recs, 1)
	assert.Equal(t, "dave", recs[0].Fact.Meta.Author)
}

func TestInvalidConfig(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"get", "sku-1", "--datadir", t.TempDir(), "--store", "postgres"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected a validation error for the store")
	}
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, config.DefaultKeyfile))
	assert.Contains(t, out, "Device ID: ")

	pub, err := os.ReadFile(filepath.Join(dir, config.DefaultPubKeyfile))
	require.NoError(t, err)
	assert.Contains(t, string(pub), "0X")

	if _, err := execute(t, dir, "keygen"); err == nil {
		t.Fatal("keygen should not overwrite an existing key")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "factsync ")
}
