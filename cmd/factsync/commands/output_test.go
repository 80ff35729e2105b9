package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/resolver"
	"github.com/shoplane/factsync/src/service"
)

var (
	t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	oldPrice = &fact.Fact{
		Hash:     "3f2a9c01deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		EntityID: "sku-1",
		Property: "price",
		Value:    "11",
		Meta:     fact.NewMeta("alice", "till-1", t0),
	}
	newPrice = &fact.Fact{
		Hash:     "8be0f4a2deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		EntityID: "sku-1",
		Property: "price",
		Value:    "12",
		Meta:     fact.NewMeta("bob", "till-2", t0.Add(5*time.Minute)),
	}
	name = &fact.Fact{
		Hash:     "11aa22bbdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		EntityID: "sku-1",
		Property: "name",
		Value:    "Tea",
		Meta:     fact.NewMeta("alice", "till-1", t0),
	}
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestEntityText(t *testing.T) {
	view := service.NewEntityView("sku-1", map[string]resolver.State{
		"name":  resolver.Classify([]*fact.Fact{name}),
		"price": resolver.Classify([]*fact.Fact{newPrice, oldPrice}),
		"stock": resolver.Classify(nil),
	})

	var buf bytes.Buffer
	require.NoError(t, writeEntityText(&buf, view))

	g := newGoldie(t)
	g.Assert(t, "entity_text", buf.Bytes())
}

func TestSnapshotText(t *testing.T) {
	view := service.NewEntityView("sku-1", map[string]resolver.State{
		"name":  resolver.Classify([]*fact.Fact{name}),
		"price": resolver.Classify([]*fact.Fact{oldPrice}),
	})
	asOf := t0.Add(2 * time.Minute)
	view.AsOf = &asOf

	var buf bytes.Buffer
	require.NoError(t, writeEntityText(&buf, view))

	g := newGoldie(t)
	g.Assert(t, "snapshot_text", buf.Bytes())
}

func TestPropertyText(t *testing.T) {
	view := service.NewPropertyView("price", resolver.Classify([]*fact.Fact{newPrice, oldPrice}))

	var buf bytes.Buffer
	require.NoError(t, writePropertyText(&buf, "sku-1", view))

	g := newGoldie(t)
	g.Assert(t, "property_text", buf.Bytes())
}

func TestHistoryText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFactsText(&buf, []fact.Fact{*oldPrice, *newPrice}))

	g := newGoldie(t)
	g.Assert(t, "history_text", buf.Bytes())
}

func TestRenderFormats(t *testing.T) {
	view := service.NewPropertyView("price", resolver.Classify([]*fact.Fact{oldPrice}))

	var js bytes.Buffer
	require.NoError(t, render(&js, outputJSON, view, nil))
	assert.Contains(t, js.String(), `"state": "Good"`)
	assert.Contains(t, js.String(), `"value": "11"`)

	var ym bytes.Buffer
	require.NoError(t, render(&ym, outputYAML, view, nil))

	var decoded struct {
		Property string `yaml:"property"`
		State    string `yaml:"state"`
		Facts    []struct {
			Hash string `yaml:"hash"`
			Meta struct {
				Author string `yaml:"author"`
			} `yaml:"meta"`
		} `yaml:"facts"`
	}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &decoded))
	assert.Equal(t, "price", decoded.Property)
	assert.Equal(t, "Good", decoded.State)
	require.Len(t, decoded.Facts, 1)
	assert.Equal(t, oldPrice.Hash, decoded.Facts[0].Hash)
	assert.Equal(t, "alice", decoded.Facts[0].Meta.Author)

	err := render(&bytes.Buffer{}, "xml", view, nil)
	if err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}
