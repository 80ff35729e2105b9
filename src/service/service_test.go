package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/crypto/keys"
	"github.com/shoplane/factsync/src/discovery"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/net"
	"github.com/shoplane/factsync/src/node"
	"github.com/shoplane/factsync/src/peers"
	"github.com/shoplane/factsync/src/store"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	conf := node.TestConfig(t)
	logger := common.NewTestEntry(t, common.TestLogLevel)

	core, err := node.NewCore(keys.DeviceID(&key.PublicKey), store.NewInmemStore(), logger)
	require.NoError(t, err)

	_, trans := net.NewInmemTransport("", 0)
	n := node.NewNode(conf, key, core, peers.NewPeerSet(nil), trans, discovery.NewInmemBus().Join())
	t.Cleanup(n.Shutdown)

	s := NewService("127.0.0.1:0", n, "annette", logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return s, srv
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAssertAndEntity(t *testing.T) {
	_, srv := newTestService(t)

	resp := post(t, srv, "/assert", WriteRequest{EntityID: "Davenport123", Property: "printer_ip", Value: "10.0.0.5"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rec fact.Record
	decode(t, resp, &rec)
	assert.Equal(t, "annette", rec.Fact.Meta.Author)
	assert.True(t, common.ValidHash(rec.Hash()))

	resp = post(t, srv, "/assert", WriteRequest{EntityID: "Davenport123", Property: "printer_ip", Value: "10.0.0.6", Author: "hans"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = get(t, srv, "/entity/Davenport123")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view EntityView
	decode(t, resp, &view)
	require.Len(t, view.Properties, 1)
	assert.Equal(t, "Good", view.Properties[0].State)
	assert.Equal(t, "10.0.0.6", view.Properties[0].Value)
	assert.Equal(t, "hans", view.Properties[0].Facts[0].Meta.Author)

	resp = get(t, srv, "/history/Davenport123/printer_ip")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []fact.Fact
	decode(t, resp, &hist)
	require.Len(t, hist, 2)
	assert.Equal(t, "10.0.0.5", hist[0].Value)

	resp = get(t, srv, "/history/Davenport123/printer_ip?as_of="+fmt.Sprint(hist[0].Meta.Timestamp))
	decode(t, resp, &hist)
	assert.Len(t, hist, 1)
}

func TestResolveConflict(t *testing.T) {
	s, srv := newTestService(t)

	resp := post(t, srv, "/resolve", WriteRequest{EntityID: "E", Property: "p", Value: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	post(t, srv, "/assert", WriteRequest{EntityID: "E", Property: "p", Value: "a"})

	other, err := fact.NewFact("E", "p", "b", fact.NewMeta("hans", "dev-y", time.Now().Add(-time.Minute)))
	require.NoError(t, err)
	_, _, err = s.node.Core().ApplyFetched([]fact.Record{fact.NewRecord(other, nil)})
	require.NoError(t, err)

	var view EntityView
	decode(t, get(t, srv, "/entity/E"), &view)
	require.Len(t, view.Properties, 1)
	assert.Equal(t, "Conflict", view.Properties[0].State)
	assert.Equal(t, []string{"a", "b"}, view.Properties[0].Values)
	assert.Len(t, view.Properties[0].Facts, 2)

	resp = post(t, srv, "/resolve", WriteRequest{EntityID: "E", Property: "p", Value: "c"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec fact.Record
	decode(t, resp, &rec)
	assert.Len(t, rec.Obsoletes, 2)

	decode(t, get(t, srv, "/entity/E"), &view)
	assert.Equal(t, "Good", view.Properties[0].State)
	assert.Equal(t, "c", view.Properties[0].Value)
}

func TestSnapshotAndRestore(t *testing.T) {
	s, srv := newTestService(t)
	core := s.node.Core()

	t0 := time.Now().Add(-time.Hour)
	_, err := core.Assert("L1", "printer_ip", "10.0.0.5", fact.NewMeta("annette", core.DeviceID(), t0))
	require.NoError(t, err)
	_, err = core.Assert("L1", "printer_ip", "10.0.0.9", fact.NewMeta("annette", core.DeviceID(), t0.Add(30*time.Minute)))
	require.NoError(t, err)

	asOf := t0.Add(time.Minute).UTC().Format(time.RFC3339Nano)

	var view EntityView
	decode(t, get(t, srv, "/snapshot/L1?as_of="+asOf), &view)
	require.Len(t, view.Properties, 1)
	assert.Equal(t, "10.0.0.5", view.Properties[0].Value)
	require.NotNil(t, view.AsOf)

	resp := post(t, srv, "/restore", RestoreRequest{EntityID: "L1", AsOf: asOf})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var records []fact.Record
	decode(t, resp, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "10.0.0.5", records[0].Fact.Value)

	resp = post(t, srv, "/restore", RestoreRequest{EntityID: "L1", Property: "printer_ip", AsOf: asOf})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv, "/restore", RestoreRequest{EntityID: "L1", AsOf: "yesterday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsTreeMetrics(t *testing.T) {
	_, srv := newTestService(t)
	post(t, srv, "/assert", WriteRequest{EntityID: "E", Property: "p", Value: "a"})

	var stats map[string]string
	decode(t, get(t, srv, "/stats"), &stats)
	assert.Equal(t, "1", stats["facts"])

	var tree TreeView
	decode(t, get(t, srv, "/tree"), &tree)
	assert.Equal(t, 1, tree.Facts)
	assert.Equal(t, stats["top_hash"], tree.TopHash)

	resp := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "factsync_store_facts"))
}

func TestBadRequests(t *testing.T) {
	_, srv := newTestService(t)

	resp := get(t, srv, "/assert")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = get(t, srv, "/entity/")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv, "/history/E")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "/assert", WriteRequest{EntityID: "E", Value: "a"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/assert", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseAsOf(t *testing.T) {
	ns, err := ParseAsOf("1700000000000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000000000), ns)

	ns, err = ParseAsOf("2026-03-14T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).UnixNano(), ns)

	before := time.Now().UnixNano()
	ns, err = ParseAsOf("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ns, before)

	_, err = ParseAsOf("noon")
	assert.Error(t, err)
}
