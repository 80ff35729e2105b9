package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/merkle"
)

const (
	INMEM = iota
	TCP
	numTestTransports // NOTE: must be last
)

func NewTestTransport(ttype int, addr string, t *testing.T) Transport {
	switch ttype {
	case INMEM:
		_, it := NewInmemTransport(addr, time.Second)
		return it
	case TCP:
		tt, err := NewTCPTransport(addr, "", 2, time.Second, common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}
		go tt.Listen()
		return tt
	default:
		panic("Unknown transport type")
	}
}

// connect wires two transports together and returns the address trans2 must
// dial to reach trans1.
func connect(ttype int, trans1, trans2 Transport) string {
	if ttype == INMEM {
		trans1.(*InmemTransport).Connect(trans2.LocalAddr(), trans2)
		trans2.(*InmemTransport).Connect(trans1.LocalAddr(), trans1)
	}
	return trans1.LocalAddr()
}

func serveOnce(t *testing.T, rpcCh <-chan RPC, check func(cmd interface{}) (interface{}, error)) {
	go func() {
		select {
		case rpc := <-rpcCh:
			rpc.Respond(check(rpc.Command))
		case <-time.After(2 * time.Second):
			t.Errorf("timeout")
		}
	}()
}

func testRecord(t *testing.T) fact.Record {
	f, err := fact.NewFact("Davenport123", "printer_ip", "10.0.0.5", fact.NewMeta("annette", "dev1", time.Unix(1700000000, 0)))
	require.NoError(t, err)
	prev, err := fact.NewFact("Davenport123", "printer_ip", "10.0.0.4", fact.NewMeta("annette", "dev1", time.Unix(1600000000, 0)))
	require.NoError(t, err)
	return fact.NewRecord(f, []string{prev.Hash})
}

func TestTransport_StartStop(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := NewTestTransport(ttype, "127.0.0.1:0", t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_Tree(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()

		target := connect(ttype, trans1, trans2)

		h := testRecord(t).Fact.Hash
		args := TreeRequest{
			FromID:   "dev2",
			Level:    1,
			Prefixes: []string{""},
		}
		resp := TreeResponse{
			FromID: "dev1",
			Root:   merkle.Node{Prefix: "", Hash: h, Leaf: true, Count: 1},
			Children: map[string][]merkle.Node{
				"": {{Prefix: h[:1], Hash: h, Leaf: true, Count: 1}},
			},
		}

		serveOnce(t, trans1.Consumer(), func(cmd interface{}) (interface{}, error) {
			req, ok := cmd.(*TreeRequest)
			if !ok {
				t.Errorf("unexpected command %T", cmd)
				return nil, nil
			}
			assert.Equal(t, args, *req)
			return &resp, nil
		})

		var out TreeResponse
		require.NoError(t, trans2.Tree(target, &args, &out))
		assert.Equal(t, resp, out)
	}
}

func TestTransport_FetchPush(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()

		target := connect(ttype, trans1, trans2)
		rec := testRecord(t)

		serveOnce(t, trans1.Consumer(), func(cmd interface{}) (interface{}, error) {
			req := cmd.(*FetchRequest)
			assert.Equal(t, []string{rec.Fact.Hash}, req.Hashes)
			return &FetchResponse{FromID: "dev1", Records: []fact.Record{rec}}, nil
		})

		var fetched FetchResponse
		require.NoError(t, trans2.Fetch(target, &FetchRequest{FromID: "dev2", Hashes: []string{rec.Fact.Hash}}, &fetched))
		require.Len(t, fetched.Records, 1)
		got := fetched.Records[0]
		assert.Equal(t, rec.Fact, got.Fact)
		assert.Equal(t, rec.Obsoletes, got.Obsoletes)
		assert.NoError(t, got.Fact.Verify())

		serveOnce(t, trans1.Consumer(), func(cmd interface{}) (interface{}, error) {
			req := cmd.(*PushRequest)
			assert.Len(t, req.Records, 1)
			return &PushResponse{FromID: "dev1", Success: true, Applied: 1}, nil
		})

		var pushed PushResponse
		require.NoError(t, trans2.Push(target, &PushRequest{FromID: "dev2", Records: []fact.Record{rec}}, &pushed))
		assert.Equal(t, PushResponse{FromID: "dev1", Success: true, Applied: 1}, pushed)
	}
}

func TestTransport_ErrorResponse(t *testing.T) {
	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans1 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans1.Close()
		trans2 := NewTestTransport(ttype, "127.0.0.1:0", t)
		defer trans2.Close()

		target := connect(ttype, trans1, trans2)

		serveOnce(t, trans1.Consumer(), func(cmd interface{}) (interface{}, error) {
			return &PushResponse{FromID: "dev1"}, common.NewStoreErr("Fact", common.UnknownReference, "abc")
		})

		var out PushResponse
		err := trans2.Push(target, &PushRequest{FromID: "dev2"}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown Reference")
	}
}

func TestInmemTransport_Unconnected(t *testing.T) {
	_, trans := NewInmemTransport("", 10*time.Millisecond)
	var out TreeResponse
	assert.Error(t, trans.Tree("nowhere", &TreeRequest{}, &out))
}

func TestInmemTransport_Timeout(t *testing.T) {
	addr1, trans1 := NewInmemTransport("", 20*time.Millisecond)
	_, trans2 := NewInmemTransport("", 20*time.Millisecond)
	trans2.Connect(addr1, trans1)

	// nobody consumes trans1
	var out TreeResponse
	err := trans2.Tree(addr1, &TreeRequest{}, &out)
	assert.Error(t, err)
}

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", 1, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "127.0.0.1:12345", 1, 0, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()
	if trans.AdvertiseAddr() != "127.0.0.1:12345" {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}

func TestTCPTransport_Shutdown(t *testing.T) {
	trans := NewTestTransport(TCP, "127.0.0.1:0", t).(*NetworkTransport)
	require.NoError(t, trans.Close())
	assert.True(t, trans.IsShutdown())

	var out TreeResponse
	assert.Equal(t, ErrTransportShutdown, trans.Tree("127.0.0.1:1", &TreeRequest{}, &out))
}
