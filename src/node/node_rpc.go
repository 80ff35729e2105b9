package node

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/net"
)

func (n *Node) processRPC(rpc net.RPC) {
	n.metrics.rpcs.WithLabelValues(rpc.Name()).Inc()

	switch cmd := rpc.Command.(type) {
	case *net.TreeRequest:
		n.processTreeRequest(rpc, cmd)
	case *net.FetchRequest:
		n.processFetchRequest(rpc, cmd)
	case *net.PushRequest:
		n.processPushRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processTreeRequest(rpc net.RPC, cmd *net.TreeRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id":  cmd.FromID,
		"level":    cmd.Level,
		"prefixes": len(cmd.Prefixes),
	}).Debug("process TreeRequest")

	resp := &net.TreeResponse{
		FromID:    n.id,
		SyncLimit: n.conf.SyncLimit,
	}

	tree := n.core.Tree()
	resp.Root = tree.Root()

	var err error
	if len(cmd.Prefixes) > 0 {
		if len(cmd.Prefixes) > n.conf.SyncLimit {
			err = fmt.Errorf("too many prefixes: %d > %d", len(cmd.Prefixes), n.conf.SyncLimit)
		} else {
			resp.Children, err = tree.ChildrenBatch(cmd.Prefixes)
		}
	}

	rpc.Respond(resp, err)
}

func (n *Node) processFetchRequest(rpc net.RPC, cmd *net.FetchRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"hashes":  len(cmd.Hashes),
	}).Debug("process FetchRequest")

	resp := &net.FetchResponse{
		FromID: n.id,
	}

	if len(cmd.Hashes) > n.conf.SyncLimit {
		rpc.Respond(resp, fmt.Errorf("too many hashes: %d > %d", len(cmd.Hashes), n.conf.SyncLimit))
		return
	}

	records, err := n.core.Records(cmd.Hashes)
	if err == nil {
		resp.Records = records
		n.metrics.records.WithLabelValues("served").Add(float64(len(records)))
	}

	rpc.Respond(resp, err)
}

func (n *Node) processPushRequest(rpc net.RPC, cmd *net.PushRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"records": len(cmd.Records),
	}).Debug("process PushRequest")

	resp := &net.PushResponse{
		FromID: n.id,
	}

	applied, deferred, err := n.core.ApplyFetched(cmd.Records)
	resp.Applied = applied
	n.metrics.records.WithLabelValues("received").Add(float64(applied))

	if err == nil && len(deferred) > 0 {
		err = common.NewStoreErr("Fact", common.UnknownReference, deferred[0].Hash())
	}

	if err != nil {
		n.logger.WithError(err).Debug("Applying pushed records")
	}

	resp.Success = err == nil
	rpc.Respond(resp, err)
}
