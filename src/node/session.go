package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/merkle"
	"github.com/shoplane/factsync/src/net"
)

// Session stages, as reported by SessionAbortedError.
const (
	RoundTree  = "tree"
	RoundFetch = "fetch"
	RoundPush  = "push"
)

// SessionAbortedError is returned when a sync session stops before
// completing. The facts applied before the failure stay valid, so the session
// can simply be retried.
type SessionAbortedError struct {
	Peer  string
	Round string
	Err   error
}

func (e *SessionAbortedError) Error() string {
	return fmt.Sprintf("session with %s aborted during %s: %v", e.Peer, e.Round, e.Err)
}

func (e *SessionAbortedError) Unwrap() error {
	return e.Err
}

// IsSessionAborted reports whether err is, or wraps, a SessionAbortedError.
func IsSessionAborted(err error) bool {
	var sae *SessionAbortedError
	return errors.As(err, &sae)
}

// SessionStats describes one sync session.
type SessionStats struct {
	ID       string        `json:"id"`
	Peer     string        `json:"peer"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Rounds   int           `json:"rounds"`
	Matching int           `json:"matching"`
	Fetched  int           `json:"fetched"`
	Applied  int           `json:"applied"`
	Sent     int           `json:"sent"`
	InSync   bool          `json:"in_sync"`
	Error    string        `json:"error,omitempty"`
}

// Session synchronizes the local fact set with one peer.
type Session struct {
	ID        string
	core      *Core
	trans     net.Transport
	selfID    string
	peerID    string
	target    string
	syncLimit int
	logger    *logrus.Entry
}

// NewSession prepares a session with the peer listening at target.
func NewSession(core *Core, trans net.Transport, selfID, peerID, target string, syncLimit int, logger *logrus.Entry) *Session {
	id := uuid.New().String()
	if syncLimit <= 0 {
		syncLimit = DefaultSyncLimit
	}
	return &Session{
		ID:        id,
		core:      core,
		trans:     trans,
		selfID:    selfID,
		peerID:    peerID,
		target:    target,
		syncLimit: syncLimit,
		logger: logger.WithFields(logrus.Fields{
			"session": id,
			"peer":    peerID,
		}),
	}
}

// Run performs the tree rounds, pulls the missing facts and pushes the facts
// the peer lacks. Transfers are cut into messages of at most syncLimit
// records, lowered to the peer's own limit when it is smaller. The context bounds the whole session; it is checked between
// requests.
func (s *Session) Run(ctx context.Context) (SessionStats, error) {
	stats := SessionStats{
		ID:      s.ID,
		Peer:    s.peerID,
		Started: time.Now(),
	}
	defer func() {
		stats.Duration = time.Since(stats.Started)
	}()

	local := s.core.Tree().Clone()

	remote := &transportRemote{
		trans:  s.trans,
		target: s.target,
		fromID: s.selfID,
		batch:  s.syncLimit,
	}

	diff, rounds, err := merkle.Diff(ctx, local, remote)
	stats.Rounds = rounds
	if err != nil {
		return stats, s.abort(RoundTree, err)
	}
	stats.Matching = len(diff.Matching)
	s.syncLimit = remote.batch

	s.logger.WithFields(logrus.Fields{
		"rounds":    rounds,
		"to_fetch":  len(diff.ToFetch),
		"to_send":   len(diff.ToSend),
		"local_top": local.TopHash(),
	}).Debug("Tree diff")

	if diff.InSync() {
		stats.InSync = true
		return stats, nil
	}

	fetched, applied, err := s.fetch(ctx, diff.ToFetch)
	stats.Fetched, stats.Applied = fetched, applied
	if err != nil {
		return stats, s.abort(RoundFetch, err)
	}

	sent, err := s.push(ctx, diff.ToSend)
	stats.Sent = sent
	if err != nil {
		return stats, s.abort(RoundPush, err)
	}

	stats.InSync = true
	return stats, nil
}

func (s *Session) abort(round string, err error) error {
	return &SessionAbortedError{
		Peer:  s.peerID,
		Round: round,
		Err:   err,
	}
}

func (s *Session) fetch(ctx context.Context, hashes []string) (fetched, applied int, err error) {
	var deferred []fact.Record

	for _, chunk := range chunk(hashes, s.syncLimit) {
		if err := ctx.Err(); err != nil {
			return fetched, applied, err
		}

		var resp net.FetchResponse
		if err := s.trans.Fetch(s.target, &net.FetchRequest{FromID: s.selfID, Hashes: chunk}, &resp); err != nil {
			return fetched, applied, err
		}
		fetched += len(resp.Records)

		n, left, err := s.core.ApplyFetched(append(deferred, resp.Records...))
		applied += n
		deferred = left
		if err != nil {
			return fetched, applied, err
		}
	}

	if len(deferred) > 0 {
		return fetched, applied, common.NewStoreErr("Fact", common.UnknownReference, deferred[0].Hash())
	}

	return fetched, applied, nil
}

func (s *Session) push(ctx context.Context, hashes []string) (int, error) {
	records, err := s.core.Records(hashes)
	if err != nil {
		return 0, err
	}

	sent := 0
	for start := 0; start < len(records); start += s.syncLimit {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		end := start + s.syncLimit
		if end > len(records) {
			end = len(records)
		}

		var resp net.PushResponse
		if err := s.trans.Push(s.target, &net.PushRequest{FromID: s.selfID, Records: records[start:end]}, &resp); err != nil {
			return sent, err
		}
		if !resp.Success {
			return sent, fmt.Errorf("peer refused %d records", end-start)
		}
		sent += end - start
	}

	return sent, nil
}

func chunk(hashes []string, size int) [][]string {
	var res [][]string
	for start := 0; start < len(hashes); start += size {
		end := start + size
		if end > len(hashes) {
			end = len(hashes)
		}
		res = append(res, hashes[start:end])
	}
	return res
}

// transportRemote presents a peer's tree to merkle.Diff through TreeRequests.
type transportRemote struct {
	trans  net.Transport
	target string
	fromID string
	batch  int
}

func (r *transportRemote) Root(ctx context.Context) (merkle.Node, error) {
	var resp net.TreeResponse
	if err := r.trans.Tree(r.target, &net.TreeRequest{FromID: r.fromID}, &resp); err != nil {
		return merkle.Node{}, err
	}
	if resp.SyncLimit > 0 && resp.SyncLimit < r.batch {
		r.batch = resp.SyncLimit
	}
	return resp.Root, nil
}

func (r *transportRemote) Children(ctx context.Context, level int, prefixes []string) (map[string][]merkle.Node, error) {
	res := make(map[string][]merkle.Node, len(prefixes))
	for _, c := range chunk(prefixes, r.batch) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var resp net.TreeResponse
		req := &net.TreeRequest{
			FromID:   r.fromID,
			Level:    level,
			Prefixes: c,
		}
		if err := r.trans.Tree(r.target, req, &resp); err != nil {
			return nil, err
		}
		for p, nodes := range resp.Children {
			res[p] = nodes
		}
	}
	return res, nil
}
