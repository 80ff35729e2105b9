package merkle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shoplane/factsync/src/common"
)

// DiffResult is the outcome of comparing two trees.
type DiffResult struct {
	// Matching holds the hashes of the subtrees found identical on both
	// sides, at the level where they were pruned.
	Matching []string `json:"matching"`
	// ToFetch holds the facts only the remote side has.
	ToFetch []string `json:"to_fetch"`
	// ToSend holds the facts only the local side has.
	ToSend []string `json:"to_send"`
}

// InSync reports whether the trees hold the same facts.
func (r DiffResult) InSync() bool {
	return len(r.ToFetch) == 0 && len(r.ToSend) == 0
}

// Remote is the view of a peer's tree used by Diff.
type Remote interface {
	// Root returns the summary of the remote tree.
	Root(ctx context.Context) (Node, error)
	// Children returns the remote children of every prefix, keyed by prefix.
	Children(ctx context.Context, level int, prefixes []string) (map[string][]Node, error)
}

// Differ compares a local tree with a remote one, one level per Step.
type Differ struct {
	local   *Tree
	pending []string
	level   int

	matching []string
	toFetch  map[string]bool
	toSend   map[string]bool
}

// NewDiffer starts a comparison of local with a remote tree whose root summary
// is remoteRoot.
func NewDiffer(local *Tree, remoteRoot Node) *Differ {
	d := &Differ{
		local:   local,
		toFetch: make(map[string]bool),
		toSend:  make(map[string]bool),
	}
	d.compare(local.Root(), remoteRoot)
	return d
}

// Pending returns the prefixes whose remote children are needed for the next
// Step. An empty result means the comparison is complete.
func (d *Differ) Pending() []string {
	return d.pending
}

// Level is the depth of the children requested by the next Step.
func (d *Differ) Level() int {
	return d.level + 1
}

// Done reports whether nothing is left to expand.
func (d *Differ) Done() bool {
	return len(d.pending) == 0
}

// Step consumes the remote children of every pending prefix and computes the
// prefixes to expand next.
func (d *Differ) Step(remote map[string][]Node) error {
	expand := d.pending
	d.pending = nil
	d.level++

	for _, p := range expand {
		rc, ok := remote[p]
		if !ok {
			return fmt.Errorf("remote did not return children of prefix %q", p)
		}

		remoteByPrefix := make(map[string]Node, len(rc))
		for _, n := range rc {
			if err := checkChild(p, n); err != nil {
				return err
			}
			remoteByPrefix[n.Prefix] = n
		}

		localByPrefix := make(map[string]Node)
		for _, n := range d.local.Children(p) {
			localByPrefix[n.Prefix] = n
		}

		for i := 0; i < Fanout; i++ {
			c := p + string(hexDigits[i])
			l, r := localByPrefix[c], remoteByPrefix[c]
			l.Prefix, r.Prefix = c, c
			d.compare(l, r)
		}
	}

	sort.Strings(d.pending)
	return nil
}

func (d *Differ) compare(local, remote Node) {
	switch {
	case local.Empty() && remote.Empty():
	case local.Hash == remote.Hash:
		d.matching = append(d.matching, local.Hash)
	case remote.Empty():
		for _, h := range d.local.Leaves(local.Prefix) {
			d.toSend[h] = true
		}
	case local.Empty() && remote.Leaf:
		d.toFetch[remote.Hash] = true
	case local.Leaf && remote.Leaf:
		d.toSend[local.Hash] = true
		d.toFetch[remote.Hash] = true
	default:
		d.pending = append(d.pending, local.Prefix)
	}
}

// Result returns the sets computed so far. It is final once Done.
func (d *Differ) Result() DiffResult {
	return DiffResult{
		Matching: append([]string{}, d.matching...),
		ToFetch:  sortedKeys(d.toFetch),
		ToSend:   sortedKeys(d.toSend),
	}
}

// Diff runs a complete comparison of local against remote and returns the
// result together with the number of request rounds it took, the root
// exchange included.
func Diff(ctx context.Context, local *Tree, remote Remote) (DiffResult, int, error) {
	root, err := remote.Root(ctx)
	if err != nil {
		return DiffResult{}, 1, err
	}
	if err := checkNode(root, ""); err != nil {
		return DiffResult{}, 1, err
	}

	rounds := 1
	d := NewDiffer(local, root)
	for !d.Done() {
		if err := ctx.Err(); err != nil {
			return d.Result(), rounds, err
		}
		if d.Level() > common.HashLen {
			return d.Result(), rounds, fmt.Errorf("tree diff exceeded %d levels", common.HashLen)
		}

		children, err := remote.Children(ctx, d.Level(), d.Pending())
		rounds++
		if err != nil {
			return d.Result(), rounds, err
		}
		if err := d.Step(children); err != nil {
			return d.Result(), rounds, err
		}
	}

	return d.Result(), rounds, nil
}

// LocalRemote serves a Tree through the Remote interface.
type LocalRemote struct {
	Tree *Tree
}

// Root implements Remote.
func (r LocalRemote) Root(ctx context.Context) (Node, error) {
	return r.Tree.Root(), nil
}

// Children implements Remote.
func (r LocalRemote) Children(ctx context.Context, level int, prefixes []string) (map[string][]Node, error) {
	return r.Tree.ChildrenBatch(prefixes)
}

func checkChild(parent string, n Node) error {
	if len(n.Prefix) != len(parent)+1 || !strings.HasPrefix(n.Prefix, parent) {
		return fmt.Errorf("remote node %q is not a child of %q", n.Prefix, parent)
	}
	return checkNode(n, n.Prefix)
}

func checkNode(n Node, prefix string) error {
	if n.Prefix != prefix || !validPrefix(n.Prefix) {
		return fmt.Errorf("unexpected remote node prefix %q", n.Prefix)
	}
	if n.Empty() {
		return nil
	}
	if !common.ValidHash(n.Hash) {
		return fmt.Errorf("remote node %q carries an invalid hash", n.Prefix)
	}
	if n.Leaf && !strings.HasPrefix(n.Hash, n.Prefix) {
		return fmt.Errorf("remote leaf %s does not match prefix %q", n.Hash, n.Prefix)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
