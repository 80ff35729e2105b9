package merkle

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/crypto"
)

const (
	// Fanout is the number of children of an interior node.
	Fanout = 16

	hashDomain = "factsync.tree.v1"
	hexDigits  = "0123456789abcdef"
)

// Node summarizes the facts under a prefix. An empty Hash means there are
// none. When Leaf is set the prefix covers exactly one fact and Hash is that
// fact's hash.
type Node struct {
	Prefix string `json:"prefix"`
	Hash   string `json:"hash"`
	Leaf   bool   `json:"leaf"`
	Count  int    `json:"count"`
}

// Empty reports whether the node covers no fact.
func (n Node) Empty() bool {
	return n.Hash == ""
}

type trieNode struct {
	hash     string
	count    int
	leaf     string
	children [Fanout]*trieNode
}

func newLeaf(h string) *trieNode {
	return &trieNode{hash: h, count: 1, leaf: h}
}

func (n *trieNode) isLeaf() bool {
	return n.count == 1
}

func (n *trieNode) rehash() {
	hashes := make([]string, 0, Fanout)
	for _, c := range n.children {
		if c != nil {
			hashes = append(hashes, c.hash)
		}
	}
	sort.Strings(hashes)

	parts := make([][]byte, len(hashes))
	for i, h := range hashes {
		parts[i] = []byte(h)
	}
	n.hash = common.EncodeHash(crypto.DomainHashConcat(hashDomain, parts...))
}

func (n *trieNode) clone() *trieNode {
	if n == nil {
		return nil
	}
	cp := &trieNode{hash: n.hash, count: n.count, leaf: n.leaf}
	for i, c := range n.children {
		cp.children[i] = c.clone()
	}
	return cp
}

// Tree is the hash tree over a set of fact hashes. It is safe for concurrent
// use.
type Tree struct {
	sync.RWMutex
	root *trieNode
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Build returns the tree of a set of fact hashes. Duplicates are ignored and
// the order of hashes does not matter.
func Build(hashes []string) (*Tree, error) {
	t := NewTree()
	for _, h := range hashes {
		if _, err := t.Insert(h); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Insert adds a fact hash and updates the hashes along its path. It returns
// false if the hash was already present.
func (t *Tree) Insert(h string) (bool, error) {
	if !common.ValidHash(h) {
		return false, fmt.Errorf("not a fact hash: %q", h)
	}

	t.Lock()
	defer t.Unlock()

	if t.root == nil {
		t.root = newLeaf(h)
		return true, nil
	}
	return insert(t.root, h, 0), nil
}

func insert(n *trieNode, h string, depth int) bool {
	if n.isLeaf() {
		if n.leaf == h {
			return false
		}
		old := n.leaf
		n.leaf = ""
		n.children[nibble(old, depth)] = newLeaf(old)
	}

	i := nibble(h, depth)
	if c := n.children[i]; c == nil {
		n.children[i] = newLeaf(h)
	} else if !insert(c, h, depth+1) {
		return false
	}

	n.count++
	n.rehash()
	return true
}

// Contains reports whether h is in the tree.
func (t *Tree) Contains(h string) bool {
	t.RLock()
	defer t.RUnlock()

	n := t.find(h)
	return n != nil && n.isLeaf() && n.leaf == h
}

// Len returns the number of facts in the tree.
func (t *Tree) Len() int {
	t.RLock()
	defer t.RUnlock()

	if t.root == nil {
		return 0
	}
	return t.root.count
}

// TopHash returns the root hash, or "" for an empty tree.
func (t *Tree) TopHash() string {
	t.RLock()
	defer t.RUnlock()

	if t.root == nil {
		return ""
	}
	return t.root.hash
}

// Root returns the summary of the whole tree.
func (t *Tree) Root() Node {
	return t.Node("")
}

// Node returns the summary of the facts under prefix.
func (t *Tree) Node(prefix string) Node {
	t.RLock()
	defer t.RUnlock()

	return summary(t.find(prefix), prefix)
}

// Children returns the non-empty children of prefix, ordered by prefix.
func (t *Tree) Children(prefix string) []Node {
	t.RLock()
	defer t.RUnlock()

	return t.children(prefix)
}

// ChildrenBatch returns the children of several prefixes at once. This is what
// a peer serves for one round of a diff.
func (t *Tree) ChildrenBatch(prefixes []string) (map[string][]Node, error) {
	t.RLock()
	defer t.RUnlock()

	res := make(map[string][]Node, len(prefixes))
	for _, p := range prefixes {
		if !validPrefix(p) || len(p) >= common.HashLen {
			return nil, fmt.Errorf("invalid tree prefix %q", p)
		}
		res[p] = t.children(p)
	}
	return res, nil
}

func (t *Tree) children(prefix string) []Node {
	n := t.find(prefix)
	if n == nil || len(prefix) >= common.HashLen {
		return []Node{}
	}

	if n.isLeaf() {
		p := n.leaf[:len(prefix)+1]
		return []Node{summary(n, p)}
	}

	res := make([]Node, 0, Fanout)
	for i, c := range n.children {
		if c != nil {
			res = append(res, summary(c, prefix+string(hexDigits[i])))
		}
	}
	return res
}

// Leaves returns the sorted fact hashes under prefix.
func (t *Tree) Leaves(prefix string) []string {
	t.RLock()
	defer t.RUnlock()

	res := []string{}
	collect(t.find(prefix), &res)
	sort.Strings(res)
	return res
}

// Hashes returns every fact hash in the tree, sorted.
func (t *Tree) Hashes() []string {
	return t.Leaves("")
}

// Nodes returns the summaries of every node of the tree in breadth-first
// order. Two trees over the same set produce identical output.
func (t *Tree) Nodes() []Node {
	t.RLock()
	defer t.RUnlock()

	var res []Node
	if t.root == nil {
		return res
	}

	type item struct {
		n      *trieNode
		prefix string
	}
	queue := []item{{t.root, ""}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		res = append(res, summary(it.n, it.prefix))
		if it.n.isLeaf() {
			continue
		}
		for i, c := range it.n.children {
			if c != nil {
				queue = append(queue, item{c, it.prefix + string(hexDigits[i])})
			}
		}
	}
	return res
}

// Depth returns the number of levels of the tree.
func (t *Tree) Depth() int {
	t.RLock()
	defer t.RUnlock()
	return depth(t.root)
}

// Clone returns an independent copy of the tree.
func (t *Tree) Clone() *Tree {
	t.RLock()
	defer t.RUnlock()
	return &Tree{root: t.root.clone()}
}

// find returns the node covering prefix, which may be a leaf sitting higher up
// whose fact has the prefix, or nil.
func (t *Tree) find(prefix string) *trieNode {
	n := t.root
	for d := 0; d < len(prefix); d++ {
		if n == nil {
			return nil
		}
		if n.isLeaf() {
			if strings.HasPrefix(n.leaf, prefix) {
				return n
			}
			return nil
		}
		i := strings.IndexByte(hexDigits, prefix[d])
		if i < 0 {
			return nil
		}
		n = n.children[i]
	}
	return n
}

func summary(n *trieNode, prefix string) Node {
	if n == nil {
		return Node{Prefix: prefix}
	}
	return Node{
		Prefix: prefix,
		Hash:   n.hash,
		Leaf:   n.isLeaf(),
		Count:  n.count,
	}
}

func collect(n *trieNode, res *[]string) {
	if n == nil {
		return
	}
	if n.isLeaf() {
		*res = append(*res, n.leaf)
		return
	}
	for _, c := range n.children {
		collect(c, res)
	}
}

func depth(n *trieNode) int {
	if n == nil {
		return 0
	}
	max := 0
	for _, c := range n.children {
		if d := depth(c); d > max {
			max = d
		}
	}
	return max + 1
}

func nibble(h string, depth int) int {
	return strings.IndexByte(hexDigits, h[depth])
}

func validPrefix(p string) bool {
	for i := 0; i < len(p); i++ {
		if strings.IndexByte(hexDigits, p[i]) < 0 {
			return false
		}
	}
	return true
}
