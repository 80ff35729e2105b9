// Package merkle implements the hash tree used to compare the fact sets of two
// devices.
//
// The tree is a trie over the hex digits of fact hashes: the node at prefix p
// covers every fact whose hash starts with p and has up to 16 children, one per
// next digit. A node that covers a single fact collapses to that fact's hash;
// any other node hashes the sorted hashes of its children. The shape therefore
// depends only on the set of facts, never on the order in which they were
// inserted, and two trees can be compared prefix by prefix.
//
// A Differ walks a local tree against the summaries a remote peer returns for
// one level at a time. Subtrees with equal hashes are pruned; only mismatched
// prefixes are expanded. Because fact hashes are uniformly distributed the
// trie is balanced and the walk takes O(log16 N) rounds.
package merkle
