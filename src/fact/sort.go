package fact

import (
	"sort"
)

// SortRecords orders records so that every record comes after the records it
// obsoletes, when those are part of the same slice. Records with no ordering
// constraint between them are sorted by hash, which makes the result
// deterministic. References to hashes outside the slice are ignored. Duplicate
// records (same fact hash) are kept once. If the edges contain a cycle the
// records involved are appended last, in hash order, and the store will
// reject them.
func SortRecords(records []Record) []Record {
	byHash := make(map[string]Record, len(records))
	for _, r := range records {
		if _, ok := byHash[r.Fact.Hash]; !ok {
			byHash[r.Fact.Hash] = r
		}
	}

	// indegree counts the unresolved in-batch dependencies of each record.
	indegree := make(map[string]int, len(byHash))
	dependents := make(map[string][]string)
	for h, r := range byHash {
		indegree[h] += 0
		for _, o := range NormalizeHashes(r.Obsoletes) {
			if _, ok := byHash[o]; !ok || o == h {
				continue
			}
			indegree[h]++
			dependents[o] = append(dependents[o], h)
		}
	}

	ready := make([]string, 0, len(byHash))
	for h, d := range indegree {
		if d == 0 {
			ready = append(ready, h)
		}
	}
	sort.Strings(ready)

	res := make([]Record, 0, len(byHash))
	done := make(map[string]bool, len(byHash))
	for len(ready) > 0 {
		h := ready[0]
		ready = ready[1:]
		res = append(res, byHash[h])
		done[h] = true

		var next []string
		for _, d := range dependents[h] {
			indegree[d]--
			if indegree[d] == 0 {
				next = append(next, d)
			}
		}
		if len(next) > 0 {
			ready = append(ready, next...)
			sort.Strings(ready)
		}
	}

	if len(res) < len(byHash) {
		var rest []string
		for h := range byHash {
			if !done[h] {
				rest = append(rest, h)
			}
		}
		sort.Strings(rest)
		for _, h := range rest {
			res = append(res, byHash[h])
		}
	}

	return res
}

// Hashes returns the fact hashes of records, in order.
func Hashes(records []Record) []string {
	res := make([]string, len(records))
	for i, r := range records {
		res[i] = r.Fact.Hash
	}
	return res
}
