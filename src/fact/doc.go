// Package fact defines the immutable, content-addressed statements that
// factsync stores and synchronizes.
//
// A Fact asserts that an author, working on a device, set a property of an
// entity to a value at a point in time. Its hash is computed over a canonical
// serialization of those fields, so two devices that independently create the
// same statement produce the same hash and the stores collapse them into one.
//
// A Record pairs a Fact with the hashes of the facts it obsoletes. The edges
// are not part of the hash: they belong to the record that introduces the fact
// and are fixed when the fact is first appended.
package fact
