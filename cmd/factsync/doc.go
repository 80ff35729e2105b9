// Command factsync runs a device of the factsync network and reads or writes
// its facts from the command line.
//
//	factsync run --datadir ~/.factsync --moniker till-1
//	factsync assert sku-1 price 12.50
//	factsync get sku-1
//	factsync snapshot sku-1 --as-of 2024-03-01T10:00:00Z
//
// Every flag may also be set in <datadir>/factsync.toml.
package main
