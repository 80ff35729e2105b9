// Package config defines the configuration of a factsync device.
//
// Whether factsync is started from Go code or from the command line, it uses
// the Config object defined here. Besides these options, factsync relies on a
// data directory, defined by Config.DataDir, where it keeps:
//
//	priv_key     // the device key (cf. factsync keygen).
//	facts_db/    // the badger database, when store = "badger".
//	facts.db     // the sqlite database, when store = "sqlite".
//	peers.json   // (optional) static peers for networks without broadcast.
//	factsync.toml // (optional) configuration file read by the CLI.
package config
