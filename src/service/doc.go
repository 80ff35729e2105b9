// Package service exposes a node over HTTP with JSON responses.
//
// The service is what a tablet UI calls: it reads the classified state of
// entities, including conflicts, lists history and past snapshots, and
// writes new facts through assert, resolve and restore. It also serves the
// node metrics in the Prometheus format on /metrics.
package service
