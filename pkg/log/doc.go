// Package log wraps zerolog with a single process-wide logger and a small
// set of context-logger helpers (WithComponent, WithRunID, WithNodeID)
// used throughout the runtime to keep log lines attributable to the
// component, run or node that produced them.
package log
