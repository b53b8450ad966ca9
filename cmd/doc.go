// Package cmd implements the command-line interface for the ember embedded
// object store. It provides a small command structure for inspecting and
// exercising a database file.
//
// The package is organized into several subpackages:
//
//   - watch: Watches a table and prints delivered change sets
//   - perf: Write/query/async workload with timer statistics
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ember -help for a list of all commands.
package cmd
