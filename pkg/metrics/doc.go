// Package metrics defines Prometheus metrics for the ax CLI, covering device
// authorization requests, token polling, flow outcomes, and resource calls.
// A CLI run has no scrape endpoint, so the registry can be dumped to a node
// exporter textfile instead.
package metrics
