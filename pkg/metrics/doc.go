/*
Package metrics defines and exposes Prometheus metrics for ra.

Metrics are declared as package-level collectors and registered with the
default registry at init, following Prometheus client conventions. The
snapshot manager records write completions, write-worker deaths, accept
pipeline progress, and the per-participant last snapshot index; Serve
exposes them over HTTP for scraping.
*/
package metrics
