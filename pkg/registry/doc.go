/*
Package registry holds the process-wide table of last snapshot indices.

Every Raft participant on this host has at most one entry, written only by
the snapshot manager that owns the participant and readable concurrently
from any goroutine. Observers such as the log-truncation path use it to
learn how far the log prefix is covered by a durable snapshot without
touching the disk.
*/
package registry
