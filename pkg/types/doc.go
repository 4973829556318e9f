/*
Package types defines the core data structures shared across ra.

It contains the identifiers of the snapshot domain model: participant UIDs,
Raft log indices and terms, the (index, term) pair used to name a snapshot,
and the snapshot metadata triple. All other packages build on these.
*/
package types
