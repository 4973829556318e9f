/*
Package snapshot implements the snapshot lifecycle manager of a Raft
participant.

The manager is the authoritative source of truth for "what snapshot is
current" on this host. It coordinates four concerns:

  - persisting machine state to stable storage at a committed log index,
    off-loaded to a background write worker
  - receiving a snapshot from a peer leader in chunks, tolerating resends
    and rejecting gaps
  - recovering machine state from the youngest valid snapshot at startup,
    deleting everything else
  - publishing the participant's last snapshot index to the process-wide
    registry

# Lifecycle

	          ┌─────────────────────────────────────────────┐
	          │                  Manager                     │
	          │                                              │
	 BeginSnapshot ──► pending ──(SnapshotWritten)──► current
	          │           │                                  │
	          │           └──(WorkerDown)── partial removed  │
	          │                                              │
	 BeginAccept ──► accepting ──(final chunk)──────► current
	          │           │                                  │
	          │           └──(DiscardAccept)─ partial removed│
	          └─────────────────────────────────────────────┘

At most one of pending and accepting exists at any time. All state
transitions happen on the participant's own task as it drains its inbox;
the write worker communicates only by posting SnapshotWritten, and worker
termination reaches the manager as a WorkerDown event realized by the
events.Dispatcher from the MonitorWorker effect BeginSnapshot emits.

Snapshot directories are named <term>_<index> in zero-padded lowercase hex
so lexicographic order is log order; the startup scan walks them youngest
first and falls back past corrupt candidates, which by construction can
only be interrupted writes.
*/
package snapshot
