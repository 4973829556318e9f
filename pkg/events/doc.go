/*
Package events carries the messages that drive a participant's snapshot
lifecycle.

Three inbound events reach a participant's inbox: SnapshotWritten from a
background write worker, ChunkReceived from the transport during an inbound
snapshot transfer, and WorkerDown from the monitoring dispatcher. The inbox
gives every participant a single linearization point: all snapshot state
transitions are applied by the participant's own task as it drains the
queue, so no lock guards the manager's state.

Effects flow the other way. The manager emits effect descriptors (today
only MonitorWorker) instead of performing side effects itself, and the
Dispatcher realizes them. The split keeps the manager deterministic and
directly testable.
*/
package events
