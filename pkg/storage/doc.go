/*
Package storage defines the snapshot backend strategy and its two
production implementations.

A Backend owns everything that touches bytes inside one snapshot directory:
capturing live machine state into an immutable reference, serializing it,
streaming it outward in chunks, reassembling an inbound transfer, and
reading it back. The snapshot manager never interprets snapshot contents;
it hands the backend a directory path and sequences the calls.

Two backends are provided:

  - FileBackend stores a meta header file next to a payload file with a
    CRC64 trailer. This is the default and the cheapest to stream.
  - BoltBackend stores payload and meta inside a single BoltDB database,
    staging inbound chunks in their own bucket until commit.

Both share one meta encoding, so a directory written by either is
recognizable (or rejected with a distinguished error) at startup scan.
*/
package storage
