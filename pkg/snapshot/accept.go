package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carlziess/ra/pkg/metrics"
	"github.com/carlziess/ra/pkg/storage"
	"github.com/carlziess/ra/pkg/types"
)

// acceptCtx tracks one inbound snapshot transfer.
type acceptCtx struct {
	numChunks uint64
	next      uint64
	idxterm   types.IdxTerm
	accept    storage.Accept
	dir       string
}

// BeginAccept starts receiving a snapshot from a peer leader. crc is the
// payload checksum the sender declared; verification is the backend's job
// at the final chunk.
func (m *Manager) BeginAccept(crc uint64, meta types.Meta, numChunks uint64) error {
	if m.pending != nil {
		return ErrSnapshotInProgress
	}
	if m.accepting != nil {
		return ErrAcceptInProgress
	}
	if numChunks == 0 {
		return fmt.Errorf("ra/snapshot: declared chunk count must be positive")
	}

	target := filepath.Join(m.dir, dirName(meta.Term, meta.Index))
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	accept, err := m.backend.BeginAccept(target, crc, meta)
	if err != nil {
		return err
	}

	m.accepting = &acceptCtx{
		numChunks: numChunks,
		next:      1,
		idxterm:   meta.IdxTerm(),
		accept:    accept,
		dir:       target,
	}

	m.logger.Info().
		Uint64("index", uint64(meta.Index)).
		Uint64("term", uint64(meta.Term)).
		Uint64("chunks", numChunks).
		Msg("accepting inbound snapshot")

	return nil
}

// AcceptChunk records chunk n of the in-progress transfer. Chunks strictly
// before the expected one are resends and ignored; a chunk past the
// expected one is a protocol violation and the caller must reset the
// transfer via DiscardAccept. Committing the final chunk deletes the
// previous current snapshot, publishes the registry and reassigns current.
func (m *Manager) AcceptChunk(data []byte, n uint64) error {
	ctx := m.accepting
	if ctx == nil {
		return ErrNoAccept
	}

	switch {
	case n < ctx.next:
		// resend of an already-accepted chunk
		metrics.AcceptChunksTotal.WithLabelValues(metrics.ChunkDuplicate).Inc()
		return nil

	case n > ctx.next:
		metrics.AcceptChunksTotal.WithLabelValues(metrics.ChunkOutOfOrder).Inc()
		return fmt.Errorf("%w: got chunk %d, expected %d", ErrOutOfOrderChunk, n, ctx.next)

	case n < ctx.numChunks:
		if err := ctx.accept.Append(data); err != nil {
			return err
		}
		ctx.next++
		metrics.AcceptChunksTotal.WithLabelValues(metrics.ChunkAccepted).Inc()
		return nil

	default: // n == ctx.next == ctx.numChunks
		if err := ctx.accept.Commit(data); err != nil {
			return err
		}
		metrics.AcceptChunksTotal.WithLabelValues(metrics.ChunkAccepted).Inc()
		metrics.AcceptsCompletedTotal.WithLabelValues(string(m.uid)).Inc()

		m.removePrevious(ctx.idxterm)
		m.reg.Publish(m.uid, ctx.idxterm.Index)
		m.current = &ctx.idxterm
		m.accepting = nil

		m.logger.Info().
			Uint64("index", uint64(ctx.idxterm.Index)).
			Uint64("term", uint64(ctx.idxterm.Term)).
			Msg("inbound snapshot committed")

		return nil
	}
}

// DiscardAccept abandons the in-progress transfer, closing the backend
// handle and reclaiming the partial directory. It is a no-op when no
// transfer is in progress, so callers can reset unconditionally after a
// protocol violation or a dead peer.
func (m *Manager) DiscardAccept() {
	ctx := m.accepting
	if ctx == nil {
		return
	}

	_ = ctx.accept.Discard()
	if err := os.RemoveAll(ctx.dir); err != nil {
		m.logger.Error().Err(err).Msg("failed to remove partial snapshot directory")
	}
	m.accepting = nil

	m.logger.Info().
		Uint64("index", uint64(ctx.idxterm.Index)).
		Uint64("term", uint64(ctx.idxterm.Term)).
		Msg("inbound snapshot discarded")
}
