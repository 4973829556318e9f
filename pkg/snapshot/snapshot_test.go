package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlziess/ra/pkg/events"
	"github.com/carlziess/ra/pkg/registry"
	"github.com/carlziess/ra/pkg/storage"
	"github.com/carlziess/ra/pkg/types"
)

type memCursor []byte

func (c memCursor) Snapshot() ([]byte, error) {
	return c, nil
}

type failingCursor struct{}

func (failingCursor) Snapshot() ([]byte, error) {
	return nil, errors.New("machine state unavailable")
}

// failWriteBackend makes every background write die.
type failWriteBackend struct {
	storage.Backend
}

func (failWriteBackend) Write(string, types.Meta, storage.Ref) error {
	return errors.New("disk full")
}

// panicWriteBackend makes every background write panic.
type panicWriteBackend struct {
	storage.Backend
}

func (panicWriteBackend) Write(string, types.Meta, storage.Ref) error {
	panic("serializer bug")
}

func newTestManager(t *testing.T, backend storage.Backend) (*Manager, *events.Inbox, *registry.Registry, string) {
	t.Helper()

	dir := t.TempDir()
	inbox := events.NewInbox()
	reg := registry.New()

	m, err := New("p1", backend, dir, reg, inbox)
	require.NoError(t, err)
	return m, inbox, reg, dir
}

func meta(index types.Index, term types.Term) types.Meta {
	return types.Meta{Index: index, Term: term}
}

// waitWritten runs one BeginSnapshot cycle to completion.
func waitWritten(t *testing.T, m *Manager, inbox *events.Inbox, mt types.Meta) {
	t.Helper()

	effects, err := m.BeginSnapshot(mt, memCursor("state"))
	require.NoError(t, err)
	require.Len(t, effects, 1)

	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()
	require.NoError(t, mw.Worker.Reason())

	e := <-inbox.Chan()
	written := e.(events.SnapshotWritten)
	require.NoError(t, m.CompleteSnapshot(written.IdxTerm))
}

func TestInitEmpty(t *testing.T) {
	m, _, reg, _ := newTestManager(t, storage.NewFileBackend())

	_, ok := m.Current()
	assert.False(t, ok)

	_, ok = reg.LastSnapshotIndex("p1")
	assert.False(t, ok)
}

func TestInitOneSnapshot(t *testing.T) {
	backend := storage.NewFileBackend()
	dir := t.TempDir()

	name := dirName(3, 100)
	assert.Equal(t, "0000000000000003_0000000000000064", name)

	target := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, backend.Write(target, meta(100, 3), storage.Ref("state")))

	reg := registry.New()
	m, err := New("p1", backend, dir, reg, events.NewInbox())
	require.NoError(t, err)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 100, Term: 3}, cur)

	idx, ok := reg.LastSnapshotIndex("p1")
	require.True(t, ok)
	assert.Equal(t, types.Index(100), idx)
}

func TestInitKeepsYoungestDeletesRest(t *testing.T) {
	backend := storage.NewFileBackend()
	dir := t.TempDir()

	for _, mt := range []types.Meta{meta(10, 1), meta(20, 2)} {
		target := filepath.Join(dir, dirName(mt.Term, mt.Index))
		require.NoError(t, os.MkdirAll(target, 0755))
		require.NoError(t, backend.Write(target, mt, storage.Ref("state")))
	}

	m, err := New("p1", backend, dir, registry.New(), events.NewInbox())
	require.NoError(t, err)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 20, Term: 2}, cur)

	_, err = os.Stat(filepath.Join(dir, dirName(1, 10)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, dirName(2, 20)))
	assert.NoError(t, err)
}

func TestInitFallsBackPastCorruptYoungest(t *testing.T) {
	backend := storage.NewFileBackend()
	dir := t.TempDir()

	// A valid older snapshot.
	target := filepath.Join(dir, dirName(1, 10))
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, backend.Write(target, meta(10, 1), storage.Ref("state")))

	// A younger directory from an interrupted write: no meta at all.
	partial := filepath.Join(dir, dirName(2, 20))
	require.NoError(t, os.MkdirAll(partial, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(partial, "state.bin"), []byte("torn"), 0644))

	m, err := New("p1", backend, dir, registry.New(), events.NewInbox())
	require.NoError(t, err)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 10, Term: 1}, cur)

	_, err = os.Stat(partial)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteHappyPath(t *testing.T) {
	m, inbox, reg, dir := newTestManager(t, storage.NewFileBackend())

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("state at 5"))
	require.NoError(t, err)
	require.Len(t, effects, 1)

	pend, ok := m.Pending()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 5, Term: 1}, pend)

	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()
	require.NoError(t, mw.Worker.Reason())

	e := <-inbox.Chan()
	written, ok := e.(events.SnapshotWritten)
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 5, Term: 1}, written.IdxTerm)

	require.NoError(t, m.CompleteSnapshot(written.IdxTerm))

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 5, Term: 1}, cur)

	_, ok = m.Pending()
	assert.False(t, ok)

	idx, ok := reg.LastSnapshotIndex("p1")
	require.True(t, ok)
	assert.Equal(t, types.Index(5), idx)

	_, err = os.Stat(filepath.Join(dir, dirName(1, 5)))
	assert.NoError(t, err)
}

func TestWriteFailureCleansUp(t *testing.T) {
	m, inbox, _, dir := newTestManager(t, failWriteBackend{storage.NewFileBackend()})
	dispatcher := events.NewDispatcher(inbox)

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("state"))
	require.NoError(t, err)
	dispatcher.Dispatch(effects...)

	// The worker dies without posting SnapshotWritten; the monitor posts
	// WorkerDown instead.
	e := <-inbox.Chan()
	down, ok := e.(events.WorkerDown)
	require.True(t, ok)
	require.Error(t, down.Reason)

	m.HandleDown(down.ID, down.Reason)

	_, ok = m.Pending()
	assert.False(t, ok)
	_, ok = m.Current()
	assert.False(t, ok)

	_, err = os.Stat(filepath.Join(dir, dirName(1, 5)))
	assert.True(t, os.IsNotExist(err))
}

func TestWritePanicCleansUp(t *testing.T) {
	m, inbox, _, dir := newTestManager(t, panicWriteBackend{storage.NewFileBackend()})
	dispatcher := events.NewDispatcher(inbox)

	effects, err := m.BeginSnapshot(meta(7, 1), memCursor("state"))
	require.NoError(t, err)
	dispatcher.Dispatch(effects...)

	e := <-inbox.Chan()
	down := e.(events.WorkerDown)
	require.ErrorContains(t, down.Reason, "panicked")

	m.HandleDown(down.ID, down.Reason)

	_, ok := m.Pending()
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, dirName(1, 7)))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleDownUnknownWorkerIsNoop(t *testing.T) {
	m, _, _, dir := newTestManager(t, storage.NewFileBackend())

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("state"))
	require.NoError(t, err)
	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()

	stranger := newWorker()
	m.HandleDown(stranger.ID(), errors.New("unrelated"))

	// The pending write and its directory are untouched.
	_, ok := m.Pending()
	assert.True(t, ok)
	_, err = os.Stat(filepath.Join(dir, dirName(1, 5)))
	assert.NoError(t, err)
}

func TestPrepareFailureReclaimsDirectory(t *testing.T) {
	m, _, _, dir := newTestManager(t, storage.NewFileBackend())

	_, err := m.BeginSnapshot(meta(5, 1), failingCursor{})
	require.Error(t, err)

	_, ok := m.Pending()
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, dirName(1, 5)))
	assert.True(t, os.IsNotExist(err))
}

func TestCompleteSnapshotWrongIdxTerm(t *testing.T) {
	m, inbox, _, _ := newTestManager(t, storage.NewFileBackend())

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("state"))
	require.NoError(t, err)
	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()

	err = m.CompleteSnapshot(types.IdxTerm{Index: 99, Term: 9})
	assert.ErrorIs(t, err, ErrUnknownSnapshot)

	// The matching completion still goes through.
	e := <-inbox.Chan()
	written := e.(events.SnapshotWritten)
	require.NoError(t, m.CompleteSnapshot(written.IdxTerm))
}

func TestCompleteSnapshotDeletesPrevious(t *testing.T) {
	m, inbox, _, dir := newTestManager(t, storage.NewFileBackend())

	waitWritten(t, m, inbox, meta(5, 1))
	waitWritten(t, m, inbox, meta(9, 1))

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.IdxTerm{Index: 9, Term: 1}, cur)

	_, err := os.Stat(filepath.Join(dir, dirName(1, 5)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, dirName(1, 9)))
	assert.NoError(t, err)
}

func TestMutualExclusion(t *testing.T) {
	m, inbox, _, _ := newTestManager(t, storage.NewFileBackend())

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("state"))
	require.NoError(t, err)

	_, err = m.BeginSnapshot(meta(6, 1), memCursor("state"))
	assert.ErrorIs(t, err, ErrSnapshotInProgress)

	err = m.BeginAccept(0xAB, meta(7, 2), 3)
	assert.ErrorIs(t, err, ErrSnapshotInProgress)

	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()
	e := <-inbox.Chan()
	require.NoError(t, m.CompleteSnapshot(e.(events.SnapshotWritten).IdxTerm))

	// And the other way around.
	payload := []byte("inbound")
	require.NoError(t, m.BeginAccept(storage.Checksum(payload), meta(7, 2), 1))

	_, err = m.BeginSnapshot(meta(8, 2), memCursor("state"))
	assert.ErrorIs(t, err, ErrAcceptInProgress)

	err = m.BeginAccept(0xAB, meta(9, 2), 1)
	assert.ErrorIs(t, err, ErrAcceptInProgress)
}

func TestReadRecoverWithoutSnapshot(t *testing.T) {
	m, _, _, _ := newTestManager(t, storage.NewFileBackend())

	_, err := m.Read(1024)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, _, err = m.Recover()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRecoverRoundTrip(t *testing.T) {
	m, inbox, _, _ := newTestManager(t, storage.NewFileBackend())

	effects, err := m.BeginSnapshot(meta(5, 1), memCursor("the machine state"))
	require.NoError(t, err)
	mw := effects[0].(events.MonitorWorker)
	<-mw.Worker.Done()
	e := <-inbox.Chan()
	require.NoError(t, m.CompleteSnapshot(e.(events.SnapshotWritten).IdxTerm))

	mt, state, err := m.Recover()
	require.NoError(t, err)
	assert.Equal(t, types.Index(5), mt.Index)
	assert.Equal(t, []byte("the machine state"), state)
}
