package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-assistant/internal/blobstore"
	"car-assistant/internal/history"
	"car-assistant/internal/identity"
)

func TestReconcile_DeletesOrphansAndUploadsMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Saved while the mirror was down, so it only exists locally.
	f.remote.SetFailures(errors.New("offline"), nil, nil)
	unmirrored, err := f.manager.SaveSession(ctx, history.Transcript{{Kind: history.Question, Text: "unmirrored"}})
	require.NoError(t, err)
	f.remote.SetFailures(nil, nil, nil)

	synced, err := f.manager.SaveSession(ctx, history.Transcript{{Kind: history.Question, Text: "synced"}})
	require.NoError(t, err)

	// Deleted while the remote delete failed, so it only exists remotely.
	orphan, err := f.manager.SaveSession(ctx, history.Transcript{{Kind: history.Question, Text: "orphan"}})
	require.NoError(t, err)
	f.remote.SetFailures(nil, errors.New("offline"), nil)
	require.NoError(t, f.manager.DeleteSession(ctx, orphan.ID))
	f.remote.SetFailures(nil, nil, nil)

	// Objects outside the chats layout are ignored.
	require.NoError(t, f.remote.Put(ctx, ChatsPrefix(testUID)+"readme.txt", []byte("x")))
	require.NoError(t, f.remote.Put(ctx, "other-user/chats/"+orphan.ID+".json", []byte("{}")))

	report, err := f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{unmirrored.ID}, report.Uploaded)
	assert.Equal(t, []string{orphan.ID}, report.Deleted)
	assert.Empty(t, report.Failed)

	keys, err := f.remote.List(ctx, ChatsPrefix(testUID))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		ChatsPrefix(testUID) + "readme.txt",
		SessionKey(testUID, unmirrored.ID),
		SessionKey(testUID, synced.ID),
	}, keys)

	_, err = f.remote.Get(ctx, "other-user/chats/"+orphan.ID+".json")
	assert.NoError(t, err, "other users' objects are untouched")

	queued, err := f.local.PendingDeletes().Keys()
	require.NoError(t, err)
	assert.Empty(t, queued, "a pruned orphan leaves the queue")

	// A second pass has nothing to do.
	report, err = f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Uploaded)
	assert.Empty(t, report.Deleted)
}

func TestReconcile_KeepsChatsFromOtherDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local, err := f.manager.SaveSession(ctx, tirePressure())
	require.NoError(t, err)

	// Saved by the same user on another device; never in this list.
	elsewhere := "2024-05-01T08:00:00.000Z"
	require.NoError(t, f.remote.Put(ctx, SessionKey(testUID, elsewhere), []byte(`{"id":"`+elsewhere+`"}`)))

	report, err := f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, []string{elsewhere}, report.Kept)
	assert.Empty(t, report.Failed)

	_, err = f.remote.Get(ctx, SessionKey(testUID, elsewhere))
	assert.NoError(t, err)
	_, err = f.remote.Get(ctx, SessionKey(testUID, local.ID))
	assert.NoError(t, err)

	report, err = f.manager.Reconcile(ctx, ReconcileOptions{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, []string{elsewhere}, report.Deleted)
	assert.Empty(t, report.Kept)

	_, err = f.remote.Get(ctx, SessionKey(testUID, elsewhere))
	assert.ErrorIs(t, err, blobstore.ErrNotExist)
}

func TestReconcile_FailedPruneStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.manager.SaveSession(ctx, tirePressure())
	require.NoError(t, err)
	f.remote.SetFailures(nil, errors.New("offline"), nil)
	require.NoError(t, f.manager.DeleteSession(ctx, saved.ID))

	report, err := f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	require.Contains(t, report.Failed, saved.ID)

	queued, err := f.local.PendingDeletes().Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{SessionKey(testUID, saved.ID)}, queued)

	f.remote.SetFailures(nil, nil, nil)
	report, err = f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{saved.ID}, report.Deleted)

	queued, err = f.local.PendingDeletes().Keys()
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestReconcile_DropsQueuedKeysAlreadyGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gone := SessionKey(testUID, "2024-01-01T00:00:00.000Z")
	foreign := SessionKey("other-user", "2024-01-01T00:00:00.000Z")
	require.NoError(t, f.local.PendingDeletes().Add(gone))
	require.NoError(t, f.local.PendingDeletes().Add(foreign))

	_, err := f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)

	queued, err := f.local.PendingDeletes().Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{foreign}, queued, "other users' entries wait for their own reconcile")
}

func TestReconcile_CollectsPerSessionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	boom := errors.New("permission denied")
	f.remote.SetFailures(boom, nil, nil)
	saved, err := f.manager.SaveSession(ctx, tirePressure())
	require.NoError(t, err)

	report, err := f.manager.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Uploaded)
	require.Contains(t, report.Failed, saved.ID)
	assert.ErrorIs(t, report.Failed[saved.ID], boom)
}

func TestReconcile_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.SetFailures(nil, nil, errors.New("unavailable"))

	_, err := f.manager.Reconcile(context.Background(), ReconcileOptions{})
	assert.Error(t, err)
}

func TestReconcile_SignedOut(t *testing.T) {
	f := newFixture(t)
	f.manager.identity = identity.Static("")

	_, err := f.manager.Reconcile(context.Background(), ReconcileOptions{})
	assert.ErrorIs(t, err, ErrNoRemote)
}
