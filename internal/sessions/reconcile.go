package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"car-assistant/internal/blobstore"
	"car-assistant/internal/history"
)

// reconcileWorkers bounds concurrent remote calls during Reconcile
const reconcileWorkers = 4

// ReconcileOptions tunes Reconcile
type ReconcileOptions struct {
	// Prune deletes every remote session missing locally, including chats
	// saved from other devices. By default only sessions whose remote
	// delete failed on this device are removed.
	Prune bool
}

// ReconcileReport describes what Reconcile changed remotely
type ReconcileReport struct {
	Uploaded []string         // local sessions that were missing remotely
	Deleted  []string         // remote orphans left by a failed delete
	Kept     []string         // remote-only sessions this device never deleted
	Failed   map[string]error // per-session failures, keyed by id
}

// Reconcile repairs the remote mirror after best-effort failures: remote
// objects whose delete failed are removed and local sessions the mirror
// never received are uploaded. Remote sessions this device never saw are
// kept unless opts.Prune is set. The local document is not modified.
// Individual failures are collected in the report; the returned error is
// set when the remote listing or the pending-deletes document fails.
func (m *Manager) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	report := ReconcileReport{Failed: map[string]error{}}

	uid, ok := m.currentUser()
	if !ok {
		return report, ErrNoRemote
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	local, err := m.readLocked()
	if err != nil {
		return report, err
	}
	m.list = local

	queued, err := m.pending.Keys()
	if err != nil {
		return report, err
	}
	pending := make(map[string]bool, len(queued))
	for _, key := range queued {
		pending[key] = true
	}

	prefix := ChatsPrefix(uid)
	keys, err := m.remote.List(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("failed to list remote sessions: %w", err)
	}

	remoteIDs := make(map[string]bool, len(keys))
	for _, key := range keys {
		if id, ok := sessionIDFromKey(prefix, key); ok {
			remoteIDs[id] = true
		}
	}

	localByID := make(map[string]history.Session, len(local))
	for _, s := range local {
		localByID[s.ID] = s
	}

	// Queued keys of this user that are already gone remotely, or whose id
	// is a local session again, need no delete.
	var settled []string
	for _, key := range queued {
		id, ok := sessionIDFromKey(prefix, key)
		if !ok {
			continue
		}
		if _, isLocal := localByID[id]; isLocal || !remoteIDs[id] {
			settled = append(settled, key)
		}
	}

	var mu sync.Mutex
	record := func(id string, done *[]string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed[id] = err
			return
		}
		*done = append(*done, id)
	}

	g := new(errgroup.Group)
	g.SetLimit(reconcileWorkers)

	for id := range remoteIDs {
		if _, ok := localByID[id]; ok {
			continue
		}
		key := SessionKey(uid, id)
		if !pending[key] && !opts.Prune {
			report.Kept = append(report.Kept, id)
			continue
		}
		g.Go(func() error {
			err := m.remote.Delete(ctx, key)
			if errors.Is(err, blobstore.ErrNotExist) {
				err = nil
			}
			if err != nil {
				m.logger.Printf("RECONCILE_DELETE_FAILED | session=%s error=%v", id, err)
			} else {
				m.logger.Printf("RECONCILE_DELETED | session=%s", id)
				mu.Lock()
				settled = append(settled, key)
				mu.Unlock()
			}
			record(id, &report.Deleted, err)
			return nil
		})
	}

	for id, session := range localByID {
		if remoteIDs[id] {
			continue
		}
		g.Go(func() error {
			data, err := json.Marshal(session)
			if err == nil {
				err = m.remote.Put(ctx, SessionKey(uid, id), data)
			}
			if err != nil {
				m.logger.Printf("RECONCILE_UPLOAD_FAILED | session=%s error=%v", id, err)
			} else {
				m.logger.Printf("RECONCILE_UPLOADED | session=%s", id)
			}
			record(id, &report.Uploaded, err)
			return nil
		})
	}

	_ = g.Wait()

	sort.Strings(report.Uploaded)
	sort.Strings(report.Deleted)
	sort.Strings(report.Kept)

	if err := m.pending.Remove(settled...); err != nil {
		return report, err
	}
	return report, nil
}
