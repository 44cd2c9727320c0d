package registry

import (
	"errors"
	"testing"
)

type fakeNotifier struct {
	notified []NodeID
	err      error
}

func (f *fakeNotifier) Notify(id NodeID) error {
	f.notified = append(f.notified, id)
	return f.err
}

func TestInsertLookupRemoveHost(t *testing.T) {
	r := New(nil)

	h, err := r.InsertHost(7, "peer-a", Passive)
	if err != nil {
		t.Fatalf("InsertHost: %v", err)
	}
	if h.ID != 7 || h.Name != "peer-a" {
		t.Fatalf("unexpected host: %+v", h)
	}

	r.RLock()
	got := r.LookupLocked(7)
	r.RUnlock()
	if got != h {
		t.Fatalf("LookupLocked returned a different host")
	}

	if _, err := r.InsertHost(7, "dup", Passive); !errors.Is(err, ErrHostExists) {
		t.Fatalf("expected ErrHostExists, got %v", err)
	}

	if err := r.RemoveHost(7); err != nil {
		t.Fatalf("RemoveHost: %v", err)
	}
	r.RLock()
	got = r.LookupLocked(7)
	r.RUnlock()
	if got != nil {
		t.Fatalf("expected host to be gone after RemoveHost")
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	r := New(nil)
	ids := []NodeID{3, 1, 2}
	for _, id := range ids {
		if _, err := r.InsertHost(id, "", Passive); err != nil {
			t.Fatalf("InsertHost(%d): %v", id, err)
		}
	}

	r.RLock()
	snap := r.SnapshotLocked()
	r.RUnlock()

	if len(snap) != len(ids) {
		t.Fatalf("snapshot length %d, want %d", len(snap), len(ids))
	}
	for i, id := range ids {
		if snap[i].ID != id {
			t.Fatalf("snapshot[%d].ID = %d, want %d", i, snap[i].ID, id)
		}
	}
}

func TestEnableLinkNotifiesOnlyOnDisable(t *testing.T) {
	fn := &fakeNotifier{}
	r := New(fn)
	if _, err := r.InsertHost(1, "", Passive); err != nil {
		t.Fatalf("InsertHost: %v", err)
	}

	if err := r.EnableLink(1, 0, true); err != nil {
		t.Fatalf("EnableLink(enable): %v", err)
	}
	if len(fn.notified) != 0 {
		t.Fatalf("enable must not notify, got %v", fn.notified)
	}

	if err := r.EnableLink(1, 0, false); err != nil {
		t.Fatalf("EnableLink(disable): %v", err)
	}
	if len(fn.notified) != 1 || fn.notified[0] != 1 {
		t.Fatalf("disable should notify host 1 once, got %v", fn.notified)
	}
}

func TestEnableLinkSurfacesNotifierError(t *testing.T) {
	wantErr := errors.New("pipe full")
	fn := &fakeNotifier{err: wantErr}
	r := New(fn)
	if _, err := r.InsertHost(1, "", Passive); err != nil {
		t.Fatalf("InsertHost: %v", err)
	}

	err := r.EnableLink(1, 0, false)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped notifier error, got %v", err)
	}
}

func TestEnableLinkUnknownHost(t *testing.T) {
	r := New(nil)
	if err := r.EnableLink(99, 0, true); !errors.Is(err, ErrHostNotFound) {
		t.Fatalf("expected ErrHostNotFound, got %v", err)
	}
}

func TestEnableLinkOutOfRange(t *testing.T) {
	r := New(nil)
	if _, err := r.InsertHost(1, "", Passive); err != nil {
		t.Fatalf("InsertHost: %v", err)
	}
	if err := r.EnableLink(1, MaxLinks, true); !errors.Is(err, ErrNoSuchLink) {
		t.Fatalf("expected ErrNoSuchLink, got %v", err)
	}
}
