package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDiskStream(t *testing.T) *DiskStream {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	ds, err := OpenDiskStream(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenDiskStream: %v", err)
	}
	t.Cleanup(func() { ds.Dispose() })
	return ds
}

func TestDiskStreamReadWritePage(t *testing.T) {
	ds := openTestDiskStream(t)
	if err := ds.SetLength(4096); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i)
	}
	if err := ds.WritePage(0, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got := make([]byte, 4096)
	if err := ds.ReadPage(0, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mismatch at byte %d: want %d got %d", i, want[i], got[i])
		}
	}
}

func TestDiskStreamReadPageShortFails(t *testing.T) {
	ds := openTestDiskStream(t)
	buf := make([]byte, 4096)
	if err := ds.ReadPage(0, buf); err == nil {
		t.Fatal("expected error reading past EOF on empty file")
	}
}

func TestDiskStreamSetLengthGrowZeroFills(t *testing.T) {
	ds := openTestDiskStream(t)
	if err := ds.SetLength(8192); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	buf := make([]byte, 8192)
	if err := ds.ReadPage(0, buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero-fill at byte %d, got %d", i, b)
		}
	}
}

func TestDiskStreamDisposeFailsOps(t *testing.T) {
	ds := openTestDiskStream(t)
	ds.Dispose()
	if err := ds.SetLength(4096); err != ErrDisposed {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestDiskStreamRegionLockBlocksOverlap(t *testing.T) {
	ds := openTestDiskStream(t)
	h1, err := ds.LockRegion(0, 100)
	if err != nil {
		t.Fatalf("LockRegion: %v", err)
	}

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h2, err := ds.LockRegion(50, 100)
		if err != nil {
			t.Errorf("LockRegion: %v", err)
			return
		}
		close(acquired)
		ds.UnlockRegion(h2)
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping region lock acquired while first lock still held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := ds.UnlockRegion(h1); err != nil {
		t.Fatalf("UnlockRegion: %v", err)
	}
	wg.Wait()
}

func TestDiskStreamRegionLockAllowsDisjoint(t *testing.T) {
	ds := openTestDiskStream(t)
	h1, err := ds.LockRegion(0, 100)
	if err != nil {
		t.Fatalf("LockRegion: %v", err)
	}
	defer ds.UnlockRegion(h1)

	done := make(chan error, 1)
	go func() {
		h2, err := ds.LockRegion(200, 100)
		if err == nil {
			ds.UnlockRegion(h2)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("LockRegion: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("disjoint region lock should not block")
	}
}

func TestDiskStreamUnlockUnknownHandleFails(t *testing.T) {
	ds := openTestDiskStream(t)
	if err := ds.UnlockRegion(RegionLockHandle(9999)); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDiskStreamUnlockRegionIsIdempotent(t *testing.T) {
	ds := openTestDiskStream(t)
	h1, err := ds.LockRegion(0, 100)
	if err != nil {
		t.Fatalf("LockRegion: %v", err)
	}
	if err := ds.UnlockRegion(h1); err != nil {
		t.Fatalf("first UnlockRegion: %v", err)
	}
	if err := ds.UnlockRegion(h1); err != nil {
		t.Fatalf("double UnlockRegion should be accepted silently, got %v", err)
	}
}

func TestDiskStreamStatisticsString(t *testing.T) {
	stats := DiskStreamStatistics{Path: "db.dat", Size: 4096, Readable: true, Writable: true}
	s := stats.String()
	if s == "" {
		t.Fatal("expected non-empty statistics string")
	}
}
