package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStack(t *testing.T, walEnabled bool) (*PageManager, *WriteAheadLog) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")

	disk, err := OpenDiskStream(dbPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenDiskStream: %v", err)
	}
	t.Cleanup(func() { disk.Dispose() })

	pm, err := NewPageManager(disk, 4096, 16)
	if err != nil {
		t.Fatalf("NewPageManager: %v", err)
	}

	wal, err := OpenWAL(dbPath, 4096, walEnabled)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	t.Cleanup(func() { wal.Close() })

	return pm, wal
}

func TestFlushSchedulerRejectsNilArgs(t *testing.T) {
	if _, err := NewFlushScheduler(nil, nil, time.Second); err != ErrArgumentNull {
		t.Fatalf("expected ErrArgumentNull, got %v", err)
	}
}

func TestFlushSchedulerEnsureDurabilityNone(t *testing.T) {
	pm, wal := openTestStack(t, true)
	fs, err := NewFlushScheduler(pm, wal, time.Hour)
	if err != nil {
		t.Fatalf("NewFlushScheduler: %v", err)
	}
	defer fs.Dispose()

	if err := fs.EnsureDurability(context.Background(), WriteConcernNone); err != nil {
		t.Fatalf("EnsureDurability(None): %v", err)
	}
}

func TestFlushSchedulerEnsureDurabilityJournaled(t *testing.T) {
	pm, wal := openTestStack(t, true)
	fs, err := NewFlushScheduler(pm, wal, time.Hour)
	if err != nil {
		t.Fatalf("NewFlushScheduler: %v", err)
	}
	defer fs.Dispose()

	p, _ := pm.NewPage(PageTypeData)
	wal.AppendPage(p)

	if err := fs.EnsureDurability(context.Background(), WriteConcernJournaled); err != nil {
		t.Fatalf("EnsureDurability(Journaled): %v", err)
	}
	if wal.FlushedLSN() != wal.AppendedLSN() {
		t.Errorf("expected flushed_LSN to catch up to appended_LSN")
	}
}

func TestFlushSchedulerEnsureDurabilitySynced(t *testing.T) {
	pm, wal := openTestStack(t, true)
	fs, err := NewFlushScheduler(pm, wal, time.Hour)
	if err != nil {
		t.Fatalf("NewFlushScheduler: %v", err)
	}
	defer fs.Dispose()

	p, _ := pm.NewPage(PageTypeData)
	p.WriteData(0, []byte("x"))
	wal.AppendPage(p)
	pm.SavePage(p)

	if err := fs.EnsureDurability(context.Background(), WriteConcernSynced); err != nil {
		t.Fatalf("EnsureDurability(Synced): %v", err)
	}
	if wal.HasPendingEntries() {
		t.Error("expected WAL truncated after Synced durability")
	}
}

func TestFlushSchedulerEnsureDurabilityUnknownConcern(t *testing.T) {
	pm, wal := openTestStack(t, true)
	fs, err := NewFlushScheduler(pm, wal, time.Hour)
	if err != nil {
		t.Fatalf("NewFlushScheduler: %v", err)
	}
	defer fs.Dispose()

	if err := fs.EnsureDurability(context.Background(), WriteConcern(99)); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestFlushSchedulerDisposeIsIdempotent(t *testing.T) {
	pm, wal := openTestStack(t, true)
	fs, err := NewFlushScheduler(pm, wal, time.Hour)
	if err != nil {
		t.Fatalf("NewFlushScheduler: %v", err)
	}
	fs.Dispose()
	fs.Dispose()
}
