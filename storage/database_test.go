package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDatabaseOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.db")
	db, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	p, err := db.Pages().NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p.PageID() != 1 {
		t.Errorf("expected first page id 1, got %d", p.PageID())
	}
}

func TestDatabaseCommitAndReopenRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.db")
	opts := DefaultOptions()

	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := db.Pages().NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p.WriteData(0, []byte("durable"))
	if err := db.Commit(context.Background(), p, WriteConcernJournaled); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, opts)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	got, err := db2.Pages().GetPage(p.PageID(), false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	data, _ := got.ReadData(0, 7)
	if string(data) != "durable" {
		t.Errorf("expected recovered payload %q, got %q", "durable", data)
	}
}

// TestDatabaseCommitSurvivesCrashBeforeDataFileWrite exercises spec.md §8's
// "journal durability under crash" scenario: a page committed with
// WriteConcernJournaled must be recoverable from the WAL even if its
// on-disk page slot never durably received the write (simulated here by
// clobbering that slot directly, bypassing the buffer pool, after Commit
// returns). The torn-down handles below skip Close's
// synchronize-and-truncate path entirely, so the WAL record is still
// there for the reopened database to replay.
func TestDatabaseCommitSurvivesCrashBeforeDataFileWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.db")
	opts := DefaultOptions()

	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := db.Pages().NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p.WriteData(0, []byte("crashed"))
	if err := db.Commit(context.Background(), p, WriteConcernJournaled); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	zeros := make([]byte, opts.PageSize)
	if err := db.disk.WritePage(int64(p.PageID())*int64(opts.PageSize), zeros); err != nil {
		t.Fatalf("simulate lost data-file write: %v", err)
	}

	// Tear down without Close's SynchronizeAsync, so the journaled WAL
	// record survives for the next Open's replay.
	db.flush.Dispose()
	db.wal.Close()
	if err := db.disk.Dispose(); err != nil {
		t.Fatalf("disk.Dispose: %v", err)
	}
	db.lock.unlock()

	db2, err := Open(path, opts)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	got, err := db2.Pages().GetPage(p.PageID(), false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if !got.VerifyIntegrity() {
		t.Fatal("expected replayed page to pass integrity check")
	}
	data, _ := got.ReadData(0, 7)
	if string(data) != "crashed" {
		t.Errorf("expected replay-recovered payload %q, got %q", "crashed", data)
	}
}

func TestDatabaseReadOnlyRejectsCreateAndCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.db")
	opts := DefaultOptions()

	roOpts := opts
	roOpts.ReadOnly = true
	if _, err := Open(path, roOpts); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly opening a not-yet-existing file read-only, got %v", err)
	}

	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := db.Pages().NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p.WriteData(0, []byte("seed"))
	if err := db.Commit(context.Background(), p, WriteConcernSynced); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rdb, err := Open(path, roOpts)
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer rdb.Close()

	got, err := rdb.Pages().GetPage(p.PageID(), false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	data, _ := got.ReadData(0, 4)
	if string(data) != "seed" {
		t.Errorf("expected readable payload %q, got %q", "seed", data)
	}

	if _, err := rdb.Pages().NewPage(PageTypeData); err != ErrReadOnly {
		t.Fatalf("expected NewPage to fail with ErrReadOnly, got %v", err)
	}
	if err := rdb.Commit(context.Background(), got, WriteConcernNone); err != ErrReadOnly {
		t.Fatalf("expected Commit to fail with ErrReadOnly, got %v", err)
	}
}

func TestDatabaseOpenMemory(t *testing.T) {
	db, err := OpenMemory("test", DefaultOptions())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	p, err := db.Pages().NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p.PageID() != 1 {
		t.Errorf("expected first page id 1, got %d", p.PageID())
	}
}

func TestDatabaseLargeDocumentsWiredToSamePageManager(t *testing.T) {
	db, err := OpenMemory("test", DefaultOptions())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	id, err := db.LargeDocuments().StoreLargeDocument([]byte("payload"), "c")
	if err != nil {
		t.Fatalf("StoreLargeDocument: %v", err)
	}
	got, err := db.LargeDocuments().ReadLargeDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("ReadLargeDocument: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q, want %q", got, "payload")
	}
}
