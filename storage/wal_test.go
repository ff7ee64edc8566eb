package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestWALPathDerivation(t *testing.T) {
	cases := map[string]string{
		"/var/db/main.db": "/var/db/main-wal.db",
		"main.db":         "main-wal.db",
		"/data/store":     "/data/store-wal",
	}
	for in, want := range cases {
		if got := walPath(in); got != want {
			t.Errorf("walPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")

	w, err := OpenWAL(dbPath, 4096, true)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	p1, _ := New(1, 4096, PageTypeData)
	p1.WriteData(0, []byte("first"))
	p1.UpdateChecksum()

	p2, _ := New(2, 4096, PageTypeData)
	p2.WriteData(0, []byte("second"))
	p2.UpdateChecksum()

	lsn1, err := w.AppendPage(p1)
	if err != nil {
		t.Fatalf("AppendPage: %v", err)
	}
	lsn2, err := w.AppendPage(p2)
	if err != nil {
		t.Fatalf("AppendPage: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("expected strictly increasing LSNs, got %d then %d", lsn1, lsn2)
	}
	if !w.HasPendingEntries() {
		t.Error("expected pending entries after append")
	}

	var replayed []uint32
	err = w.Replay(context.Background(), func(pageID uint32, payload []byte) error {
		replayed = append(replayed, pageID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 2 || replayed[0] != 1 || replayed[1] != 2 {
		t.Fatalf("expected replay of pages [1 2], got %v", replayed)
	}
}

func TestWALDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")

	w, err := OpenWAL(dbPath, 4096, false)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	p, _ := New(1, 4096, PageTypeData)
	lsn, err := w.AppendPage(p)
	if err != nil || lsn != 0 {
		t.Fatalf("expected no-op append (lsn 0, no error), got lsn=%d err=%v", lsn, err)
	}
	if w.HasPendingEntries() {
		t.Error("disabled WAL should never report pending entries")
	}

	calls := 0
	if err := w.Replay(context.Background(), func(uint32, []byte) error { calls++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected zero apply_fn calls for disabled WAL, got %d", calls)
	}
}

func TestWALTruncateClearsPending(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")
	w, err := OpenWAL(dbPath, 4096, true)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	p, _ := New(1, 4096, PageTypeData)
	w.AppendPage(p)
	if err := w.TruncateAsync(context.Background()); err != nil {
		t.Fatalf("TruncateAsync: %v", err)
	}
	if w.HasPendingEntries() {
		t.Error("expected no pending entries after truncate")
	}
}

func TestWALReplayStopsAtCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")
	w, err := OpenWAL(dbPath, 4096, true)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	good, _ := New(1, 4096, PageTypeData)
	good.UpdateChecksum()
	w.AppendPage(good)

	// Append a torn record: a header declaring a payload that never
	// actually follows it in the file.
	w.mu.Lock()
	buf := make([]byte, walHeaderLen)
	buf[0] = walRecordType
	buf[5] = 0xFF // declared length far exceeds the (absent) payload
	w.file.Write(buf)
	w.mu.Unlock()

	var replayed []uint32
	if err := w.Replay(context.Background(), func(pageID uint32, payload []byte) error {
		replayed = append(replayed, pageID)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 1 || replayed[0] != 1 {
		t.Fatalf("expected replay to stop after the one good record, got %v", replayed)
	}
}
