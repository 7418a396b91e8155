package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dhtscrape/infohash"
	"dhtscrape/store"
)

func testHash(b byte) infohash.ID {
	var id infohash.ID
	id[0] = b
	return id
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetTorrentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHash(1)
	rec := store.TorrentRecord{
		Hash:             h,
		Name:             "example",
		TotalBytes:       20,
		Files:            []store.FileEntry{{Path: "a.txt", SizeBytes: 10}, {Path: "b.txt", SizeBytes: 10}},
		IsPrivate:        true,
		PieceLengthBytes: 32768,
		PieceCount:       5,
	}
	if err := s.PutTorrent(ctx, rec); err != nil {
		t.Fatalf("PutTorrent: %v", err)
	}
	got, err := s.GetTorrent(ctx, h)
	if err != nil {
		t.Fatalf("GetTorrent: %v", err)
	}
	if got.Name != "example" || len(got.Files) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Files[0].Path != "a.txt" || got.Files[1].Path != "b.txt" {
		t.Fatalf("file order not preserved: %+v", got.Files)
	}
	if !got.IsPrivate || got.PieceLengthBytes != 32768 || got.PieceCount != 5 {
		t.Fatalf("piece metadata not preserved: %+v", got)
	}
}

func TestListTorrentHashes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h1, h2 := testHash(10), testHash(11)
	if err := s.PutTorrent(ctx, store.TorrentRecord{Hash: h1, Name: "one"}); err != nil {
		t.Fatalf("PutTorrent: %v", err)
	}
	if err := s.PutTorrent(ctx, store.TorrentRecord{Hash: h2, Name: "two"}); err != nil {
		t.Fatalf("PutTorrent: %v", err)
	}
	hashes, err := s.ListTorrentHashes(ctx)
	if err != nil {
		t.Fatalf("ListTorrentHashes: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %d hashes, want 2", len(hashes))
	}
}

func TestPutTorrentConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHash(2)
	if err := s.PutTorrent(ctx, store.TorrentRecord{Hash: h, Name: "one"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.PutTorrent(ctx, store.TorrentRecord{Hash: h, Name: "two"})
	if err != store.ErrAlreadyIndexed {
		t.Fatalf("got %v, want ErrAlreadyIndexed", err)
	}
}

func TestPendingHashUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	h := testHash(3)
	p := store.PendingHash{Hash: h, FirstSeenAt: time.Now(), Attempts: 1, LastError: "timeout"}
	if err := s.PutPendingHash(ctx, p); err != nil {
		t.Fatalf("PutPendingHash: %v", err)
	}
	p.Attempts = 2
	p.LastError = "timeout again"
	if err := s.PutPendingHash(ctx, p); err != nil {
		t.Fatalf("PutPendingHash upsert: %v", err)
	}
	list, err := s.ListPendingHashes(ctx)
	if err != nil {
		t.Fatalf("ListPendingHashes: %v", err)
	}
	if len(list) != 1 || list[0].Attempts != 2 {
		t.Fatalf("expected single upserted row with attempts=2, got %+v", list)
	}
}

func TestHasTorrentFalseForUnknown(t *testing.T) {
	s := openTestStore(t)
	has, err := s.HasTorrent(context.Background(), testHash(99))
	if err != nil {
		t.Fatalf("HasTorrent: %v", err)
	}
	if has {
		t.Fatalf("expected false for unknown hash")
	}
}
