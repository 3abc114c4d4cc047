package storage

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

func depositEvent(amount int64) treasury.Event {
	return treasury.Event{
		Type:   treasury.EventDeposit,
		Asset:  usdk,
		Amount: big.NewInt(amount),
	}
}

func TestJournalAssignsContiguousSequence(t *testing.T) {
	j := NewEventJournal()
	first, err := j.Append(depositEvent(1), depositEvent(2))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := j.Append(depositEvent(3))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first[0].Seq != 1 || first[1].Seq != 2 || second[0].Seq != 3 {
		t.Fatalf("unexpected sequence: %d %d %d", first[0].Seq, first[1].Seq, second[0].Seq)
	}
	if j.LastSeq() != 3 || j.Len() != 3 {
		t.Fatalf("journal size: last=%d len=%d", j.LastSeq(), j.Len())
	}
	if first[0].Hash == "" || first[0].Hash == first[1].Hash {
		t.Fatal("records must carry distinct hashes")
	}
}

func TestJournalRecordsCursor(t *testing.T) {
	j := NewEventJournal()
	for i := int64(1); i <= 5; i++ {
		if _, err := j.Append(depositEvent(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	tail := j.Records(3, 0)
	if len(tail) != 2 || tail[0].Seq != 4 || tail[1].Seq != 5 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	limited := j.Records(0, 2)
	if len(limited) != 2 || limited[1].Seq != 2 {
		t.Fatalf("unexpected limited page: %+v", limited)
	}
	if rest := j.Records(5, 0); len(rest) != 0 {
		t.Fatalf("expected empty page, got %+v", rest)
	}
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	j, err := NewPersistentEventJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := j.Append(depositEvent(10), depositEvent(20)); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := NewPersistentEventJournal(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	if reopened.LastSeq() != 2 {
		t.Fatalf("last seq after reopen: got %d, want 2", reopened.LastSeq())
	}
	if err := reopened.VerifyChain(); err != nil {
		t.Fatalf("verify after reopen: %v", err)
	}

	// Appends continue the chain where the previous process stopped.
	recs, err := reopened.Append(depositEvent(30))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if recs[0].Seq != 3 {
		t.Fatalf("seq after reopen: got %d, want 3", recs[0].Seq)
	}
	if err := reopened.VerifyChain(); err != nil {
		t.Fatalf("verify extended chain: %v", err)
	}
}

func TestJournalDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	j, err := NewPersistentEventJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := j.Append(depositEvent(10), depositEvent(20)); err != nil {
		t.Fatalf("append: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	var snapshot struct {
		Records []treasury.Record `json:"records"`
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("decode journal: %v", err)
	}
	snapshot.Records[0].Amount = big.NewInt(99999)
	edited, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("encode journal: %v", err)
	}
	if err := os.WriteFile(path, edited, 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	tampered, err := NewPersistentEventJournal(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	if err := tampered.VerifyChain(); err == nil {
		t.Fatal("expected chain verification to fail")
	}
}

func TestJournalEncryptedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.enc")
	j, err := NewEncryptedPersistentEventJournal(path, "hunter2")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := j.Append(depositEvent(10)); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := NewEncryptedPersistentEventJournal(path, "hunter2")
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	if reopened.LastSeq() != 1 {
		t.Fatalf("last seq after reopen: got %d, want 1", reopened.LastSeq())
	}
	if err := reopened.VerifyChain(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestJournalEmptyAppendIsNoop(t *testing.T) {
	j := NewEventJournal()
	recs, err := j.Append()
	if err != nil || recs != nil {
		t.Fatalf("empty append: recs=%v err=%v", recs, err)
	}
	if j.LastSeq() != 0 {
		t.Fatalf("last seq: got %d, want 0", j.LastSeq())
	}
}
