package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/KEI-finance/treasury-contracts/internal/securestore"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

// EventJournal is the append-only record of committed treasury events.
// Each record carries a sequence number, a timestamp and a hash chained
// over the previous record, so any rewrite of history is detectable.
type EventJournal struct {
	mu       sync.RWMutex
	records  []treasury.Record
	nextSeq  uint64
	lastHash string
	path     string
	secret   string
}

func NewEventJournal() *EventJournal {
	return &EventJournal{nextSeq: 1}
}

func NewPersistentEventJournal(path string) (*EventJournal, error) {
	return NewEncryptedPersistentEventJournal(path, "")
}

func NewEncryptedPersistentEventJournal(path, passphrase string) (*EventJournal, error) {
	j := &EventJournal{nextSeq: 1, path: path, secret: passphrase}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append sequences, hashes and persists the events as one batch. Either
// the whole batch commits or none of it does.
func (j *EventJournal) Append(events ...treasury.Event) ([]treasury.Record, error) {
	if len(events) == 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	appended := make([]treasury.Record, 0, len(events))
	prevHash := j.lastHash
	seq := j.nextSeq
	for _, ev := range events {
		rec := treasury.Record{Seq: seq, Time: now, Event: ev}
		hash, err := chainHash(prevHash, rec)
		if err != nil {
			return nil, err
		}
		rec.Hash = hash
		appended = append(appended, rec)
		prevHash = hash
		seq++
	}

	next := make([]treasury.Record, 0, len(j.records)+len(appended))
	next = append(next, j.records...)
	next = append(next, appended...)
	if err := j.persistSnapshotLocked(next); err != nil {
		return nil, err
	}
	j.records = next
	j.nextSeq = seq
	j.lastHash = prevHash
	return appended, nil
}

// Records returns records with sequence numbers strictly greater than
// afterSeq, at most limit of them (zero means no limit).
func (j *EventJournal) Records(afterSeq uint64, limit int) []treasury.Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]treasury.Record, 0)
	for _, rec := range j.records {
		if rec.Seq <= afterSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest record, zero when empty.
func (j *EventJournal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextSeq - 1
}

func (j *EventJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// VerifyChain walks the journal and recomputes every link. It reports
// the first record whose hash does not match its content and
// predecessor.
func (j *EventJournal) VerifyChain() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	prevHash := ""
	for _, rec := range j.records {
		want, err := chainHash(prevHash, treasury.Record{Seq: rec.Seq, Time: rec.Time, Event: rec.Event})
		if err != nil {
			return err
		}
		if rec.Hash != want {
			return &treasury.ChainBreakError{Seq: rec.Seq}
		}
		prevHash = rec.Hash
	}
	return nil
}

func (j *EventJournal) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.path == "" {
		return nil
	}
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if j.secret != "" {
		decoded, err = securestore.Decrypt(j.secret, data)
		if err != nil {
			if errors.Is(err, securestore.ErrLegacyData) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot struct {
		Records []treasury.Record `json:"records"`
	}
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	j.records = snapshot.Records
	if n := len(j.records); n > 0 {
		j.nextSeq = j.records[n-1].Seq + 1
		j.lastHash = j.records[n-1].Hash
	}
	return nil
}

func (j *EventJournal) persistSnapshotLocked(records []treasury.Record) error {
	if j.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	snapshot := struct {
		Records []treasury.Record `json:"records"`
	}{Records: records}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if j.secret != "" {
		data, err = securestore.Encrypt(j.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(j.path, data, 0o600)
}

func chainHash(prevHash string, rec treasury.Record) (string, error) {
	payload, err := json.Marshal(struct {
		Prev  string         `json:"prev"`
		Seq   uint64         `json:"seq"`
		Time  time.Time      `json:"time"`
		Event treasury.Event `json:"event"`
	}{Prev: prevHash, Seq: rec.Seq, Time: rec.Time, Event: rec.Event})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
