// Package audit persists one row per completed consensus round to an
// embedded SQLite database. It is a diagnostics/forensics trail, not a
// source of truth the driver reads back from during a round.
package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/meta"
)

const schema = `
CREATE TABLE IF NOT EXISTS round_stats (
	seq          INTEGER NOT NULL,
	parent_hash  TEXT NOT NULL,
	tx_set       TEXT NOT NULL,
	close_time   INTEGER NOT NULL,
	proposers    INTEGER NOT NULL,
	result       TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	recorded_at  INTEGER NOT NULL,
	PRIMARY KEY (seq, parent_hash)
);
CREATE TABLE IF NOT EXISTS tx_meta (
	tx_id       TEXT NOT NULL PRIMARY KEY,
	ledger_seq  INTEGER NOT NULL,
	meta        BLOB NOT NULL
);
`

// Log writes RoundStats rows to a SQLite database opened at a file path (or
// ":memory:" for tests).
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the round_stats table exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	// A single connection keeps an in-memory database (":memory:") coherent
	// across calls; sqlite's own locking makes this safe for a file path too.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordRound inserts a row for a completed round. It is idempotent on
// (seq, parent_hash): a duplicate call for the same round is ignored rather
// than erroring, since the driver may legitimately re-emit
// ConsensusReachedEvent on a late observer catch-up.
func (l *Log) RecordRound(ctx context.Context, ev *consensus.ConsensusReachedEvent) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO round_stats
			(seq, parent_hash, tx_set, close_time, proposers, result, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Round.Seq,
		hex.EncodeToString(ev.Round.ParentHash[:]),
		hex.EncodeToString(ev.TxSet[:]),
		ev.CloseTime.Unix(),
		ev.Proposers,
		ev.Result.String(),
		ev.Duration.Milliseconds(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert round %d: %w", ev.Round.Seq, err)
	}
	return nil
}

// OnEvent implements consensus.EventSubscriber: it records every
// ConsensusReachedEvent and ignores every other event type, since
// round-level statistics are the only thing this log persists.
func (l *Log) OnEvent(ev consensus.Event) {
	reached, ok := ev.(*consensus.ConsensusReachedEvent)
	if !ok {
		return
	}
	l.RecordRound(context.Background(), reached)
}

// RecordTransactionMeta stores a finalized transaction metadata blob,
// lz4-compressed, keyed by transaction id. Re-recording the same
// transaction replaces the row; metadata is deterministic for a given
// (transaction, ledger) so the replacement is byte-identical in practice.
func (l *Log) RecordTransactionMeta(ctx context.Context, txID meta.Hash256, ledgerSeq uint32, finalized []byte) error {
	blob, err := meta.CompressForAudit(finalized)
	if err != nil {
		return fmt.Errorf("audit: compress meta for %x: %w", txID[:4], err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tx_meta (tx_id, ledger_seq, meta) VALUES (?, ?, ?)`,
		hex.EncodeToString(txID[:]), ledgerSeq, blob)
	if err != nil {
		return fmt.Errorf("audit: insert meta for %x: %w", txID[:4], err)
	}
	return nil
}

// TransactionMeta loads and decodes a previously recorded metadata set.
// Returns nil with no error if the transaction has no recorded metadata.
func (l *Log) TransactionMeta(ctx context.Context, txID meta.Hash256) (*meta.Set, error) {
	var (
		ledgerSeq uint32
		blob      []byte
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT ledger_seq, meta FROM tx_meta WHERE tx_id = ?`,
		hex.EncodeToString(txID[:])).Scan(&ledgerSeq, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: query meta for %x: %w", txID[:4], err)
	}

	finalized, err := meta.DecompressFromAudit(blob)
	if err != nil {
		return nil, fmt.Errorf("audit: meta for %x: %w", txID[:4], err)
	}
	set, err := meta.Deserialize(txID, ledgerSeq, finalized)
	if err != nil {
		return nil, fmt.Errorf("audit: meta for %x: %w", txID[:4], err)
	}
	return set, nil
}

// RoundStat is a row read back from the log, used by diagnostics tooling.
type RoundStat struct {
	Seq        uint32
	ParentHash string
	TxSet      string
	CloseTime  time.Time
	Proposers  int
	Result     string
	Duration   time.Duration
	RecordedAt time.Time
}

// LastRound returns the most recently recorded round, with ok reporting
// whether any round has been recorded at all. A restarted driver uses this
// to prime its previous-round statistics instead of starting from zero.
func (l *Log) LastRound(ctx context.Context) (RoundStat, bool, error) {
	rows, err := l.Recent(ctx, 1)
	if err != nil {
		return RoundStat{}, false, err
	}
	if len(rows) == 0 {
		return RoundStat{}, false, nil
	}
	return rows[0], true, nil
}

// Recent returns up to limit most recently recorded rounds, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]RoundStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seq, parent_hash, tx_set, close_time, proposers, result, duration_ms, recorded_at
		 FROM round_stats ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []RoundStat
	for rows.Next() {
		var (
			r                     RoundStat
			closeTime, recordedAt int64
			durationMs            int64
		)
		if err := rows.Scan(&r.Seq, &r.ParentHash, &r.TxSet, &closeTime, &r.Proposers, &r.Result, &durationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		r.CloseTime = time.Unix(closeTime, 0).UTC()
		r.RecordedAt = time.Unix(recordedAt, 0).UTC()
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
