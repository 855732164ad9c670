// Package meta implements the transaction metadata set: the canonical,
// binary-faithful record of a transaction's effect on the ledger, following
// rippled's TransactionMetaSet model.
package meta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedMetadata is returned by Deserialize when the buffer is
// empty, truncated, or followed by trailing bytes. Field names are not
// checked: unknown names are decoded and carried opaquely.
var ErrMalformedMetadata = errors.New("meta: malformed metadata")

// Hash256 is a 32-byte ledger object index.
type Hash256 [32]byte

// AccountID is the 160-bit account identifier derived from a public key
// (the same shape rippled derives via RIPEMD-160 over a SHA-256 digest;
// the hash itself is computed by the external crypto layer, not here).
type AccountID [20]byte

// NodeKind discriminates how a transaction affected a ledger entry.
type NodeKind uint8

const (
	Created NodeKind = iota
	Modified
	Deleted
)

// Field is one named value inside a node's field subset (NewFields,
// FinalFields, PreviousFields). Name is matched case-sensitively against
// the well-known field names this package understands
// (Account, Owner, LowLimit, HighLimit, TakerPays, TakerGets); any other
// name is carried opaquely as raw bytes for round-tripping.
type Field struct {
	Name string
	Raw  []byte
	// Account, if non-nil, is this field's account value; set for
	// Account/Owner fields and for amount fields carrying a nonzero
	// issuer (LowLimit/HighLimit/TakerPays/TakerGets).
	Account *AccountID
}

// AffectedNode is one entry in a TransactionMetaSet's affectedNodes list.
type AffectedNode struct {
	LedgerIndex     Hash256
	LedgerEntryType uint16
	Kind            NodeKind

	NewFields      []Field
	FinalFields    []Field
	PreviousFields []Field

	hasPrevTxn        bool
	PreviousTxnID     Hash256
	PreviousTxnLgrSeq uint32
}

// Set is the transaction metadata set for one transaction: the ordered
// collection of ledger mutations it produced, plus the outer
// result/index pair finalize attaches.
type Set struct {
	txID      Hash256
	ledgerSeq uint32
	nodes     []*AffectedNode
	result    uint8
	txnIndex  uint32
	finalized bool
}

// New creates an empty metadata set for the given transaction and ledger.
func New(txID Hash256, ledgerSeq uint32) *Set {
	return &Set{txID: txID, ledgerSeq: ledgerSeq}
}

// TxID returns the transaction this set describes.
func (s *Set) TxID() Hash256 { return s.txID }

// LedgerSeq returns the ledger sequence this set was recorded against.
func (s *Set) LedgerSeq() uint32 { return s.ledgerSeq }

// Nodes returns the affected nodes in their current (unsorted) order.
func (s *Set) Nodes() []*AffectedNode { return s.nodes }

// Affect finds or creates the node for the given ledger index, sets its
// type and kind, and returns it. Idempotent: calling Affect again for the
// same node updates its kind/entryType in place rather than appending a
// duplicate.
func (s *Set) Affect(node Hash256, entryType uint16, kind NodeKind) *AffectedNode {
	for _, n := range s.nodes {
		if n.LedgerIndex == node {
			n.LedgerEntryType = entryType
			n.Kind = kind
			return n
		}
	}
	n := &AffectedNode{LedgerIndex: node, LedgerEntryType: entryType, Kind: kind}
	s.nodes = append(s.nodes, n)
	return n
}

// Thread stitches a ledger entry's transaction history: if node has no
// PreviousTxnID yet, it is set to (prevTxID, prevLedgerSeq) and Thread
// returns true. If node already carries a previous-transaction pointer,
// Thread asserts it matches and returns false without modifying node.
func (s *Set) Thread(node *AffectedNode, prevTxID Hash256, prevLedgerSeq uint32) bool {
	if !node.hasPrevTxn {
		node.PreviousTxnID = prevTxID
		node.PreviousTxnLgrSeq = prevLedgerSeq
		node.hasPrevTxn = true
		return true
	}
	if node.PreviousTxnID != prevTxID || node.PreviousTxnLgrSeq != prevLedgerSeq {
		panic(fmt.Sprintf("meta: thread mismatch on node %x: have (%x,%d), want (%x,%d)",
			node.LedgerIndex, node.PreviousTxnID, node.PreviousTxnLgrSeq, prevTxID, prevLedgerSeq))
	}
	return false
}

// accountFieldNames are field names treated as direct account references.
var accountFieldNames = map[string]bool{"Account": true, "Owner": true}

// issuedAmountFieldNames are field names whose account reference (if any)
// is the amount's issuer rather than the field's own value.
var issuedAmountFieldNames = map[string]bool{
	"LowLimit": true, "HighLimit": true, "TakerPays": true, "TakerGets": true,
}

// AffectedAccounts returns the union of every account referenced by this
// set's nodes: Account/Owner fields in NewFields/FinalFields, plus the
// nonzero issuer of any LowLimit/HighLimit/TakerPays/TakerGets amount.
func (s *Set) AffectedAccounts() map[AccountID]struct{} {
	accounts := make(map[AccountID]struct{}, 10)
	for _, n := range s.nodes {
		for _, fields := range [][]Field{n.NewFields, n.FinalFields} {
			for _, f := range fields {
				if f.Account == nil {
					continue
				}
				if accountFieldNames[f.Name] || issuedAmountFieldNames[f.Name] {
					var zero AccountID
					if *f.Account != zero {
						accounts[*f.Account] = struct{}{}
					}
				}
			}
		}
	}
	return accounts
}

// compareByLedgerIndex sorts nodes ascending by LedgerIndex, the canonical
// order required before serialisation.
func compareByLedgerIndex(nodes []*AffectedNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i].LedgerIndex[:], nodes[j].LedgerIndex[:]) < 0
	})
}

// Finalize sorts affectedNodes ascending by ledgerIndex, records result and
// index, and serialises the set as a canonical TransactionMetaData object.
// Finalize may be called more than once (e.g. to re-derive bytes after
// Deserialize); each call re-sorts and re-serialises from current state.
func (s *Set) Finalize(result uint8, index uint32) []byte {
	s.result = result
	s.txnIndex = index
	s.finalized = true

	compareByLedgerIndex(s.nodes)

	var buf bytes.Buffer
	buf.WriteByte(s.result)

	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], s.txnIndex)
	buf.Write(idxBuf[:])

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.nodes)))
	buf.Write(countBuf[:])

	for _, n := range s.nodes {
		encodeNode(&buf, n)
	}

	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, n *AffectedNode) {
	buf.Write(n.LedgerIndex[:])

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], n.LedgerEntryType)
	buf.Write(u16[:])

	buf.WriteByte(byte(n.Kind))

	encodeFieldList(buf, n.NewFields)
	encodeFieldList(buf, n.FinalFields)
	encodeFieldList(buf, n.PreviousFields)

	if n.hasPrevTxn {
		buf.WriteByte(1)
		buf.Write(n.PreviousTxnID[:])
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], n.PreviousTxnLgrSeq)
		buf.Write(u32[:])
	} else {
		buf.WriteByte(0)
	}
}

func encodeFieldList(buf *bytes.Buffer, fields []Field) {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(fields)))
	buf.Write(countBuf[:])

	for _, f := range fields {
		nameBytes := []byte(f.Name)
		var nameLen [2]byte
		binary.BigEndian.PutUint16(nameLen[:], uint16(len(nameBytes)))
		buf.Write(nameLen[:])
		buf.Write(nameBytes)

		if f.Account != nil {
			buf.WriteByte(1)
			buf.Write(f.Account[:])
		} else {
			buf.WriteByte(0)
		}

		var rawLen [4]byte
		binary.BigEndian.PutUint32(rawLen[:], uint32(len(f.Raw)))
		buf.Write(rawLen[:])
		buf.Write(f.Raw)
	}
}

// Deserialize reconstructs a Set from bytes produced by Finalize. It
// returns ErrMalformedMetadata (wrapped with context) if the buffer is
// truncated or otherwise inconsistent.
func Deserialize(txID Hash256, ledgerSeq uint32, data []byte) (*Set, error) {
	r := bytes.NewReader(data)

	result, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading TransactionResult: %v", ErrMalformedMetadata, err)
	}

	var idxBuf [4]byte
	if _, err := readFull(r, idxBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading TransactionIndex: %v", ErrMalformedMetadata, err)
	}
	index := binary.BigEndian.Uint32(idxBuf[:])

	var countBuf [4]byte
	if _, err := readFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading node count: %v", ErrMalformedMetadata, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	s := New(txID, ledgerSeq)
	s.result = result
	s.txnIndex = index
	s.finalized = true

	for i := uint32(0); i < count; i++ {
		n, err := decodeNode(r)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrMalformedMetadata, i, err)
		}
		s.nodes = append(s.nodes, n)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMetadata, r.Len())
	}

	return s, nil
}

func decodeNode(r *bytes.Reader) (*AffectedNode, error) {
	n := &AffectedNode{}

	if _, err := readFull(r, n.LedgerIndex[:]); err != nil {
		return nil, err
	}

	var u16 [2]byte
	if _, err := readFull(r, u16[:]); err != nil {
		return nil, err
	}
	n.LedgerEntryType = binary.BigEndian.Uint16(u16[:])

	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	n.Kind = NodeKind(kind)

	var decErr error
	if n.NewFields, decErr = decodeFieldList(r); decErr != nil {
		return nil, decErr
	}
	if n.FinalFields, decErr = decodeFieldList(r); decErr != nil {
		return nil, decErr
	}
	if n.PreviousFields, decErr = decodeFieldList(r); decErr != nil {
		return nil, decErr
	}

	hasPrev, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasPrev == 1 {
		n.hasPrevTxn = true
		if _, err := readFull(r, n.PreviousTxnID[:]); err != nil {
			return nil, err
		}
		var u32 [4]byte
		if _, err := readFull(r, u32[:]); err != nil {
			return nil, err
		}
		n.PreviousTxnLgrSeq = binary.BigEndian.Uint32(u32[:])
	}

	return n, nil
}

func decodeFieldList(r *bytes.Reader) ([]Field, error) {
	var countBuf [4]byte
	if _, err := readFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	fields := make([]Field, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen [2]byte
		if _, err := readFull(r, nameLen[:]); err != nil {
			return nil, err
		}
		name := make([]byte, binary.BigEndian.Uint16(nameLen[:]))
		if _, err := readFull(r, name); err != nil {
			return nil, err
		}

		hasAccount, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var account *AccountID
		if hasAccount == 1 {
			var a AccountID
			if _, err := readFull(r, a[:]); err != nil {
				return nil, err
			}
			account = &a
		}

		var rawLen [4]byte
		if _, err := readFull(r, rawLen[:]); err != nil {
			return nil, err
		}
		raw := make([]byte, binary.BigEndian.Uint32(rawLen[:]))
		if _, err := readFull(r, raw); err != nil {
			return nil, err
		}

		fields = append(fields, Field{Name: string(name), Raw: raw, Account: account})
	}
	return fields, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("short read: got %d, want %d", n, len(buf))
	}
	return n, nil
}
