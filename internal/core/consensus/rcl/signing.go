package rcl

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/crypto"
	crypto2 "github.com/LeJamon/goXRPLd/internal/crypto/common"
	"github.com/LeJamon/goXRPLd/internal/protocol"
)

// ErrNotAValidator is returned when signing is attempted without a validator key.
var ErrNotAValidator = errors.New("rcl: node has no validator key configured")

// ValidatorKey signs and verifies proposals and validations on behalf of a
// single validator identity. It is the reference Adaptor.Sign*/Verify*
// implementation: production adaptors embed it alongside their network and
// ledger-store wiring rather than reimplementing signing from scratch.
type ValidatorKey struct {
	wrapper    *crypto.CryptoWrapper
	publicHex  string
	privateHex string
	nodeID     consensus.NodeID
}

// NewValidatorKey wraps an already-generated keypair for signing. publicHex
// and privateHex are the hex-encoded, type-prefixed keys produced by
// CryptoWrapper.GenerateKeypair.
func NewValidatorKey(wrapper *crypto.CryptoWrapper, publicHex, privateHex string) (*ValidatorKey, error) {
	pubBytes, err := hex.DecodeString(publicHex)
	if err != nil {
		return nil, err
	}
	if !crypto.IsValidPublicKey(pubBytes) {
		return nil, errUnrecognizedKeyFormat
	}
	if keyType := crypto.PublicKeyType(pubBytes); keyType != walletKeyType(wrapper) {
		return nil, fmt.Errorf("rcl: public key type %s does not match wrapper type %s", keyType, walletKeyType(wrapper))
	}
	var nodeID consensus.NodeID
	copy(nodeID[:], pubBytes)
	return &ValidatorKey{wrapper: wrapper, publicHex: publicHex, privateHex: privateHex, nodeID: nodeID}, nil
}

// walletKeyType maps a CryptoWrapper's algorithm to the KeyType the node's
// public key bytes are expected to carry.
func walletKeyType(wrapper *crypto.CryptoWrapper) crypto.KeyType {
	if wrapper.GetCryptoType() == crypto.SECP256K1 {
		return crypto.KeyTypeSecp256k1
	}
	return crypto.KeyTypeEd25519
}

// NodeID returns the public identity corresponding to this key.
func (k *ValidatorKey) NodeID() consensus.NodeID { return k.nodeID }

// AccountID returns the 160-bit identifier derived from this validator's
// public key, RIPEMD160(SHA256(publicKey)).
func (k *ValidatorKey) AccountID() [crypto.AccountIDSize]byte {
	return crypto.CalcAccountID(k.nodeID[:])
}

// SignProposal computes the proposal's signing hash and sets its Signature.
func (k *ValidatorKey) SignProposal(p *consensus.Proposal) error {
	if k == nil {
		return ErrNotAValidator
	}
	digest := proposalSigningHash(p)
	sigHex, err := k.wrapper.SignMessage(string(digest[:]), k.privateHex)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return err
	}
	p.NodeID = k.nodeID
	p.Signature = sig
	return nil
}

// VerifyProposal recomputes the signing hash, checks the signature against
// the proposer's embedded public key, and rejects a non-canonical
// signature even if it verifies: a malleable (R, G-S) resubmission of an
// already-accepted proposal must not be treated as a distinct, newer
// position.
func VerifyProposal(wrapper *crypto.CryptoWrapper, p *consensus.Proposal) error {
	digest := proposalSigningHash(p)
	pubHex := strings.ToUpper(hex.EncodeToString(p.NodeID[:]))
	sigHex := strings.ToUpper(hex.EncodeToString(p.Signature))
	if !wrapper.VerifySignature(string(digest[:]), pubHex, sigHex) {
		return errInvalidProposalSignature
	}
	if !signatureCanonical(wrapper, p.Signature) {
		return errNonCanonicalSignature
	}
	return nil
}

// SignValidation computes the validation's signing hash and sets its Signature.
func (k *ValidatorKey) SignValidation(v *consensus.Validation) error {
	if k == nil {
		return ErrNotAValidator
	}
	digest := validationSigningHash(v)
	sigHex, err := k.wrapper.SignMessage(string(digest[:]), k.privateHex)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return err
	}
	v.NodeID = k.nodeID
	v.Signature = sig
	return nil
}

// VerifyValidation recomputes the signing hash and checks the signature
// against the validator's embedded public key, applying the same
// canonicality requirement as VerifyProposal.
func VerifyValidation(wrapper *crypto.CryptoWrapper, v *consensus.Validation) error {
	digest := validationSigningHash(v)
	pubHex := strings.ToUpper(hex.EncodeToString(v.NodeID[:]))
	sigHex := strings.ToUpper(hex.EncodeToString(v.Signature))
	if !wrapper.VerifySignature(string(digest[:]), pubHex, sigHex) {
		return errInvalidValidationSignature
	}
	if !signatureCanonical(wrapper, v.Signature) {
		return errNonCanonicalSignature
	}
	return nil
}

// signatureCanonical applies the malleability check appropriate to the
// wrapper's algorithm. secp256k1 signatures are DER-encoded and must be
// fully canonical (low S); Ed25519 signatures must have S below the
// subgroup order. See https://xrpl.org/transaction-malleability.html.
func signatureCanonical(wrapper *crypto.CryptoWrapper, sig []byte) bool {
	if wrapper.GetCryptoType() == crypto.SECP256K1 {
		return crypto.ECDSACanonicality(sig) == crypto.CanonicityFullyCanonical
	}
	return crypto.Ed25519Canonical(sig)
}

var (
	errInvalidProposalSignature   = errors.New("rcl: invalid proposal signature")
	errInvalidValidationSignature = errors.New("rcl: invalid validation signature")
	errNonCanonicalSignature      = errors.New("rcl: non-canonical signature")
	errUnrecognizedKeyFormat      = errors.New("rcl: unrecognized public key format")
)

// proposalSigningHash builds the domain-separated digest a validator signs
// over: HashPrefixProposal followed by the fields that define the proposer's
// position, in wire order. The signature itself is excluded.
func proposalSigningHash(p *consensus.Proposal) [32]byte {
	buf := make([]byte, 0, 4+4+4+32+32+8)
	buf = append(buf, protocol.HashPrefixProposal[:]...)

	var seqBuf, posBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], p.Round.Seq)
	binary.BigEndian.PutUint32(posBuf[:], p.Position)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, posBuf[:]...)

	buf = append(buf, p.PreviousLedger[:]...)
	buf = append(buf, p.TxSet[:]...)

	var closeBuf [8]byte
	binary.BigEndian.PutUint64(closeBuf[:], uint64(p.CloseTime.Unix()))
	buf = append(buf, closeBuf[:]...)

	return crypto2.Sha512Half(buf)
}

// validationSigningHash builds the domain-separated digest a validator signs
// over for a validation message.
func validationSigningHash(v *consensus.Validation) [32]byte {
	buf := make([]byte, 0, 4+4+32+8+4)
	buf = append(buf, protocol.HashPrefixValidation[:]...)

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], v.LedgerSeq)
	buf = append(buf, seqBuf[:]...)

	buf = append(buf, v.LedgerID[:]...)

	var signBuf [8]byte
	binary.BigEndian.PutUint64(signBuf[:], uint64(v.SignTime.Unix()))
	buf = append(buf, signBuf[:]...)

	var feeBuf [4]byte
	binary.BigEndian.PutUint32(feeBuf[:], v.LoadFee)
	buf = append(buf, feeBuf[:]...)

	return crypto2.Sha512Half(buf)
}
