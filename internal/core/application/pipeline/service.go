package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// psbtGlobalVersionType is the key type of the global PSBT_GLOBAL_VERSION
// field, unknown to the psbt parser and therefore found among the unknowns.
const psbtGlobalVersionType = 0xfb

// SIGHASH_NONE is left out since it lets anyone redirect the outputs.
var supportedSighashTypes = map[txscript.SigHashType]struct{}{
	txscript.SigHashAll:                                   {},
	txscript.SigHashSingle:                                {},
	txscript.SigHashAll | txscript.SigHashAnyOneCanPay:    {},
	txscript.SigHashSingle | txscript.SigHashAnyOneCanPay: {},
}

// Ledger resolves psbt inputs against the utxo snapshots of the accounts.
type Ledger interface {
	Lookup(
		ctx context.Context, accountIds []domain.AccountId, key domain.UtxoKey,
	) (*domain.OwnedUtxo, error)
	VerifyOwnership(utxo domain.Utxo, accountId domain.AccountId) bool
}

// AccountRegistry returns the derivation info of the accounts known to the
// bridge.
type AccountRegistry interface {
	GetAccount(accountId domain.AccountId) (*domain.DerivedAccount, bool)
}

// Session is the in-memory state of a psbt signing request. It's never
// persisted.
type Session struct {
	*domain.PsbtSession

	packet *psbt.Packet
	txid   string
}

// Packet returns the psbt as of the latest step.
func (s *Session) Packet() *psbt.Packet {
	return s.packet
}

// TxID returns the hash of the extracted transaction, empty until finalized.
func (s *Session) TxID() string {
	return s.txid
}

// Service is the psbt decode -> verify -> sign -> finalize pipeline. The
// bridge never builds raw signatures outside of it.
type Service struct {
	ledger   Ledger
	accounts AccountRegistry
	custody  ports.Custody
	chain    ports.ChainRPC
	network  *domain.Network
}

func NewService(
	ledger Ledger,
	accounts AccountRegistry,
	custody ports.Custody,
	chain ports.ChainRPC,
	network *domain.Network,
) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("missing utxo ledger")
	}
	if accounts == nil {
		return nil, fmt.Errorf("missing account registry")
	}
	if custody == nil {
		return nil, fmt.Errorf("missing custody")
	}
	if chain == nil {
		return nil, fmt.Errorf("missing chain rpc")
	}
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	return &Service{ledger, accounts, custody, chain, network}, nil
}

// Decode parses a base64 encoded psbt. Only version 0 psbts with at least one
// input are accepted.
func (s *Service) Decode(rawBase64 string) (*Session, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(rawBase64), true)
	if err != nil {
		return nil, s.psbtError(
			domain.ErrMalformedPsbt, domain.StepDecode, domain.NoInput, err, "",
		)
	}

	for _, u := range packet.Unknowns {
		if len(u.Key) == 1 && u.Key[0] == psbtGlobalVersionType {
			if !bytes.Equal(u.Value, []byte{0, 0, 0, 0}) {
				return nil, domain.NewPsbtError(
					domain.ErrMalformedPsbt, domain.StepDecode, domain.NoInput,
					"unsupported psbt version %x", u.Value,
				)
			}
		}
	}

	if len(packet.UnsignedTx.TxIn) == 0 {
		return nil, domain.NewPsbtError(
			domain.ErrMalformedPsbt, domain.StepDecode, domain.NoInput,
			"psbt has no inputs",
		)
	}

	keys := make([]domain.UtxoKey, 0, len(packet.UnsignedTx.TxIn))
	for _, in := range packet.UnsignedTx.TxIn {
		keys = append(keys, domain.UtxoKey{
			TxID: in.PreviousOutPoint.Hash.String(),
			VOut: in.PreviousOutPoint.Index,
		})
	}

	session := &Session{
		PsbtSession: domain.NewPsbtSession(rawBase64, keys),
		packet:      packet,
	}
	log.Debugf("psbt %s decoded with %d inputs", session.ID, len(keys))
	return session, nil
}

// VerifyInputs makes sure that every input spends a fresh utxo owned by one
// of the authorized accounts and that the prevout info carried by the psbt
// matches the one of the ledger. Missing prevout info is added.
func (s *Service) VerifyInputs(
	ctx context.Context, session *Session, authorized []domain.AccountId,
) error {
	if session.Status != domain.PsbtStatusDecoded {
		return domain.NewError(
			domain.ErrInvalidPsbtTransition,
			"psbt %s: cannot verify inputs in status %s",
			session.ID, session.Status,
		)
	}

	owners := make([]domain.AccountId, 0, len(session.Inputs))
	for _, in := range session.Inputs {
		owner, err := s.verifyInput(ctx, session.packet, in, authorized)
		if err != nil {
			session.Reject(err)
			return err
		}
		owners = append(owners, owner)
	}

	if err := session.PsbtSession.VerifyInputs(owners); err != nil {
		session.Reject(err)
		return err
	}
	return s.encode(session)
}

// Sign signs every input owned by accountId. The account must be among the
// authorized ones, signing for any other account is denied.
func (s *Service) Sign(
	ctx context.Context,
	session *Session,
	accountId domain.AccountId,
	authorized []domain.AccountId,
) error {
	if !session.CanSign() {
		return domain.NewError(
			domain.ErrInvalidPsbtTransition,
			"psbt %s: cannot sign in status %s", session.ID, session.Status,
		)
	}

	if !containsAccount(authorized, accountId) {
		err := domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput,
			"account %s is not authorized", accountId,
		)
		session.Reject(err)
		return err
	}

	account, ok := s.accounts.GetAccount(accountId)
	if !ok {
		err := domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput,
			"account %s is not derived", accountId,
		)
		session.Reject(err)
		return err
	}

	indexes := session.InputsOwnedBy(accountId)
	if len(indexes) == 0 {
		err := domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput,
			"account %s owns no input", accountId,
		)
		session.Reject(err)
		return err
	}

	if err := s.signInputs(ctx, session, account, indexes); err != nil {
		session.Reject(err)
		return err
	}

	rawBase64, err := session.packet.B64Encode()
	if err != nil {
		return s.psbtError(
			domain.ErrMalformedPsbt, domain.StepSign, domain.NoInput, err, "encode",
		)
	}
	return session.PsbtSession.Sign(rawBase64)
}

// Finalize finalizes every input and extracts the network serialized
// transaction. Finalizing an already finalized session returns the same
// transaction without any further processing.
func (s *Service) Finalize(session *Session) (string, error) {
	if session.IsFinalized() {
		return session.RawHex, nil
	}
	if session.IsTerminal() {
		return "", domain.NewError(
			domain.ErrInvalidPsbtTransition,
			"psbt %s: cannot finalize in status %s", session.ID, session.Status,
		)
	}

	packet := session.packet
	for i, in := range packet.Inputs {
		if len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0 {
			continue
		}
		if len(in.PartialSigs) == 0 {
			err := domain.NewPsbtError(
				domain.ErrIncompleteSignatures, domain.StepFinalize, i,
				"missing signature",
			)
			session.Reject(err)
			return "", err
		}
	}

	for i := range packet.Inputs {
		if _, err := psbt.MaybeFinalize(packet, i); err != nil {
			bridgeErr := s.psbtError(
				domain.ErrIncompleteSignatures, domain.StepFinalize, i, err,
				"cannot finalize input",
			)
			session.Reject(bridgeErr)
			return "", bridgeErr
		}
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		bridgeErr := s.psbtError(
			domain.ErrIncompleteSignatures, domain.StepFinalize, domain.NoInput,
			err, "cannot extract transaction",
		)
		session.Reject(bridgeErr)
		return "", bridgeErr
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", s.psbtError(
			domain.ErrMalformedPsbt, domain.StepFinalize, domain.NoInput, err,
			"cannot serialize transaction",
		)
	}
	rawHex := hex.EncodeToString(buf.Bytes())

	if err := session.PsbtSession.Finalize(rawHex); err != nil {
		return "", err
	}
	session.txid = tx.TxHash().String()

	log.Debugf("psbt %s finalized into tx %s", session.ID, session.txid)
	return rawHex, nil
}

func (s *Service) verifyInput(
	ctx context.Context,
	packet *psbt.Packet,
	in domain.PsbtInputRef,
	authorized []domain.AccountId,
) (domain.AccountId, error) {
	owned, err := s.ledger.Lookup(ctx, authorized, in.Key)
	if err != nil {
		return domain.AccountId{}, s.psbtError(
			domain.ErrUnknownInput, domain.StepVerifyInputs, in.Index, err,
			"cannot look up utxo %s", in.Key,
		)
	}
	if owned == nil {
		return domain.AccountId{}, domain.NewPsbtError(
			domain.ErrUnknownInput, domain.StepVerifyInputs, in.Index,
			"utxo %s not owned by session accounts", in.Key,
		)
	}
	if owned.Stale {
		return domain.AccountId{}, domain.NewPsbtError(
			domain.ErrUnknownInput, domain.StepVerifyInputs, in.Index,
			"utxo %s belongs to a stale snapshot, refresh required", in.Key,
		)
	}
	if !s.ledger.VerifyOwnership(owned.Utxo, owned.Owner) {
		return domain.AccountId{}, domain.NewPsbtError(
			domain.ErrUnknownInput, domain.StepVerifyInputs, in.Index,
			"utxo %s script does not match account %s", in.Key, owned.Owner,
		)
	}

	expected := wire.NewTxOut(int64(owned.Utxo.Value), owned.Utxo.ScriptPubKey)
	if err := s.checkPrevout(ctx, packet, in.Index, expected); err != nil {
		return domain.AccountId{}, err
	}
	return owned.Owner, nil
}

// checkPrevout compares the prevout carried by the psbt input, if any, with
// the expected one. If missing, the prevout is added: legacy inputs get the
// whole previous transaction as required to compute their sighash safely.
func (s *Service) checkPrevout(
	ctx context.Context, packet *psbt.Packet, index int, expected *wire.TxOut,
) error {
	pInput := &packet.Inputs[index]
	outpoint := packet.UnsignedTx.TxIn[index].PreviousOutPoint

	if pInput.NonWitnessUtxo != nil {
		if err := checkNonWitnessUtxo(
			pInput.NonWitnessUtxo, outpoint, expected,
		); err != nil {
			return domain.NewPsbtError(
				domain.ErrUnknownInput, domain.StepVerifyInputs, index, "%s", err,
			)
		}
	}
	if pInput.WitnessUtxo != nil {
		if !psbt.TxOutsEqual(pInput.WitnessUtxo, expected) {
			return domain.NewPsbtError(
				domain.ErrUnknownInput, domain.StepVerifyInputs, index,
				"witness utxo does not match utxo %s", outpoint,
			)
		}
	}
	if pInput.NonWitnessUtxo != nil || pInput.WitnessUtxo != nil {
		return nil
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return s.psbtError(
			domain.ErrMalformedPsbt, domain.StepVerifyInputs, index, err, "",
		)
	}

	if txscript.IsPayToWitnessPubKeyHash(expected.PkScript) {
		if err := updater.AddInWitnessUtxo(expected, index); err != nil {
			return s.psbtError(
				domain.ErrMalformedPsbt, domain.StepVerifyInputs, index, err,
				"cannot add witness utxo",
			)
		}
		return nil
	}

	txHex, err := s.chain.GetRawTransaction(ctx, outpoint.Hash.String())
	if err != nil {
		return err
	}
	prevTx, err := decodeTx(txHex)
	if err != nil {
		return domain.WrapError(
			domain.ErrRpc, err, "invalid raw transaction %s", outpoint.Hash,
		)
	}
	if err := checkNonWitnessUtxo(prevTx, outpoint, expected); err != nil {
		return domain.NewPsbtError(
			domain.ErrUnknownInput, domain.StepVerifyInputs, index, "%s", err,
		)
	}
	if err := updater.AddInNonWitnessUtxo(prevTx, index); err != nil {
		return s.psbtError(
			domain.ErrMalformedPsbt, domain.StepVerifyInputs, index, err,
			"cannot add non-witness utxo",
		)
	}
	return nil
}

func (s *Service) signInputs(
	ctx context.Context,
	session *Session,
	account *domain.DerivedAccount,
	indexes []int,
) error {
	handle, err := s.custody.Derive(ctx, account.Path)
	if err != nil {
		return s.psbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput, err,
			"cannot derive key for account %s", account.AccountId,
		)
	}
	pubkey := handle.GetPubKey()
	address, err := s.network.AddressFromPubKey(pubkey)
	if err != nil || address != account.Address() {
		return domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput,
			"derived key does not match account %s", account.AccountId,
		)
	}
	parsedPubkey, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return s.psbtError(
			domain.ErrSigningDenied, domain.StepSign, domain.NoInput, err,
			"invalid public key",
		)
	}

	packet := session.packet
	tx := packet.UnsignedTx
	fetcher := prevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return s.psbtError(
			domain.ErrMalformedPsbt, domain.StepSign, domain.NoInput, err, "",
		)
	}

	// Every input is checked before custody signs anything.
	toSign := make([]int, 0, len(indexes))
	sighashTypes := make(map[int]txscript.SigHashType, len(indexes))
	for _, i := range indexes {
		pInput := packet.Inputs[i]
		if len(pInput.FinalScriptSig) > 0 || len(pInput.FinalScriptWitness) > 0 {
			continue
		}
		if hasPartialSig(pInput, pubkey) {
			continue
		}
		sighashType, err := checkSighashType(tx, i, pInput.SighashType)
		if err != nil {
			return err
		}
		toSign = append(toSign, i)
		sighashTypes[i] = sighashType
	}

	for _, i := range toSign {
		sighashType := sighashTypes[i]
		prevOut := fetcher.FetchPrevOutput(tx.TxIn[i].PreviousOutPoint)
		if prevOut == nil {
			return domain.NewPsbtError(
				domain.ErrSigningDenied, domain.StepSign, i, "missing prevout",
			)
		}

		var sighash []byte
		switch {
		case txscript.IsPayToPubKeyHash(prevOut.PkScript):
			sighash, err = txscript.CalcSignatureHash(
				prevOut.PkScript, sighashType, tx, i,
			)
		case txscript.IsPayToWitnessPubKeyHash(prevOut.PkScript):
			sighash, err = txscript.CalcWitnessSigHash(
				prevOut.PkScript, sigHashes, sighashType, tx, i, prevOut.Value,
			)
		default:
			return domain.NewPsbtError(
				domain.ErrSigningDenied, domain.StepSign, i,
				"unsupported script type %s",
				txscript.GetScriptClass(prevOut.PkScript),
			)
		}
		if err != nil {
			return s.psbtError(
				domain.ErrSigningDenied, domain.StepSign, i, err,
				"cannot compute sighash",
			)
		}

		derSig, err := s.custody.Sign(ctx, sighash, account.Path)
		if err != nil {
			return s.psbtError(
				domain.ErrSigningDenied, domain.StepSign, i, err, "custody",
			)
		}
		sig, err := ecdsa.ParseDERSignature(derSig)
		if err != nil || !sig.Verify(sighash, parsedPubkey) {
			return domain.NewPsbtError(
				domain.ErrSigningDenied, domain.StepSign, i,
				"custody returned an invalid signature",
			)
		}

		sigWithType := append(derSig, byte(sighashType))
		if _, err := updater.Sign(i, sigWithType, pubkey, nil, nil); err != nil {
			return s.psbtError(
				domain.ErrSigningDenied, domain.StepSign, i, err,
				"cannot add signature",
			)
		}
	}

	log.Debugf(
		"psbt %s: signed %d inputs for account %s",
		session.ID, len(toSign), account.AccountId,
	)
	return nil
}

// checkSighashType returns the sighash type to sign input i with. A
// SIGHASH_SINGLE input without a matching output is refused: legacy sighash
// would then commit to the constant hash 1 and the signature could be
// replayed by any transaction spending the same utxo.
func checkSighashType(
	tx *wire.MsgTx, i int, sighashType txscript.SigHashType,
) (txscript.SigHashType, error) {
	if sighashType == 0 {
		sighashType = txscript.SigHashAll
	}
	if _, ok := supportedSighashTypes[sighashType]; !ok {
		return 0, domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, i,
			"unsupported sighash type %d", sighashType,
		)
	}
	baseType := sighashType &^ txscript.SigHashAnyOneCanPay
	if baseType == txscript.SigHashSingle && i >= len(tx.TxOut) {
		return 0, domain.NewPsbtError(
			domain.ErrSigningDenied, domain.StepSign, i,
			"sighash single without matching output %d", i,
		)
	}
	return sighashType, nil
}

func (s *Service) encode(session *Session) error {
	rawBase64, err := session.packet.B64Encode()
	if err != nil {
		return s.psbtError(
			domain.ErrMalformedPsbt, domain.StepVerifyInputs, domain.NoInput, err,
			"encode",
		)
	}
	session.RawBase64 = rawBase64
	return nil
}

// psbtError binds err to the given step and input. Errors already classified
// by a collaborator (ie. timeouts) keep their kind.
func (s *Service) psbtError(
	kind error, step string, input int, err error, reason string,
	args ...interface{},
) error {
	var bridgeErr *domain.BridgeError
	if errors.As(err, &bridgeErr) && bridgeErr.Step == "" {
		e := *bridgeErr
		e.Step = step
		e.Input = input
		return &e
	}
	e := domain.NewPsbtError(kind, step, input, reason, args...)
	e.Err = err
	return e
}

func checkNonWitnessUtxo(
	prevTx *wire.MsgTx, outpoint wire.OutPoint, expected *wire.TxOut,
) error {
	if prevTx.TxHash() != outpoint.Hash {
		return fmt.Errorf("non-witness utxo does not match outpoint %s", outpoint)
	}
	if int(outpoint.Index) >= len(prevTx.TxOut) {
		return fmt.Errorf("non-witness utxo has no output %d", outpoint.Index)
	}
	if !psbt.TxOutsEqual(prevTx.TxOut[outpoint.Index], expected) {
		return fmt.Errorf("non-witness utxo does not match utxo %s", outpoint)
	}
	return nil
}

func prevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[i]
		if in.NonWitnessUtxo != nil {
			prevIndex := txIn.PreviousOutPoint.Index
			fetcher.AddPrevOut(
				txIn.PreviousOutPoint, in.NonWitnessUtxo.TxOut[prevIndex],
			)
			continue
		}
		if in.WitnessUtxo != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)
		}
	}
	return fetcher
}

func hasPartialSig(in psbt.PInput, pubkey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubkey) {
			return true
		}
	}
	return false
}

func containsAccount(accounts []domain.AccountId, accountId domain.AccountId) bool {
	for _, a := range accounts {
		if a == accountId {
			return true
		}
	}
	return false
}

func decodeTx(txHex string) (*wire.MsgTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, err
	}
	return tx, nil
}
