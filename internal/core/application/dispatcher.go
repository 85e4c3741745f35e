package application

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/neuraiproject/wcbridge/internal/core/application/ledger"
	"github.com/neuraiproject/wcbridge/internal/core/application/pipeline"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	// SignedMessageMagic prefixes every message signed with
	// neurai_signMessage.
	SignedMessageMagic = "Neurai Signed Message:\n"

	CodeInvalidParams        = -32602
	CodeInternal             = -32603
	CodeInvalidChainId       = 1001
	CodeInvalidAccountId     = 1002
	CodeUnauthorizedMethod   = 3001
	CodeUnsupportedChain     = 5100
	CodeUnsupportedMethod    = 5101
	CodeUnauthorizedAccount  = 5103
	CodeRequestCancelled     = 6000
	CodeMalformedPsbt        = 8001
	CodeUnknownInput         = 8002
	CodeSigningDenied        = 8003
	CodeIncompleteSignatures = 8004
	CodeInsufficientFunds    = 8005
	CodeRpc                  = 8100
	CodeRpcRejected          = 8101
	CodeTransportTimeout     = 8200
	CodeSessionNotFound      = 8300
)

var (
	satsPerUnit = decimal.New(1, 8)

	// errorCodes maps error kinds to JSON-RPC codes. The order matters,
	// ErrRpcRejected must be matched before ErrRpc.
	errorCodes = []struct {
		kind error
		code int
	}{
		{domain.ErrInvalidParams, CodeInvalidParams},
		{domain.ErrInvalidChainId, CodeInvalidChainId},
		{domain.ErrInvalidAccountId, CodeInvalidAccountId},
		{domain.ErrUnauthorizedMethod, CodeUnauthorizedMethod},
		{domain.ErrUnsupportedChain, CodeUnsupportedChain},
		{domain.ErrUnsupportedMethod, CodeUnsupportedMethod},
		{domain.ErrUnauthorizedAccount, CodeUnauthorizedAccount},
		{domain.ErrRequestCancelled, CodeRequestCancelled},
		{domain.ErrMalformedPsbt, CodeMalformedPsbt},
		{domain.ErrUnknownInput, CodeUnknownInput},
		{domain.ErrSigningDenied, CodeSigningDenied},
		{domain.ErrIncompleteSignatures, CodeIncompleteSignatures},
		{domain.ErrInsufficientFunds, CodeInsufficientFunds},
		{domain.ErrRpcRejected, CodeRpcRejected},
		{domain.ErrRpc, CodeRpc},
		{domain.ErrTransportTimeout, CodeTransportTimeout},
		{domain.ErrSessionNotFound, CodeSessionNotFound},
	}
)

// AccountRegistry gives access to the accounts derived by the bridge.
type AccountRegistry interface {
	AccountLister
	GetAccount(accountId domain.AccountId) (*domain.DerivedAccount, bool)
}

// RequestDispatcher routes session requests to the handler of their method.
// Every request gets exactly one response, either a result or an error.
type RequestDispatcher struct {
	network        *domain.Network
	accounts       AccountRegistry
	ledger         *ledger.Service
	pipeline       *pipeline.Service
	broadcaster    *Broadcaster
	custody        ports.Custody
	requestTimeout time.Duration
	metrics        *stats.Metrics
}

func NewRequestDispatcher(
	network *domain.Network,
	accounts AccountRegistry,
	ledgerSvc *ledger.Service,
	pipelineSvc *pipeline.Service,
	broadcaster *Broadcaster,
	custody ports.Custody,
	requestTimeout time.Duration,
	metrics *stats.Metrics,
) (*RequestDispatcher, error) {
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if accounts == nil {
		return nil, fmt.Errorf("missing account registry")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("missing ledger service")
	}
	if pipelineSvc == nil {
		return nil, fmt.Errorf("missing psbt pipeline")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("missing broadcaster")
	}
	if custody == nil {
		return nil, fmt.Errorf("missing custody")
	}
	if requestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive")
	}
	return &RequestDispatcher{
		network:        network,
		accounts:       accounts,
		ledger:         ledgerSvc,
		pipeline:       pipelineSvc,
		broadcaster:    broadcaster,
		custody:        custody,
		requestTimeout: requestTimeout,
		metrics:        metrics,
	}, nil
}

// Handle serves the request in the context of the given session. It never
// panics and always returns a response correlated to the request id.
func (d *RequestDispatcher) Handle(
	ctx context.Context, session *domain.Session, req ports.SessionRequest,
) (res ports.RPCResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(
				"panic while handling request %d on topic %s: %v\n%s",
				req.ID, req.Topic, r, debug.Stack(),
			)
			res = errorResponse(req.ID, CodeInternal, "internal error")
		}
		code := 0
		if res.Error != nil {
			code = res.Error.Code
		}
		d.metrics.ObserveRequest(req.Method, code)
	}()

	result, err := d.handle(ctx, session, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = contextError(ctxErr)
		}
		code := ErrorCode(err)
		log.WithField("topic", req.Topic).WithError(err).Debugf(
			"request %d %s failed with code %d", req.ID, req.Method, code,
		)
		return errorResponse(req.ID, code, err.Error())
	}
	return ports.RPCResponse{ID: req.ID, Result: result}
}

func (d *RequestDispatcher) handle(
	ctx context.Context, session *domain.Session, req ports.SessionRequest,
) (interface{}, error) {
	if session == nil {
		return nil, domain.NewError(domain.ErrSessionNotFound, "%s", req.Topic)
	}

	method, ok := domain.ParseMethod(req.Method)
	if !ok {
		return nil, domain.NewError(domain.ErrUnsupportedMethod, "%q", req.Method)
	}
	if !session.IsMethodGranted(method) {
		return nil, domain.NewError(domain.ErrUnauthorizedMethod, "%s", method)
	}

	chainId, err := domain.ParseChainId(req.ChainID)
	if err != nil {
		return nil, err
	}
	if !d.network.IsSupported(chainId) || !session.HasChain(chainId) {
		return nil, domain.NewError(domain.ErrUnsupportedChain, "%s", chainId)
	}

	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	authorized := session.AccountsForChain(chainId)

	switch method {
	case domain.MethodGetAddresses:
		return d.getAddresses(authorized), nil
	case domain.MethodGetUtxos:
		return d.getUtxos(ctx, chainId, authorized, req.Params)
	case domain.MethodSignMessage:
		return d.signMessage(ctx, chainId, authorized, req.Params)
	case domain.MethodSignPsbt:
		return d.signPsbt(ctx, chainId, authorized, req.Params)
	case domain.MethodFinalizePsbt:
		return d.finalizePsbt(ctx, authorized, req.Params)
	case domain.MethodBroadcastTransaction:
		return d.broadcastTransaction(ctx, req.Params)
	default:
		return nil, domain.NewError(domain.ErrUnsupportedMethod, "%s", method)
	}
}

func (d *RequestDispatcher) getAddresses(
	authorized []domain.AccountId,
) []AddressInfo {
	addresses := make([]AddressInfo, 0, len(authorized))
	for _, accountId := range authorized {
		account, ok := d.accounts.GetAccount(accountId)
		if !ok {
			continue
		}
		addresses = append(addresses, AddressInfo{
			Address:   account.Address(),
			AccountId: account.AccountId.String(),
			Path:      account.Path,
			PublicKey: hex.EncodeToString(account.PubKey),
		})
	}
	return addresses
}

func (d *RequestDispatcher) getUtxos(
	ctx context.Context, chainId domain.ChainId,
	authorized []domain.AccountId, rawParams json.RawMessage,
) ([]UtxoInfo, error) {
	var params getUtxosParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}

	accountIds := authorized
	if params.Address != "" {
		accountId, err := d.authorizedAccount(chainId, authorized, params.Address)
		if err != nil {
			return nil, err
		}
		accountIds = []domain.AccountId{accountId}
	}

	utxos := make([]domain.Utxo, 0)
	for _, accountId := range accountIds {
		accountUtxos, err := d.ledger.Refresh(ctx, accountId)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, accountUtxos...)
	}

	if params.Amount != nil {
		targetAmount, err := toSats(*params.Amount)
		if err != nil {
			return nil, err
		}
		selected, err := d.ledger.Select(ctx, accountIds, targetAmount)
		if err != nil {
			return nil, err
		}
		utxos = selected
	}

	infos := make([]UtxoInfo, 0, len(utxos))
	for _, u := range utxos {
		infos = append(infos, UtxoInfo{
			TxID:          u.TxID,
			VOut:          u.VOut,
			Satoshis:      u.Value,
			Value:         decimal.NewFromInt(int64(u.Value)).Div(satsPerUnit).String(),
			Address:       u.Address,
			ScriptPubKey:  hex.EncodeToString(u.ScriptPubKey),
			Confirmations: u.Confirmations,
		})
	}
	return infos, nil
}

func (d *RequestDispatcher) signMessage(
	ctx context.Context, chainId domain.ChainId,
	authorized []domain.AccountId, rawParams json.RawMessage,
) (*SignMessageResult, error) {
	var params signMessageParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, domain.NewError(domain.ErrInvalidParams, "missing address")
	}

	accountId, err := d.authorizedAccount(chainId, authorized, params.Address)
	if err != nil {
		return nil, err
	}
	account, ok := d.accounts.GetAccount(accountId)
	if !ok {
		return nil, domain.NewError(
			domain.ErrUnauthorizedAccount, "account %s is not derived", accountId,
		)
	}

	hash := MessageHash(params.Message)
	sig, err := d.custody.SignCompact(ctx, hash, account.Path)
	if err != nil {
		return nil, err
	}

	pubkey, _, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return nil, fmt.Errorf("invalid signature from custody: %w", err)
	}
	address, err := d.network.AddressFromPubKey(pubkey.SerializeCompressed())
	if err != nil {
		return nil, err
	}
	if address != account.Address() {
		return nil, fmt.Errorf(
			"custody signed with key of %s instead of %s", address, account.Address(),
		)
	}

	return &SignMessageResult{
		Address:   account.Address(),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

func (d *RequestDispatcher) signPsbt(
	ctx context.Context, chainId domain.ChainId,
	authorized []domain.AccountId, rawParams json.RawMessage,
) (*SignPsbtResult, error) {
	var params signPsbtParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}
	if params.PsbtBase64 == "" {
		return nil, domain.NewError(domain.ErrInvalidParams, "missing psbtBase64")
	}

	var signer *domain.AccountId
	if params.Address != "" {
		accountId, err := d.authorizedAccount(chainId, authorized, params.Address)
		if err != nil {
			return nil, err
		}
		signer = &accountId
	}

	session, err := d.pipeline.Decode(params.PsbtBase64)
	if err != nil {
		return nil, err
	}
	if err := d.refreshSnapshots(ctx, authorized); err != nil {
		return nil, err
	}
	if err := d.pipeline.VerifyInputs(ctx, session, authorized); err != nil {
		return nil, err
	}

	signers := inputOwners(session)
	if signer != nil {
		signers = []domain.AccountId{*signer}
	}
	for _, accountId := range signers {
		if err := d.pipeline.Sign(ctx, session, accountId, authorized); err != nil {
			return nil, err
		}
	}

	log.Debugf("psbt %s signed by %d accounts", session.ID, len(signers))
	return &SignPsbtResult{PsbtBase64: session.RawBase64}, nil
}

// refreshSnapshots refreshes the stale snapshots of the accounts before
// psbt inputs are verified. A failed refresh is not fatal: inputs owned by a
// snapshot that is still stale are then refused as unknown.
func (d *RequestDispatcher) refreshSnapshots(
	ctx context.Context, accountIds []domain.AccountId,
) error {
	err := d.ledger.RefreshStale(ctx, accountIds)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	log.WithError(err).Warn("failed to refresh stale utxo snapshots")
	return nil
}

func (d *RequestDispatcher) finalizePsbt(
	ctx context.Context, authorized []domain.AccountId,
	rawParams json.RawMessage,
) (*FinalizePsbtResult, error) {
	var params finalizePsbtParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}
	if params.PsbtBase64 == "" {
		return nil, domain.NewError(domain.ErrInvalidParams, "missing psbtBase64")
	}

	session, err := d.pipeline.Decode(params.PsbtBase64)
	if err != nil {
		return nil, err
	}
	if err := d.refreshSnapshots(ctx, authorized); err != nil {
		return nil, err
	}
	if err := d.pipeline.VerifyInputs(ctx, session, authorized); err != nil {
		return nil, err
	}
	txHex, err := d.pipeline.Finalize(session)
	if err != nil {
		return nil, err
	}
	return &FinalizePsbtResult{Hex: txHex, TxID: session.TxID()}, nil
}

func (d *RequestDispatcher) broadcastTransaction(
	ctx context.Context, rawParams json.RawMessage,
) (*BroadcastResult, error) {
	var params broadcastParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, err
	}
	if params.Hex == "" {
		return nil, domain.NewError(domain.ErrInvalidParams, "missing hex")
	}

	txid, err := d.broadcaster.Broadcast(ctx, params.Hex)
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{TxID: txid}, nil
}

// authorizedAccount returns the account of the given address if authorized
// for the session.
func (d *RequestDispatcher) authorizedAccount(
	chainId domain.ChainId, authorized []domain.AccountId, address string,
) (domain.AccountId, error) {
	if _, err := d.network.ValidateAddress(address); err != nil {
		return domain.AccountId{}, err
	}
	accountId := domain.AccountId{ChainId: chainId, Address: address}
	for _, a := range authorized {
		if a == accountId {
			return accountId, nil
		}
	}
	return domain.AccountId{}, domain.NewError(
		domain.ErrUnauthorizedAccount, "%s", accountId,
	)
}

// MessageHash returns the double sha256 of the message serialized along with
// the signed message magic, as done by the node's signmessage.
func MessageHash(message string) []byte {
	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, SignedMessageMagic)
	wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// ErrorCode returns the JSON-RPC code of the given error. Errors not
// classified by kind are internal errors.
func ErrorCode(err error) int {
	for _, c := range errorCodes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return CodeInternal
}

func errorResponse(id uint64, code int, message string) ports.RPCResponse {
	return ports.RPCResponse{
		ID:    id,
		Error: &ports.RPCError{Code: code, Message: message},
	}
}

// contextError classifies the error of a done context.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTransportTimeout, err, "request deadline")
	}
	return domain.WrapError(domain.ErrRequestCancelled, err, "")
}

// decodeParams accepts both the object form and the single element array
// form of the request params.
func decodeParams(raw json.RawMessage, params interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return domain.WrapError(domain.ErrInvalidParams, err, "")
		}
		if len(list) == 0 {
			return nil
		}
		if len(list) > 1 {
			return domain.NewError(
				domain.ErrInvalidParams, "expected 1 param, got %d", len(list),
			)
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return domain.WrapError(domain.ErrInvalidParams, err, "")
	}
	return nil
}

func toSats(amount decimal.Decimal) (uint64, error) {
	sats := amount.Mul(satsPerUnit)
	if !sats.IsPositive() {
		return 0, domain.NewError(
			domain.ErrInvalidParams, "amount must be positive",
		)
	}
	if !sats.Equal(sats.Truncate(0)) {
		return 0, domain.NewError(
			domain.ErrInvalidParams, "amount %s has more than 8 decimals", amount,
		)
	}
	return uint64(sats.IntPart()), nil
}

// inputOwners returns the distinct owners of the session inputs, in order of
// first appearance.
func inputOwners(session *pipeline.Session) []domain.AccountId {
	owners := make([]domain.AccountId, 0)
	seen := make(map[domain.AccountId]struct{})
	for _, in := range session.Inputs {
		if _, ok := seen[in.Owner]; ok {
			continue
		}
		seen[in.Owner] = struct{}{}
		owners = append(owners, in.Owner)
	}
	return owners
}
