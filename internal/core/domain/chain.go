package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// Bip122Namespace is the only chain namespace served by the bridge.
	Bip122Namespace = "bip122"

	// ChainReferenceLen is the number of genesis hash hex chars kept as chain
	// reference.
	ChainReferenceLen = 32

	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"

	// MainnetGenesisHash is the hash of Neurai's mainnet genesis block.
	MainnetGenesisHash = "00000044d33c0c0ba019be5c0249730424a69cb4c222153322f68c6104484806"
)

var (
	chainReferenceRegexp = regexp.MustCompile(`^[0-9a-f]{32}$`)
	accountAddressRegexp = regexp.MustCompile(`^[-.%a-zA-Z0-9]{1,128}$`)

	// NeuraiMainNetParams only carries the fields required to encode and
	// decode Neurai addresses, everything else is unused by the bridge.
	NeuraiMainNetParams = chaincfg.Params{
		Name:             NetworkMainnet,
		PubKeyHashAddrID: 53,
		ScriptHashAddrID: 117,
		PrivateKeyID:     128,
		HDCoinType:       1900,
	}
	NeuraiTestNetParams = chaincfg.Params{
		Name:             NetworkTestnet,
		PubKeyHashAddrID: 127,
		ScriptHashAddrID: 196,
		PrivateKeyID:     239,
		HDCoinType:       1,
	}
	NeuraiRegTestParams = chaincfg.Params{
		Name:             NetworkRegtest,
		PubKeyHashAddrID: 127,
		ScriptHashAddrID: 196,
		PrivateKeyID:     239,
		HDCoinType:       1,
	}

	networkParams = map[string]*chaincfg.Params{
		NetworkMainnet: &NeuraiMainNetParams,
		NetworkTestnet: &NeuraiTestNetParams,
		NetworkRegtest: &NeuraiRegTestParams,
	}
)

// ChainId is a CAIP-2 chain identifier restricted to the bip122 namespace.
type ChainId struct {
	Namespace string
	Reference string
}

// ParseChainId parses a string in the form bip122:<32 lowercase hex chars>.
func ParseChainId(s string) (ChainId, error) {
	namespace, reference, ok := strings.Cut(s, ":")
	if !ok {
		return ChainId{}, NewError(ErrInvalidChainId, "%q: missing separator", s)
	}
	if namespace != Bip122Namespace {
		return ChainId{}, NewError(
			ErrInvalidChainId, "%q: namespace must be %s", s, Bip122Namespace,
		)
	}
	if !chainReferenceRegexp.MatchString(reference) {
		return ChainId{}, NewError(
			ErrInvalidChainId,
			"%q: reference must be %d lowercase hex chars", s, ChainReferenceLen,
		)
	}
	return ChainId{namespace, reference}, nil
}

// ChainIdFromGenesis returns the chain id of the chain with the given genesis
// block hash.
func ChainIdFromGenesis(genesisHash string) (ChainId, error) {
	hash := strings.ToLower(genesisHash)
	if len(hash) < ChainReferenceLen {
		return ChainId{}, NewError(
			ErrInvalidChainId, "genesis hash %q too short", genesisHash,
		)
	}
	return ParseChainId(Bip122Namespace + ":" + hash[:ChainReferenceLen])
}

func (c ChainId) String() string {
	return c.Namespace + ":" + c.Reference
}

func (c ChainId) IsZero() bool {
	return c.Namespace == "" && c.Reference == ""
}

func (c ChainId) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChainId) UnmarshalText(text []byte) error {
	chainId, err := ParseChainId(string(text))
	if err != nil {
		return err
	}
	*c = chainId
	return nil
}

// AccountId is a CAIP-10 account identifier.
type AccountId struct {
	ChainId ChainId
	Address string
}

// ParseAccountId parses a string in the form bip122:<reference>:<address>.
// Only the syntax is checked here, the address encoding is validated against
// the chain rules by Network.ParseAccountId.
func ParseAccountId(s string) (AccountId, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return AccountId{}, NewError(ErrInvalidAccountId, "%q: missing separator", s)
	}
	chainId, err := ParseChainId(s[:idx])
	if err != nil {
		return AccountId{}, WrapError(ErrInvalidAccountId, err, "%q", s)
	}
	address := s[idx+1:]
	if !accountAddressRegexp.MatchString(address) {
		return AccountId{}, NewError(ErrInvalidAccountId, "%q: malformed address", s)
	}
	return AccountId{chainId, address}, nil
}

func (a AccountId) String() string {
	return a.ChainId.String() + ":" + a.Address
}

func (a AccountId) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AccountId) UnmarshalText(text []byte) error {
	accountId, err := ParseAccountId(string(text))
	if err != nil {
		return err
	}
	*a = accountId
	return nil
}

// Network binds the chain id the bridge serves with the address rules of
// that chain.
type Network struct {
	ChainId ChainId
	Params  *chaincfg.Params
}

// NewNetwork returns the network with the given name. The genesis hash
// defaults to the mainnet one, it's mandatory for any other network.
func NewNetwork(name, genesisHash string) (*Network, error) {
	params, ok := networkParams[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", name)
	}
	if genesisHash == "" {
		if name != NetworkMainnet {
			return nil, fmt.Errorf("missing genesis hash for network %s", name)
		}
		genesisHash = MainnetGenesisHash
	}
	chainId, err := ChainIdFromGenesis(genesisHash)
	if err != nil {
		return nil, err
	}
	return &Network{chainId, params}, nil
}

func (n *Network) Name() string {
	return n.Params.Name
}

// IsSupported compares only namespace and reference of the given chain.
func (n *Network) IsSupported(chainId ChainId) bool {
	return chainId.Namespace == n.ChainId.Namespace &&
		chainId.Reference == n.ChainId.Reference
}

// ValidateAddress decodes the address and makes sure it belongs to this
// network.
func (n *Network) ValidateAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, n.Params)
	if err != nil {
		return nil, WrapError(ErrInvalidAccountId, err, "address %q", address)
	}
	if !addr.IsForNet(n.Params) {
		return nil, NewError(
			ErrInvalidAccountId, "address %q is not for %s", address, n.Name(),
		)
	}
	return addr, nil
}

// ParseAccountId parses the account id and validates both its chain and its
// address against this network.
func (n *Network) ParseAccountId(s string) (AccountId, error) {
	accountId, err := ParseAccountId(s)
	if err != nil {
		return AccountId{}, err
	}
	if !n.IsSupported(accountId.ChainId) {
		return AccountId{}, NewError(
			ErrUnsupportedChain, "%s", accountId.ChainId,
		)
	}
	if _, err := n.ValidateAddress(accountId.Address); err != nil {
		return AccountId{}, err
	}
	return accountId, nil
}

// AccountId returns the account id of the given address on this network.
func (n *Network) AccountId(address string) AccountId {
	return AccountId{n.ChainId, address}
}

// PayToAddrScript returns the scriptPubKey locking funds to the address.
func (n *Network) PayToAddrScript(address string) ([]byte, error) {
	addr, err := n.ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// AddressFromPubKey returns the P2PKH address of the given serialized public
// key.
func (n *Network) AddressFromPubKey(pubkey []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubkey), n.Params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
