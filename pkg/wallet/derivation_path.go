package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// NeuraiCoinType is the SLIP-44 coin type registered for Neurai.
	NeuraiCoinType = 1900

	// MaxDepth is the max number of components of a BIP32 path.
	MaxDepth = 255

	purposeBip44 = 44
)

// DerivationPath is a BIP32 path rooted at the master key, one element per
// derivation step. Hardened steps are offset by hdkeychain.HardenedKeyStart.
type DerivationPath []uint32

// DefaultAccountPath returns the BIP44 path m/44'/1900'/<account>'/0/<index>.
func DefaultAccountPath(account, index uint32) DerivationPath {
	return DerivationPath{
		hardened(purposeBip44),
		hardened(NeuraiCoinType),
		hardened(account),
		0,
		index,
	}
}

// ParseDerivationPath parses an absolute path like m/44'/1900'/0'/0/0.
// Components can be decimal or 0x prefixed hex, hardened ones are marked by a
// trailing ' or h. Spaces around components are ignored.
func ParseDerivationPath(strPath string) (DerivationPath, error) {
	if strings.TrimSpace(strPath) == "" {
		return nil, ErrNullDerivationPath
	}

	elems := strings.Split(strPath, "/")
	if strings.TrimSpace(elems[0]) != "m" || len(elems) < 2 {
		return nil, ErrMalformedDerivationPath
	}
	elems = elems[1:]
	if len(elems) > MaxDepth {
		return nil, ErrDerivationPathTooDeep
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		step, err := parsePathComponent(elem)
		if err != nil {
			return nil, err
		}
		path = append(path, step)
	}
	return path, nil
}

func parsePathComponent(elem string) (uint32, error) {
	elem = strings.TrimSpace(elem)
	if elem == "" {
		return 0, ErrMalformedDerivationPath
	}

	isHardened := false
	if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") {
		isHardened = true
		elem = strings.TrimSpace(elem[:len(elem)-1])
	}

	index, err := strconv.ParseUint(elem, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: component %q", ErrInvalidDerivationPath, elem)
	}
	if !isHardened {
		return uint32(index), nil
	}
	if index >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf(
			"%w: component %q out of hardened range", ErrInvalidDerivationPath, elem,
		)
	}
	return hardened(uint32(index)), nil
}

// String returns the canonical form of the path, with decimal components and
// ' as the hardened marker.
func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("m")
	for _, step := range path {
		b.WriteString("/")
		if step >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(step-hdkeychain.HardenedKeyStart), 10))
			b.WriteString("'")
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(step), 10))
	}
	return b.String()
}

// IsBip44 returns whether the path follows the Neurai BIP44 layout.
func (path DerivationPath) IsBip44() bool {
	return len(path) == 5 &&
		path[0] == hardened(purposeBip44) &&
		path[1] == hardened(NeuraiCoinType) &&
		path[2] >= hdkeychain.HardenedKeyStart &&
		path[3] < hdkeychain.HardenedKeyStart &&
		path[4] < hdkeychain.HardenedKeyStart
}

func hardened(index uint32) uint32 {
	return hdkeychain.HardenedKeyStart + index
}
