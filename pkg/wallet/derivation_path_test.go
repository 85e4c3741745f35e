package wallet

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

const h = hdkeychain.HardenedKeyStart

func TestParseDerivationPath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  DerivationPath
		canonical string
	}{
		{"bip44", "m/44'/1900'/0'/0/0", DerivationPath{h + 44, h + 1900, h, 0, 0}, "m/44'/1900'/0'/0/0"},
		{"h_marker", "m/44h/1900h/1h/0/7", DerivationPath{h + 44, h + 1900, h + 1, 0, 7}, "m/44'/1900'/1'/0/7"},
		{"hex", "m/0x2c'/0x76c'/0'/0/0x10", DerivationPath{h + 44, h + 1900, h, 0, 16}, "m/44'/1900'/0'/0/16"},
		{"raw_hardened", "m/2147483692/0", DerivationPath{h + 44, 0}, "m/44'/0"},
		{"spaces", " m / 44 ' / 1900' /0", DerivationPath{h + 44, h + 1900, 0}, "m/44'/1900'/0"},
		{"max_unhardened", "m/4294967295", DerivationPath{4294967295}, "m/2147483647'"},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			path, err := ParseDerivationPath(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.expected, path)
			require.Equal(t, tt.canonical, path.String())
		})
	}
}

func TestFailingParseDerivationPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"empty", "", ErrNullDerivationPath},
		{"master_only", "m", ErrMalformedDerivationPath},
		{"trailing_slash", "m/", ErrMalformedDerivationPath},
		{"empty_component", "m/44'//0", ErrMalformedDerivationPath},
		{"relative", "44'/1900'/0'/0/0", ErrMalformedDerivationPath},
		{"leading_slash", "/44'/0'/0'/0", ErrMalformedDerivationPath},
		{"hardened_overflow", "m/2147483648'", ErrInvalidDerivationPath},
		{"overflow", "m/4294967296", ErrInvalidDerivationPath},
		{"negative", "m/-1'", ErrInvalidDerivationPath},
		{"not_a_number", "m/x/1", ErrInvalidDerivationPath},
		{"too_deep", "m" + strings.Repeat("/0", MaxDepth+1), ErrDerivationPathTooDeep},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			path, err := ParseDerivationPath(tt.input)
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, path)
		})
	}
}

func TestDefaultAccountPath(t *testing.T) {
	path := DefaultAccountPath(0, 3)
	require.Equal(t, "m/44'/1900'/0'/0/3", path.String())
	require.True(t, path.IsBip44())

	parsed, err := ParseDerivationPath(path.String())
	require.NoError(t, err)
	require.Equal(t, path, parsed)

	other, err := ParseDerivationPath("m/84'/1900'/0'/0/3")
	require.NoError(t, err)
	require.False(t, other.IsBip44())
}
