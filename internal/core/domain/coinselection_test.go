package domain_test

import (
	"fmt"
	"testing"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const coin = uint64(100000000)

func TestSelectUtxos(t *testing.T) {
	// 2 utxos for a total of 5 coins.
	utxos := newTestUtxos(35*coin/10, 15*coin/10)
	target := 3 * coin

	tests := []struct {
		name           string
		policy         domain.CoinSelectionPolicy
		expectedValues []uint64
		expectedChange uint64
	}{
		{
			name:           "largest_first",
			policy:         domain.LargestFirst,
			expectedValues: []uint64{35 * coin / 10},
			expectedChange: coin / 2,
		},
		{
			name:           "smallest_first",
			policy:         domain.SmallestFirst,
			expectedValues: []uint64{15 * coin / 10, 35 * coin / 10},
			expectedChange: 2 * coin,
		},
		{
			name:           "best_combination",
			policy:         domain.BestCombination,
			expectedValues: []uint64{35 * coin / 10},
			expectedChange: coin / 2,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			selected, change, err := domain.SelectUtxos(utxos, target, tt.policy)
			require.NoError(t, err)
			require.Equal(t, tt.expectedValues, utxoValues(selected))
			require.Equal(t, tt.expectedChange, change)
		})
	}
}

func TestSelectUtxosBestCombination(t *testing.T) {
	tests := []struct {
		name   string
		values []uint64
		target uint64
		want   []uint64
	}{
		{
			name:   "single_within_ratio",
			values: []uint64{61, 61, 61, 38, 61, 61, 61, 1, 1, 1, 3},
			target: 6,
			want:   []uint64{38},
		},
		{
			name:   "many_small",
			values: []uint64{61, 61, 61, 61, 61, 61, 1, 1, 1, 3},
			target: 6,
			want:   []uint64{3, 1, 1, 1},
		},
		{
			name:   "smallest_above_ratio",
			values: []uint64{61, 61},
			target: 6,
			want:   []uint64{61},
		},
		{
			name:   "largest_within_ratio",
			values: []uint64{61, 1, 1, 1, 3, 56},
			target: 6,
			want:   []uint64{56},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			selected, _, err := domain.SelectUtxos(
				newTestUtxos(tt.values...), tt.target, domain.BestCombination,
			)
			require.NoError(t, err)
			require.Equal(t, tt.want, utxoValues(selected))
		})
	}
}

func TestSelectUtxosIsDeterministic(t *testing.T) {
	utxos := newTestUtxos(5, 5, 5, 10, 1)
	reversed := make([]domain.Utxo, 0, len(utxos))
	for i := len(utxos) - 1; i >= 0; i-- {
		reversed = append(reversed, utxos[i])
	}

	for _, policy := range []domain.CoinSelectionPolicy{
		domain.LargestFirst, domain.SmallestFirst, domain.BestCombination,
	} {
		selected, _, err := domain.SelectUtxos(utxos, 12, policy)
		require.NoError(t, err)
		selectedReversed, _, err := domain.SelectUtxos(reversed, 12, policy)
		require.NoError(t, err)
		require.Equal(t, selected, selectedReversed)
	}
}

func TestFailingSelectUtxos(t *testing.T) {
	utxos := newTestUtxos(2, 2)

	_, _, err := domain.SelectUtxos(utxos, 6, domain.LargestFirst)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, _, err = domain.SelectUtxos(nil, 1, domain.LargestFirst)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, _, err = domain.SelectUtxos(utxos, 0, domain.LargestFirst)
	require.ErrorIs(t, err, domain.ErrInvalidParams)

	_, _, err = domain.SelectUtxos(utxos, 1, domain.CoinSelectionPolicy("random"))
	require.Error(t, err)
}

func TestParseCoinSelectionPolicy(t *testing.T) {
	policy, err := domain.ParseCoinSelectionPolicy("best-combination")
	require.NoError(t, err)
	require.Equal(t, domain.BestCombination, policy)

	_, err = domain.ParseCoinSelectionPolicy("random")
	require.Error(t, err)
}

func newTestUtxos(values ...uint64) []domain.Utxo {
	utxos := make([]domain.Utxo, 0, len(values))
	for i, v := range values {
		utxos = append(utxos, domain.Utxo{
			TxID:  fmt.Sprintf("%064x", i+1),
			VOut:  uint32(i),
			Value: v,
		})
	}
	return utxos
}

func utxoValues(utxos []domain.Utxo) []uint64 {
	values := make([]uint64, 0, len(utxos))
	for _, u := range utxos {
		values = append(values, u.Value)
	}
	return values
}
