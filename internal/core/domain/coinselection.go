package domain

import (
	"fmt"
	"sort"
)

// CoinSelectionPolicy defines how utxos are picked to cover a target amount.
// The policy is always explicit so that selection is reproducible.
type CoinSelectionPolicy string

const (
	// LargestFirst picks utxos in descending value order until the target is
	// covered.
	LargestFirst CoinSelectionPolicy = "largest-first"
	// SmallestFirst picks utxos in ascending value order until the target is
	// covered.
	SmallestFirst CoinSelectionPolicy = "smallest-first"
	// BestCombination picks the smallest number of utxos whose sum covers the
	// target without exceeding it by more than 10x.
	BestCombination CoinSelectionPolicy = "best-combination"

	// combinations are searched only up to this number of candidate utxos,
	// above it BestCombination behaves like LargestFirst.
	maxCombinationCandidates = 16
	bestCombinationRatio     = 10
)

var supportedPolicies = map[CoinSelectionPolicy]struct{}{
	LargestFirst:    {},
	SmallestFirst:   {},
	BestCombination: {},
}

// ParseCoinSelectionPolicy ...
func ParseCoinSelectionPolicy(s string) (CoinSelectionPolicy, error) {
	p := CoinSelectionPolicy(s)
	if _, ok := supportedPolicies[p]; !ok {
		return "", fmt.Errorf("unknown coin selection policy %q", s)
	}
	return p, nil
}

// SelectUtxos returns a subset of utxos covering targetAmount according to
// policy, along with the change amount. Input order does not affect the
// result: candidates are always sorted by value and then by outpoint.
func SelectUtxos(
	utxos []Utxo, targetAmount uint64, policy CoinSelectionPolicy,
) ([]Utxo, uint64, error) {
	if targetAmount == 0 {
		return nil, 0, NewError(ErrInvalidParams, "target amount must be positive")
	}

	candidates := make([]Utxo, len(utxos))
	copy(candidates, utxos)
	sortUtxosByValueDesc(candidates)

	var total uint64
	for _, u := range candidates {
		total += u.Value
	}
	if total < targetAmount {
		return nil, 0, NewError(
			ErrInsufficientFunds,
			"available %d sats, requested %d sats", total, targetAmount,
		)
	}

	var selected []Utxo
	switch policy {
	case SmallestFirst:
		reversed := make([]Utxo, 0, len(candidates))
		for i := len(candidates) - 1; i >= 0; i-- {
			reversed = append(reversed, candidates[i])
		}
		selected = accumulate(reversed, targetAmount)
	case BestCombination:
		selected = bestCombination(candidates, targetAmount)
		if len(selected) == 0 {
			selected = accumulate(candidates, targetAmount)
		}
	case LargestFirst:
		selected = accumulate(candidates, targetAmount)
	default:
		return nil, 0, fmt.Errorf("unknown coin selection policy %q", policy)
	}

	var selectedAmount uint64
	for _, u := range selected {
		selectedAmount += u.Value
	}
	return selected, selectedAmount - targetAmount, nil
}

func sortUtxosByValueDesc(utxos []Utxo) {
	sort.SliceStable(utxos, func(i, j int) bool {
		if utxos[i].Value != utxos[j].Value {
			return utxos[i].Value > utxos[j].Value
		}
		if utxos[i].TxID != utxos[j].TxID {
			return utxos[i].TxID < utxos[j].TxID
		}
		return utxos[i].VOut < utxos[j].VOut
	})
}

func accumulate(utxos []Utxo, targetAmount uint64) []Utxo {
	selected := make([]Utxo, 0)
	var amount uint64
	for _, u := range utxos {
		if amount >= targetAmount {
			break
		}
		selected = append(selected, u)
		amount += u.Value
	}
	return selected
}

// bestCombination expects utxos sorted by descending value. For increasing
// sizes, it looks for the first combination whose sum is within
// [target, 10*target]. If none exists it falls back to the smallest single
// utxo greater than the target.
func bestCombination(utxos []Utxo, targetAmount uint64) []Utxo {
	if len(utxos) > maxCombinationCandidates {
		return nil
	}

	for size := 1; size <= len(utxos); size++ {
		var found []int
		combinations(len(utxos), size, func(indexes []int) bool {
			var total uint64
			for _, i := range indexes {
				total += utxos[i].Value
			}
			if total >= targetAmount && total <= targetAmount*bestCombinationRatio {
				found = append([]int{}, indexes...)
				return true
			}
			return false
		})
		if found != nil {
			selected := make([]Utxo, 0, len(found))
			for _, i := range found {
				selected = append(selected, utxos[i])
			}
			return selected
		}
	}

	for i := len(utxos) - 1; i >= 0; i-- {
		if utxos[i].Value > targetAmount {
			return []Utxo{utxos[i]}
		}
	}
	return nil
}

// combinations calls visit for every combination of size indexes out of n,
// in lexicographic order, until visit returns true.
func combinations(n, size int, visit func([]int) bool) {
	indexes := make([]int, 0, size)
	var rec func(offset int) bool
	rec = func(offset int) bool {
		if len(indexes) == size {
			return visit(indexes)
		}
		for i := offset; i <= n-(size-len(indexes)); i++ {
			indexes = append(indexes, i)
			if rec(i + 1) {
				return true
			}
			indexes = indexes[:len(indexes)-1]
		}
		return false
	}
	rec(0)
}
