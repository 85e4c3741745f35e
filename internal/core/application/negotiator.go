package application

import (
	"fmt"
	"strings"

	"github.com/neuraiproject/wcbridge/internal/core/domain"
)

// AccountLister returns the ordered list of accounts derived by the bridge.
type AccountLister interface {
	AccountIds() []domain.AccountId
}

// SessionNegotiator evaluates session proposals against the chain served by
// the bridge and the implemented methods.
type SessionNegotiator struct {
	network  *domain.Network
	accounts AccountLister
}

func NewSessionNegotiator(
	network *domain.Network, accounts AccountLister,
) (*SessionNegotiator, error) {
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if accounts == nil {
		return nil, fmt.Errorf("missing account lister")
	}
	return &SessionNegotiator{network, accounts}, nil
}

// Evaluate returns the namespace to grant to a proposal, or the reason why it
// must be rejected. Every chain of the required namespaces must be supported,
// a proposal is never partially accepted. Chains of the optional namespaces
// are instead granted only if supported.
func (n *SessionNegotiator) Evaluate(
	required, optional map[string]domain.ProposalNamespace,
) (*domain.SessionNamespace, error) {
	requiredChains, requiredMethods, err := n.parseNamespaces(required, true)
	if err != nil {
		return nil, err
	}
	optionalChains, optionalMethods, err := n.parseNamespaces(optional, false)
	if err != nil {
		return nil, err
	}

	if len(requiredChains)+len(optionalChains) <= 0 {
		return nil, domain.NewError(
			domain.ErrUnsupportedChain, "proposal requests no %s chain",
			n.network.ChainId,
		)
	}

	requested := make(map[string]struct{})
	for _, m := range append(requiredMethods, optionalMethods...) {
		requested[m] = struct{}{}
	}
	methods := make([]domain.Method, 0, len(domain.ImplementedMethods))
	for _, m := range domain.ImplementedMethods {
		if _, ok := requested[string(m)]; ok {
			methods = append(methods, m)
		}
	}

	chainId := n.network.ChainId
	accounts := make([]domain.AccountId, 0)
	for _, a := range n.accounts.AccountIds() {
		if a.ChainId == chainId {
			accounts = append(accounts, a)
		}
	}

	return &domain.SessionNamespace{
		Chains:   []domain.ChainId{chainId},
		Methods:  methods,
		Events:   append([]domain.Event{}, domain.MandatoryEvents...),
		Accounts: accounts,
	}, nil
}

// parseNamespaces returns the supported chains and the methods requested
// by the given namespaces. Namespaces can be keyed either by namespace
// (bip122) or by chain id (bip122:<reference>). When strict, unsupported
// namespaces and chains are an error, otherwise they're skipped.
func (n *SessionNegotiator) parseNamespaces(
	namespaces map[string]domain.ProposalNamespace, strict bool,
) ([]domain.ChainId, []string, error) {
	chains := make([]domain.ChainId, 0)
	methods := make([]string, 0)

	for key, ns := range namespaces {
		namespace, _, isChainKey := strings.Cut(key, ":")
		if namespace != domain.Bip122Namespace {
			if strict {
				return nil, nil, domain.NewError(
					domain.ErrUnsupportedChain, "namespace %q", key,
				)
			}
			continue
		}

		requestedChains := ns.Chains
		if isChainKey {
			requestedChains = append([]string{key}, ns.Chains...)
		}
		if len(requestedChains) <= 0 && strict {
			return nil, nil, domain.NewError(
				domain.ErrUnsupportedChain, "namespace %q lists no chains", key,
			)
		}

		supported := 0
		for _, c := range requestedChains {
			chainId, err := domain.ParseChainId(c)
			if err != nil {
				if strict {
					return nil, nil, err
				}
				continue
			}
			if !n.network.IsSupported(chainId) {
				if strict {
					return nil, nil, domain.NewError(
						domain.ErrUnsupportedChain, "%s", chainId,
					)
				}
				continue
			}
			chains = append(chains, chainId)
			supported++
		}

		if supported > 0 {
			methods = append(methods, ns.Methods...)
		}
	}

	return chains, methods, nil
}
