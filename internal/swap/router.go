// Package swap routes a token amount through an ordered sequence of markets,
// threading each hop's output into the next hop's input.
package swap

import (
	"errors"
	"fmt"

	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
)

var ErrInvalidSwapPath = errors.New("invalid swap path")

// Markets resolves market tokens to markets. The settlement core passes its
// staged view so multi-hop swaps mutate clones that commit or roll back as
// one unit.
type Markets interface {
	Get(marketToken string) (*market.Market, error)
}

// Hop is one executed leg of a route.
type Hop struct {
	MarketToken string
	Result      *market.SwapResult
}

// RouteResult is the end-to-end outcome of a multi-hop swap.
type RouteResult struct {
	TokenIn   string
	TokenOut  string
	AmountIn  int64
	AmountOut int64
	Hops      []Hop
}

// Route executes a swap along path, a list of market tokens. An empty path
// is valid only when no conversion is needed (tokenIn == wantOut, or wantOut
// is empty meaning "deliver whatever comes out"). Each hop's market must be
// enabled, contain the incoming token, and not repeat an earlier market in
// the path. Mutations apply to whatever markets the resolver returns; the
// caller owns commit or discard.
func Route(markets Markets, path []string, tokenIn string, amountIn int64, wantOut string, prices *oracle.Snapshot, model fpmath.ImpactModel) (*RouteResult, error) {
	if amountIn <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidSwapPath, amountIn)
	}
	if len(path) == 0 {
		if wantOut != "" && wantOut != tokenIn {
			return nil, fmt.Errorf("%w: no path from %s to %s", ErrInvalidSwapPath, tokenIn, wantOut)
		}
		return &RouteResult{TokenIn: tokenIn, TokenOut: tokenIn, AmountIn: amountIn, AmountOut: amountIn}, nil
	}

	seen := make(map[string]struct{}, len(path))
	result := &RouteResult{TokenIn: tokenIn, AmountIn: amountIn, Hops: make([]Hop, 0, len(path))}
	token, amount := tokenIn, amountIn
	for _, marketToken := range path {
		if _, dup := seen[marketToken]; dup {
			return nil, fmt.Errorf("%w: market %s repeats", ErrInvalidSwapPath, marketToken)
		}
		seen[marketToken] = struct{}{}

		m, err := markets.Get(marketToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSwapPath, err)
		}
		hop, err := m.ApplySwap(token, amount, prices, model)
		if err != nil {
			if errors.Is(err, market.ErrSwapNotSupported) {
				return nil, fmt.Errorf("%w: market %s cannot take %s", ErrInvalidSwapPath, marketToken, token)
			}
			return nil, err
		}
		result.Hops = append(result.Hops, Hop{MarketToken: marketToken, Result: hop})
		token, amount = hop.TokenOut, hop.AmountOut
	}
	if wantOut != "" && token != wantOut {
		return nil, fmt.Errorf("%w: path ends at %s, want %s", ErrInvalidSwapPath, token, wantOut)
	}
	result.TokenOut = token
	result.AmountOut = amount
	return result, nil
}
