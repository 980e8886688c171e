package ports

import "context"

// ChainReader reads balances and approvals directly from Polygon. These are
// the slow-path source of truth that periodically overwrites the ledger's
// fill-driven fast path.
type ChainReader interface {
	// CollateralBalance returns the USDC.e balance of the funder, in USDC.
	CollateralBalance(ctx context.Context) (float64, error)

	// CollateralAllowance returns the USDC.e allowance granted to the
	// exchange contract, in USDC.
	CollateralAllowance(ctx context.Context) (float64, error)

	// OutcomeBalance returns the ERC-1155 share balance for a token.
	OutcomeBalance(ctx context.Context, tokenID string) (float64, error)

	// IsApprovedForAll reports whether the exchange operator may transfer
	// the account's conditional tokens.
	IsApprovedForAll(ctx context.Context) (bool, error)
}
