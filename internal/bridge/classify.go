package bridge

import (
	"strings"

	"github.com/mbd888/walletguard/internal/risk"
)

// approveSelector is the 4-byte selector of ERC-20 approve(address,uint256).
const approveSelector = "0x095ea7b3"

// selectorHexLen is "0x" plus one 4-byte selector. Anything longer carries
// arguments and is treated as a contract interaction.
const selectorHexLen = 10

// Classify buckets calldata into the transaction type sent to the scorer.
// First match wins: an approve selector, then any calldata longer than a bare
// selector (swap), otherwise a plain send. It is a heuristic and will
// misclassify some calls; it only steers the scorer's input.
func Classify(data string) risk.TxType {
	switch {
	case strings.HasPrefix(strings.ToLower(data), approveSelector):
		return risk.TxApprove
	case len(data) > selectorHexLen:
		return risk.TxSwap
	default:
		return risk.TxSend
	}
}
