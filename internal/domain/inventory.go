package domain

// inventory.go — position math. Holdings are long-only: the maker never
// initiates a short, and CanSell requires covered size. A negative position
// can still appear after an on-chain overwrite (out-of-band activity); buying
// back toward zero is always allowed so such a position self-corrects.

const sizeEpsilon = 1e-9

// CanBuy reports whether buying size shares keeps the position within the
// per-token cap. Recovering from a negative position toward zero is always
// allowed regardless of the cap.
func CanBuy(position, size, maxPosition float64) bool {
	if size <= 0 {
		return false
	}
	if position < 0 {
		return true
	}
	return position+size <= maxPosition+sizeEpsilon
}

// CanSell reports whether the held position covers the sell.
func CanSell(position, size float64) bool {
	if size <= 0 {
		return false
	}
	return position+sizeEpsilon >= size
}

// ApplyFill returns the position after a fill: BUY adds, SELL subtracts.
func ApplyFill(position float64, f Fill) float64 {
	return position + f.SignedSize()
}
