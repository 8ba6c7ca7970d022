package domain

// ValidateBalanced checks the double-entry invariant: total debits equal
// total credits and every amount is non-negative.
func ValidateBalanced(lines []PostingLine) error {
	if len(lines) < 2 {
		return ErrEmptyLines
	}

	var debits, credits int64
	for _, line := range lines {
		if line.Amount < 0 {
			return ErrInvalidLineAmount
		}
		switch line.Direction {
		case EntryDirectionDebit:
			debits += line.Amount
		case EntryDirectionCredit:
			credits += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}

	if debits != credits {
		return ErrImbalancedPosting
	}
	return nil
}
