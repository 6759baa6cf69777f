package session

// WindowPolicy bounds how much prior history is sent with a request.
// Zero values mean unlimited.
type WindowPolicy struct {
	MaxExchanges int
	MaxBytes     int
}

// DefaultWindowPolicy sends the last ten exchanges without a byte cap.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{MaxExchanges: 10}
}

// Window returns the most recent exchanges allowed by p, oldest first.
// The result is a new slice; exchanges is never modified.
func Window(exchanges []Exchange, p WindowPolicy) []Exchange {
	start := 0
	if p.MaxExchanges > 0 && len(exchanges) > p.MaxExchanges {
		start = len(exchanges) - p.MaxExchanges
	}

	if p.MaxBytes > 0 {
		total := 0
		for _, ex := range exchanges[start:] {
			total += exchangeSize(ex)
		}
		for start < len(exchanges) && total > p.MaxBytes {
			total -= exchangeSize(exchanges[start])
			start++
		}
	}

	out := make([]Exchange, len(exchanges)-start)
	copy(out, exchanges[start:])
	return out
}

func exchangeSize(ex Exchange) int {
	return len(ex.Task) + len(ex.Response)
}
