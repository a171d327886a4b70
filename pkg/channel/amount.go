package channel

import (
	"fmt"
	"strconv"
	"strings"
)

// SatsPerBtc is the number of minimal units in one coin.
const SatsPerBtc = 100_000_000

// FormatAmount renders an amount of satoshis as a fixed 8-decimal string.
// All ledger arithmetic happens in integer satoshis; this is the only place
// where amounts are turned into a decimal representation.
func FormatAmount(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	return fmt.Sprintf("%s%d.%08d", sign, sats/SatsPerBtc, sats%SatsPerBtc)
}

// ParseAmount parses a decimal coin amount with up to 8 fractional digits
// into satoshis.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac := s, ""
	if idx := strings.Index(s, "."); idx != -1 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if len(frac) > 8 {
		return 0, fmt.Errorf("amount %s has more than 8 decimal places", s)
	}
	// both parts must be bare digit runs, signs included
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %s", s)
			}
		}
	}

	wholePart := int64(0)
	if len(whole) > 0 {
		var err error
		wholePart, err = strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %s: %s", s, err)
		}
	}

	fracPart := int64(0)
	if len(frac) > 0 {
		padded := frac + strings.Repeat("0", 8-len(frac))
		fracPart, _ = strconv.ParseInt(padded, 10, 64)
	}

	return wholePart*SatsPerBtc + fracPart, nil
}
