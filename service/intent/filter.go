package intent

import "strings"

// IsNecessary reports whether action still needs to run given the prose
// the model already produced. Status actions whose result the text already
// states are suppressed. Matching is case sensitive.
func IsNecessary(text string, action Action) bool {
	switch a := action.(type) {
	case nil:
		return false
	case CheckSlot:
		return !containsAny(text, "slot", "block")
	case CheckBalance:
		if a.Address != "" {
			return true
		}
		return !containsAny(text, "balance", "SOL")
	case ConnectWallet:
		return !containsAll(text, "connected", "wallet")
	case DisconnectWallet:
		return !containsAll(text, "disconnect", "wallet")
	default:
		return true
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
