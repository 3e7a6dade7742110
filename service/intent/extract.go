package intent

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	connectPattern    = regexp.MustCompile(`<connect_wallet>`)
	disconnectPattern = regexp.MustCompile(`<disconnect_wallet>`)
	balancePattern    = regexp.MustCompile(`<check_balance:([^>]*)>`)
	transferPattern   = regexp.MustCompile(`<transfer_sol:([^,]*),([^>]*)>`)
	slotPattern       = regexp.MustCompile(`<check_slot>`)

	// stripPatterns remove every tag form, matched or not. The transfer
	// form is stripped even when it is missing its comma.
	stripPatterns = []*regexp.Regexp{
		connectPattern,
		disconnectPattern,
		balancePattern,
		regexp.MustCompile(`<transfer_sol:[^>]*>`),
		slotPattern,
	}
)

// Extraction is the result of parsing one model reply.
type Extraction struct {
	// Text is the reply with all action tags removed.
	Text string
	// Action is nil when the reply carried no recognised tag.
	Action Action
}

// Extract parses at most one action out of text. Tags are tried in a
// fixed priority order: connect, disconnect, balance, transfer, slot.
func Extract(text string) Extraction {
	action := match(text)
	if action == nil {
		return Extraction{Text: strings.TrimSpace(text)}
	}
	return Extraction{Text: Strip(text), Action: action}
}

// Strip removes every action tag from text and trims the result. Passes
// repeat until nothing changes, so removing an inner tag cannot leave a
// complete outer one behind.
func Strip(text string) string {
	for {
		before := text
		for _, p := range stripPatterns {
			text = p.ReplaceAllString(text, "")
		}
		if text == before {
			return strings.TrimSpace(text)
		}
	}
}

func match(text string) Action {
	if connectPattern.MatchString(text) {
		return ConnectWallet{}
	}
	if disconnectPattern.MatchString(text) {
		return DisconnectWallet{}
	}
	if m := balancePattern.FindStringSubmatch(text); m != nil {
		return CheckBalance{Address: strings.TrimSpace(m[1])}
	}
	if m := transferPattern.FindStringSubmatch(text); m != nil {
		return TransferSol{
			Recipient: strings.TrimSpace(m[1]),
			Amount:    parseAmount(m[2]),
		}
	}
	if slotPattern.MatchString(text) {
		return CheckSlot{}
	}
	return nil
}

func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
