package agent

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/brojonat/pathos/service/wallet"
)

//go:embed prompt.tmpl
var promptSource string

var promptTemplate = template.Must(template.New("system").Parse(promptSource))

type promptData struct {
	Connected  bool
	Address    string
	Balance    string
	Connection string
	Slot       uint64
}

// BuildSystemPrompt renders the system prompt with the live wallet and
// chain context.
func BuildSystemPrompt(state wallet.State, chain ChainSnapshot) (string, error) {
	data := promptData{
		Connected:  state.Connected,
		Connection: chain.Connection,
		Slot:       chain.Slot,
	}
	if state.Connected && state.PublicKey != nil {
		data.Address = state.PublicKey.String()
	}
	if sol, ok := state.BalanceSol(); ok {
		data.Balance = fmt.Sprintf("%.6f", sol)
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
