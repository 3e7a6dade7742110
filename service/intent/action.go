package intent

// Action is a structured operation requested by the model. The set of
// implementations is closed: ConnectWallet, DisconnectWallet,
// CheckBalance, TransferSol and CheckSlot.
type Action interface {
	// Name is the tag name the action was parsed from.
	Name() string
	isAction()
}

// Tag names of the action micro-grammar.
const (
	NameConnectWallet    = "connect_wallet"
	NameDisconnectWallet = "disconnect_wallet"
	NameCheckBalance     = "check_balance"
	NameTransferSol      = "transfer_sol"
	NameCheckSlot        = "check_slot"
)

type ConnectWallet struct{}

type DisconnectWallet struct{}

// CheckBalance looks up the balance of Address, or of the connected wallet
// when Address is empty.
type CheckBalance struct {
	Address string
}

// TransferSol sends Amount SOL to Recipient. Amount is NaN when the model
// emitted something that does not parse as a number.
type TransferSol struct {
	Recipient string
	Amount    float64
}

type CheckSlot struct{}

func (ConnectWallet) Name() string    { return NameConnectWallet }
func (DisconnectWallet) Name() string { return NameDisconnectWallet }
func (CheckBalance) Name() string     { return NameCheckBalance }
func (TransferSol) Name() string      { return NameTransferSol }
func (CheckSlot) Name() string        { return NameCheckSlot }

func (ConnectWallet) isAction()    {}
func (DisconnectWallet) isAction() {}
func (CheckBalance) isAction()     {}
func (TransferSol) isAction()      {}
func (CheckSlot) isAction()        {}

// NameOf returns the action name, or "none" for a nil action.
func NameOf(a Action) string {
	if a == nil {
		return "none"
	}
	return a.Name()
}
