package wallet

import (
	"errors"
	"strings"
)

var cancellationPhrases = []string{
	"User rejected",
	"User denied",
	"Transaction rejected",
	"cancelled by user",
	"canceled by user",
}

var cancellationNames = map[string]bool{
	"WalletSignTransactionError": true,
	"UserRejectedRequestError":   true,
}

// IsUserCancellation reports whether err means the user declined a request
// in the wallet, as opposed to a transient failure. Substring matches are
// case-sensitive.
func IsUserCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransferCancelled) {
		return true
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		if perr.Code == CodeUserRejected || cancellationNames[perr.Name] {
			return true
		}
	}

	msg := err.Error()
	for _, phrase := range cancellationPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// isConnectionLost reports whether a failure after signing started looks
// like the wallet dropped its connection.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "disconnected") || strings.Contains(msg, "not connected")
}
