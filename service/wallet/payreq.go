package wallet

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// PaymentRequestMemoPrefix prefixes generated memos so incoming transfers can
// be matched to the request that asked for them.
const PaymentRequestMemoPrefix = "pathos:"

const qrCodeSize = 256

// PaymentRequest is a Solana Pay transfer request for receiving SOL.
type PaymentRequest struct {
	ID             string    `json:"id"`
	Recipient      string    `json:"recipient"`
	Network        string    `json:"network"`
	AmountLamports uint64    `json:"amount_lamports,omitempty"` // zero lets the payer choose
	AmountSol      float64   `json:"amount_sol,omitempty"`
	Label          string    `json:"label,omitempty"`
	Message        string    `json:"message,omitempty"`
	Memo           string    `json:"memo"`
	PaymentURL     string    `json:"payment_url"`  // solana: URL for wallet apps
	QRCodeData     string    `json:"qr_code_data"` // base64 encoded PNG
	CreatedAt      time.Time `json:"created_at"`
}

// PaymentRequestParams describes the transfer being requested.
type PaymentRequestParams struct {
	Recipient string
	AmountSol float64 // optional
	Label     string
	Message   string
	Memo      string // generated when empty
}

// NewPaymentRequest validates params and builds the Solana Pay URL and QR code.
func NewPaymentRequest(params PaymentRequestParams, network string) (*PaymentRequest, error) {
	recipient, err := ParseAddress(strings.TrimSpace(params.Recipient))
	if err != nil {
		return nil, err
	}

	var lamports uint64
	if params.AmountSol != 0 {
		lamports, err = SolToLamports(params.AmountSol)
		if err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()
	memo := params.Memo
	if memo == "" {
		memo = PaymentRequestMemoPrefix + id
	}

	paymentURL := BuildSolanaPayURL(recipient, lamports, params.Label, params.Message, memo)
	png, err := QRCodePNG(paymentURL)
	if err != nil {
		return nil, err
	}

	return &PaymentRequest{
		ID:             id,
		Recipient:      recipient.String(),
		Network:        network,
		AmountLamports: lamports,
		AmountSol:      LamportsToSol(lamports),
		Label:          params.Label,
		Message:        params.Message,
		Memo:           memo,
		PaymentURL:     paymentURL,
		QRCodeData:     base64.StdEncoding.EncodeToString(png),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// BuildSolanaPayURL creates a Solana Pay transfer request URL.
// Format: solana:{recipient}?amount={sol}&label={label}&message={message}&memo={memo}
// A zero amount is omitted so the wallet prompts the payer for one.
func BuildSolanaPayURL(recipient solana.PublicKey, lamports uint64, label, message, memo string) string {
	params := url.Values{}
	if lamports > 0 {
		params.Set("amount", formatLamportsAsSol(lamports))
	}
	if label != "" {
		params.Set("label", label)
	}
	if message != "" {
		params.Set("message", message)
	}
	if memo != "" {
		params.Set("memo", memo)
	}

	u := "solana:" + recipient.String()
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// QRCodePNG renders data as a PNG QR code with medium error correction.
func QRCodePNG(data string) ([]byte, error) {
	if data == "" {
		return nil, errors.New("failed to create QR code: empty payload")
	}
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return png, nil
}

// formatLamportsAsSol renders an exact decimal SOL amount without trailing zeros.
func formatLamportsAsSol(lamports uint64) string {
	whole := lamports / solana.LAMPORTS_PER_SOL
	frac := lamports % solana.LAMPORTS_PER_SOL
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%09d", whole, frac), "0")
}
