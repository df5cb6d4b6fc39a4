package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// Action identifies a gateway transaction operation.
type Action string

const (
	// ActionSale charges the supplied payment token.
	ActionSale Action = "SALE"
	// ActionQuery fetches the current settlement state of a transaction.
	ActionQuery Action = "QUERY"
	// ActionCancel voids an authorized transaction in full before capture.
	ActionCancel Action = "CANCEL"
	// ActionCapture captures an authorized transaction, possibly for less than
	// the authorized amount.
	ActionCapture Action = "CAPTURE"
	// ActionRefundSale refunds a settled transaction.
	ActionRefundSale Action = "REFUND_SALE"
)

// Transaction types on the gateway wire protocol.
const (
	// TypeECommerce is a cardholder-initiated e-commerce transaction.
	TypeECommerce = 1
	// TypeContinuousAuthority is a merchant-initiated recurring charge against
	// a stored agreement.
	TypeContinuousAuthority = 9
)

// Gateway response codes with protocol-level meaning.
const (
	// ResponseCodeSuccess is the sole success code.
	ResponseCodeSuccess = 0
	// ResponseCodeIPBlocked means the gateway rejected the caller's IP address.
	ResponseCodeIPBlocked = 65558
)

// Settlement states reported by QUERY.
const (
	StateApproved = "approved"
	StateCaptured = "captured"
	StateAccepted = "accepted"
)

// Sentinel errors for gateway interactions.
var (
	// ErrGatewayUnreachable indicates a transport failure before a parseable
	// response arrived; the transaction outcome is known to be "not attempted".
	ErrGatewayUnreachable = errors.New("payments: gateway unreachable")
	// ErrGatewayProtocol indicates the gateway answered with a malformed or
	// unexpected payload. Money may have moved; callers must not retry blindly.
	ErrGatewayProtocol = errors.New("payments: malformed gateway response")
	// ErrIPBlocked indicates the gateway blocked this server's IP address.
	ErrIPBlocked = errors.New("payments: gateway blocked caller IP")
	// ErrUntrustedValidationURL indicates a merchant-validation URL outside the
	// payment-sheet provider's domain. Rejected before any network call.
	ErrUntrustedValidationURL = errors.New("payments: untrusted merchant validation URL")
)

// TransactionRequest is one gateway operation. Amount is in minor units.
// TransactionUnique must be fresh per attempt; reuse makes gateway duplicate
// detection ambiguous.
type TransactionRequest struct {
	Action            Action
	Type              int
	Amount            int64
	TransactionUnique string
	PaymentToken      string
	Xref              string
	RTAgreementType   string
}

// TransactionResponse is the normalized gateway reply. Fields preserves the
// full parsed body for the order audit trail.
type TransactionResponse struct {
	ResponseCode      int
	ResponseMessage   string
	Xref              string
	State             string
	Amount            int64
	AmountReceived    int64
	TransactionUnique string
	Fields            map[string]string
}

// Success reports whether the gateway accepted the operation.
func (r *TransactionResponse) Success() bool {
	return r.ResponseCode == ResponseCodeSuccess
}

// AmountReceivedMajor renders the received amount in major units at two
// places, for audit notes.
func (r *TransactionResponse) AmountReceivedMajor() string {
	major := r.AmountReceived / 100
	minor := r.AmountReceived % 100
	if minor < 0 {
		minor = -minor
	}
	return strconv.FormatInt(major, 10) + "." + pad2(minor)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// Client speaks the gateway's signed transaction protocol and the payment-sheet
// provider's merchant-validation handshake. All calls are synchronous and
// single-attempt; retrying a financial operation is a caller decision.
type Client interface {
	// Settle executes a transaction and returns the normalized response.
	Settle(ctx context.Context, req TransactionRequest) (*TransactionResponse, error)
	// Query fetches the settlement state for a gateway xref.
	Query(ctx context.Context, xref string) (*TransactionResponse, error)
	// ValidateMerchant performs the merchant-validation handshake against the
	// provider's validation URL and returns the opaque session payload.
	ValidateMerchant(ctx context.Context, validationURL string) (json.RawMessage, error)
}
