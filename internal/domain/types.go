package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTimingRecurring marks a line item as a recurring charge on the payment sheet.
const PaymentTimingRecurring = "recurring"

// Recurring interval units accepted by the payment sheet.
const (
	IntervalUnitDay   = "day"
	IntervalUnitWeek  = "week"
	IntervalUnitMonth = "month"
	IntervalUnitYear  = "year"
)

// LineItem is one priced row shown on the payment sheet. Amount is a decimal
// string with exactly two fraction digits; the sheet rejects anything else.
type LineItem struct {
	Label                        string `json:"label"`
	Amount                       string `json:"amount"`
	PaymentTiming                string `json:"paymentTiming,omitempty"`
	RecurringPaymentStartDate    string `json:"recurringPaymentStartDate,omitempty"`
	RecurringPaymentIntervalUnit string `json:"recurringPaymentIntervalUnit,omitempty"`
}

// PriceSummary is the priced view of a cart or order. LineItems ordering is
// significant: the first entry is always the shipping line.
type PriceSummary struct {
	LineItems []LineItem `json:"lineItems"`
	Total     LineItem   `json:"total"`
}

// ShippingRate is a host-system shipping option for a region, prior to any
// payment-sheet formatting.
type ShippingRate struct {
	ID          string
	InstanceID  string
	Title       string
	Description string
	Cost        decimal.Decimal
}

// Identifier returns the wire identifier for the rate ("id:instanceId").
func (r ShippingRate) Identifier() string {
	return r.ID + ":" + r.InstanceID
}

// ShippingMethod is the payment-sheet representation of a shipping rate.
type ShippingMethod struct {
	Label      string `json:"label"`
	Detail     string `json:"detail"`
	Amount     string `json:"amount"`
	Identifier string `json:"identifier"`
	Selected   bool   `json:"selected,omitempty"`
}

// Contact carries the billing or shipping contact fields the payment sheet
// exposes. Shipping contacts arrive redacted (region only) until authorization.
type Contact struct {
	GivenName          string   `json:"givenName"`
	FamilyName         string   `json:"familyName"`
	EmailAddress       string   `json:"emailAddress"`
	PhoneNumber        string   `json:"phoneNumber"`
	AddressLines       []string `json:"addressLines"`
	Locality           string   `json:"locality"`
	AdministrativeArea string   `json:"administrativeArea"`
	PostalCode         string   `json:"postalCode"`
	CountryCode        string   `json:"countryCode"`
	Country            string   `json:"country"`
}

// PaymentSheetRequest is the request object handed to the browser to open the
// payment sheet. Built once per checkout load, then patched by the per-step
// negotiation responses.
type PaymentSheetRequest struct {
	CountryCode                   string           `json:"countryCode"`
	CurrencyCode                  string           `json:"currencyCode"`
	MerchantCapabilities          []string         `json:"merchantCapabilities"`
	SupportedNetworks             []string         `json:"supportedNetworks"`
	ShippingMethods               []ShippingMethod `json:"shippingMethods,omitempty"`
	LineItems                     []LineItem       `json:"lineItems"`
	Total                         LineItem         `json:"total"`
	RequiredBillingContactFields  []string         `json:"requiredBillingContactFields"`
	RequiredShippingContactFields []string         `json:"requiredShippingContactFields,omitempty"`
	SupportsCouponCode            bool             `json:"supportsCouponCode,omitempty"`
}

// SubscriptionTerms describes the recurring billing attached to a cart item.
type SubscriptionTerms struct {
	SignUpFee        decimal.Decimal
	IntervalUnit     string
	FirstPaymentDate time.Time
}

// CartItem is one purchasable row of a cart as exposed by the host commerce
// system.
type CartItem struct {
	ProductID    string
	Title        string
	Quantity     int
	UnitPrice    decimal.Decimal
	Virtual      bool
	Subscription *SubscriptionTerms
}

// Cart is the live cart for a checkout session. ShippingTotal and
// ChosenShippingMethodID reflect the host system's current checkout state and
// are superseded once the payment sheet negotiates a method.
type Cart struct {
	ID                     string
	Items                  []CartItem
	CouponCodes            []string
	ShippingCountry        string
	ShippingTotal          decimal.Decimal
	ChosenShippingMethodID string
}

// ApplePayToken is the opaque payment token minted by the payment sheet.
// PaymentData is passed verbatim to the gateway.
type ApplePayToken struct {
	PaymentData           json.RawMessage `json:"paymentData" validate:"required"`
	TransactionIdentifier string          `json:"transactionIdentifier"`
}

// ApplePayPayment is the authorization event payload delivered by the sheet.
type ApplePayPayment struct {
	Token           ApplePayToken `json:"token" validate:"required"`
	BillingContact  Contact       `json:"billingContact"`
	ShippingContact Contact       `json:"shippingContact"`
}

// Virtual reports whether every item in the cart is virtual, in which case no
// shipping contact is required.
func (c Cart) Virtual() bool {
	for _, item := range c.Items {
		if !item.Virtual {
			return false
		}
	}
	return true
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending marks an order awaiting settlement.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted marks an order whose payment settled successfully.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed marks an order whose settlement attempt failed.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusRefunded marks an order refunded in full after settlement.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Address is a postal address with the contact details settlement needs.
type Address struct {
	Name       string
	Lines      []string
	City       string
	Region     string
	PostalCode string
	Country    string
	Email      string
	Phone      string
}

// OrderItem is one purchased row frozen onto an order.
type OrderItem struct {
	ProductID string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderNote is an append-only audit entry on an order.
type OrderNote struct {
	At   time.Time
	Text string
}

// Order is the order-management record this service creates and finalizes.
// TransactionXref is the gateway's durable settlement handle and the sole link
// between local order state and remote settlement state.
type Order struct {
	ID               string
	Key              string
	Status           OrderStatus
	Currency         string
	Items            []OrderItem
	ShippingTotal    decimal.Decimal
	Total            decimal.Decimal
	Billing          Address
	Shipping         Address
	ShippingMethodID string
	TransactionXref  string
	AmountReceived   int64
	GatewayResponse  map[string]string
	Notes            []OrderNote
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionState enumerates the payment-sheet protocol states for a checkout
// attempt.
type SessionState string

const (
	// SessionStarted is the initial state after the sheet request is built.
	SessionStarted SessionState = "started"
	// SessionMerchantValidated means Apple confirmed the merchant identity.
	SessionMerchantValidated SessionState = "merchant_validated"
	// SessionShippingNegotiated means at least one contact/method exchange happened.
	SessionShippingNegotiated SessionState = "shipping_negotiated"
	// SessionAuthorizing means a settlement call is in flight; cancellation is ignored.
	SessionAuthorizing SessionState = "authorizing"
	// SessionCompleted is terminal: settlement succeeded.
	SessionCompleted SessionState = "completed"
	// SessionFailed is terminal: settlement failed.
	SessionFailed SessionState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CheckoutSession is the per-checkout protocol state. Shipping negotiation
// state lives here, keyed by session, and never leaks across sessions.
type CheckoutSession struct {
	ID             string
	CartID         string
	OrderKey       string
	State          SessionState
	AvailableRates []ShippingRate
	SelectedRate   *ShippingRate
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}
