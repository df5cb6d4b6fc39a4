// Package firestore contains Firestore-backed repository implementations.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	firestorev1 "cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/npi-gateway/applepay-api/internal/domain"
	platformfirestore "github.com/npi-gateway/applepay-api/internal/platform/firestore"
	"github.com/npi-gateway/applepay-api/internal/repositories"
)

const orderCollection = "orders"

type orderDocument struct {
	Key              string               `firestore:"key"`
	Status           string               `firestore:"status"`
	Currency         string               `firestore:"currency"`
	Items            []orderItemDocument  `firestore:"items"`
	ShippingTotal    string               `firestore:"shippingTotal"`
	Total            string               `firestore:"total"`
	Billing          addressDocument      `firestore:"billing"`
	Shipping         addressDocument      `firestore:"shipping"`
	ShippingMethodID string               `firestore:"shippingMethodId,omitempty"`
	TransactionXref  string               `firestore:"transactionXref,omitempty"`
	AmountReceived   int64                `firestore:"amountReceived"`
	GatewayResponse  map[string]string    `firestore:"gatewayResponse,omitempty"`
	Notes            []orderNoteDocument  `firestore:"notes,omitempty"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId,omitempty"`
	Title     string `firestore:"title"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
}

type addressDocument struct {
	Name       string   `firestore:"name,omitempty"`
	Lines      []string `firestore:"lines,omitempty"`
	City       string   `firestore:"city,omitempty"`
	Region     string   `firestore:"region,omitempty"`
	PostalCode string   `firestore:"postalCode,omitempty"`
	Country    string   `firestore:"country,omitempty"`
	Email      string   `firestore:"email,omitempty"`
	Phone      string   `firestore:"phone,omitempty"`
}

type orderNoteDocument struct {
	At   time.Time `firestore:"at"`
	Text string    `firestore:"text"`
}

// OrderRepository persists orders in a Firestore collection.
type OrderRepository struct {
	base  *platformfirestore.BaseRepository[orderDocument]
	clock func() time.Time
}

// NewOrderRepository constructs a Firestore order repository.
func NewOrderRepository(provider *platformfirestore.Provider, clock func() time.Time) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	base := platformfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, clock: clock}, nil
}

// Create stores a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return repositories.NewConflictError("firestore: order requires an ID")
	}
	now := r.clock()
	order.CreatedAt = now
	order.UpdatedAt = now
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// GetByID loads an order by internal ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

// GetByKey loads an order by its public retry key.
func (r *OrderRepository) GetByKey(ctx context.Context, key string) (*domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestorev1.Query) firestorev1.Query {
		return q.Where("key", "==", key).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("firestore: order with key %s not found", key))
	}
	return decodeOrder(docs[0].ID, docs[0].Data)
}

// Update persists mutations to an existing order.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return repositories.NewConflictError("firestore: order requires an ID")
	}
	order.UpdatedAt = r.clock()
	return r.base.Set(ctx, order.ID, encodeOrder(order))
}

func encodeOrder(order *domain.Order) orderDocument {
	doc := orderDocument{
		Key:              order.Key,
		Status:           string(order.Status),
		Currency:         order.Currency,
		ShippingTotal:    order.ShippingTotal.String(),
		Total:            order.Total.String(),
		Billing:          encodeAddress(order.Billing),
		Shipping:         encodeAddress(order.Shipping),
		ShippingMethodID: order.ShippingMethodID,
		TransactionXref:  order.TransactionXref,
		AmountReceived:   order.AmountReceived,
		GatewayResponse:  order.GatewayResponse,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	for _, note := range order.Notes {
		doc.Notes = append(doc.Notes, orderNoteDocument{At: note.At, Text: note.Text})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (*domain.Order, error) {
	shippingTotal, err := decimal.NewFromString(doc.ShippingTotal)
	if err != nil {
		return nil, fmt.Errorf("firestore: order %s shipping total: %w", id, err)
	}
	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return nil, fmt.Errorf("firestore: order %s total: %w", id, err)
	}

	order := &domain.Order{
		ID:               id,
		Key:              doc.Key,
		Status:           domain.OrderStatus(doc.Status),
		Currency:         doc.Currency,
		ShippingTotal:    shippingTotal,
		Total:            total,
		Billing:          decodeAddress(doc.Billing),
		Shipping:         decodeAddress(doc.Shipping),
		ShippingMethodID: doc.ShippingMethodID,
		TransactionXref:  doc.TransactionXref,
		AmountReceived:   doc.AmountReceived,
		GatewayResponse:  doc.GatewayResponse,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		unit, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("firestore: order %s item price: %w", id, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: unit,
		})
	}
	for _, note := range doc.Notes {
		order.Notes = append(order.Notes, domain.OrderNote{At: note.At, Text: note.Text})
	}
	return order, nil
}

func encodeAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Name:       addr.Name,
		Lines:      addr.Lines,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Email:      addr.Email,
		Phone:      addr.Phone,
	}
}

func decodeAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Name:       doc.Name,
		Lines:      doc.Lines,
		City:       doc.City,
		Region:     doc.Region,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Email:      doc.Email,
		Phone:      doc.Phone,
	}
}
