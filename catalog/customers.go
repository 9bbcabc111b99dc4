package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/checkout"
)

// Customers is an in-memory [checkout.Customers] keyed by lowercase email.
type Customers struct {
	mu        sync.Mutex
	byEmail   map[string]*checkout.Customer
	byID      map[string]*checkout.Customer
	addresses map[string]acp.Address
}

var _ checkout.Customers = (*Customers)(nil)

// NewCustomers returns an empty customer directory.
func NewCustomers() *Customers {
	return &Customers{
		byEmail:   make(map[string]*checkout.Customer),
		byID:      make(map[string]*checkout.Customer),
		addresses: make(map[string]acp.Address),
	}
}

// FindOrCreate implements [checkout.Customers].
func (c *Customers) FindOrCreate(_ context.Context, buyer acp.Buyer) (*checkout.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(buyer.Email))

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byEmail[email]; ok {
		out := *existing
		return &out, nil
	}
	customer := &checkout.Customer{ID: "cus_" + uuid.NewString(), Email: email}
	c.byEmail[email] = customer
	c.byID[customer.ID] = customer
	out := *customer
	return &out, nil
}

// UpdateAddress implements [checkout.Customers]. The address country becomes
// the customer's default jurisdiction.
func (c *Customers) UpdateAddress(_ context.Context, customerID string, address acp.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	customer, ok := c.byID[customerID]
	if !ok {
		return fmt.Errorf("catalog: unknown customer %s", customerID)
	}
	customer.Country = strings.ToUpper(address.Country)
	c.addresses[customerID] = address
	return nil
}

// Address returns the last address recorded for customerID.
func (c *Customers) Address(customerID string) (acp.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.addresses[customerID]
	return a, ok
}

// Len reports how many customers exist.
func (c *Customers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
