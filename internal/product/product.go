package product

import "time"

// Type enumerates the purchasable product kinds.
type Type string

const (
	TypeQuota              Type = "quota"
	TypeCustomDomain       Type = "custom_domain"
	TypeCustomDomainYearly Type = "custom_domain_yearly"
)

// Valid reports whether the type is one of the known product kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeQuota, TypeCustomDomain, TypeCustomDomainYearly:
		return true
	}
	return false
}

// Subscription reports whether purchasing this type opens a subscription window.
func (t Type) Subscription() bool {
	return t == TypeCustomDomain || t == TypeCustomDomainYearly
}

// Product is a catalog item. The settlement subsystem reads it to
// snapshot prices and drive fulfillment; admin endpoints mutate it.
type Product struct {
	ID                       int64     `json:"id"`
	Name                     string    `json:"name"`
	Description              string    `json:"description"`
	QuotaAmount              int       `json:"quotaAmount"`
	Price                    int64     `json:"price"`
	ProductType              Type      `json:"productType"`
	IsActive                 bool      `json:"isActive"`
	SubscriptionDurationDays *int      `json:"subscriptionDurationDays,omitempty"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}
