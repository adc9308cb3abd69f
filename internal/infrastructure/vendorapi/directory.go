package vendorapi

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"gopkg.in/yaml.v3"
)

// Directory is the static vendor account table: the authorizations the
// service may act for, the reseller each platform seller maps to, and the
// default offer id of each SKU family.
type Directory struct {
	Authorizations []Authorization `yaml:"authorizations" validate:"required,min=1,dive"`
	SKUs           []SKUMapping    `yaml:"skus" validate:"dive"`

	byID   map[string]*Authorization
	offers map[string]string
}

// Authorization is one vendor API credential set
type Authorization struct {
	ID            string     `yaml:"id" validate:"required"`
	Name          string     `yaml:"name"`
	ClientID      string     `yaml:"client_id" validate:"required"`
	ClientSecret  string     `yaml:"client_secret" validate:"required"`
	Currency      string     `yaml:"currency" validate:"required,len=3"`
	DistributorID string     `yaml:"distributor_id"`
	Resellers     []Reseller `yaml:"resellers" validate:"dive"`
}

// String redacts the credentials
func (a Authorization) String() string {
	return fmt.Sprintf("Authorization(id=%s, name=%s, client_id=%s, currency=%s)",
		a.ID, a.Name, redact(a.ClientID), a.Currency)
}

// Reseller binds a platform seller to its vendor reseller id
type Reseller struct {
	ID       string `yaml:"id" validate:"required"`
	SellerID string `yaml:"seller_id" validate:"required"`
}

// SKUMapping names the offer id ordered for a SKU family
type SKUMapping struct {
	Family  string `yaml:"family" validate:"required,len=10"`
	OfferID string `yaml:"offer_id" validate:"required,min=10"`
}

// LoadDirectory reads a directory file. ${VAR} references are expanded from
// the environment before parsing so secrets can stay out of the file.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: read directory: %w", err)
	}
	return ParseDirectory([]byte(os.ExpandEnv(string(raw))))
}

// ParseDirectory parses and validates a YAML directory
func ParseDirectory(raw []byte) (*Directory, error) {
	var d Directory
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("vendorapi: parse directory: %w", err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("vendorapi: invalid directory: %w", err)
	}

	d.byID = make(map[string]*Authorization, len(d.Authorizations))
	for i := range d.Authorizations {
		auth := &d.Authorizations[i]
		if _, dup := d.byID[auth.ID]; dup {
			return nil, fmt.Errorf("vendorapi: duplicate authorization %s", auth.ID)
		}
		d.byID[auth.ID] = auth
	}
	d.offers = make(map[string]string, len(d.SKUs))
	for _, sku := range d.SKUs {
		d.offers[sku.Family] = sku.OfferID
	}
	return &d, nil
}

// Authorization returns the authorization with the given id
func (d *Directory) Authorization(id string) (*Authorization, error) {
	auth, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fulfillment.ErrUnknownAuthorization, id)
	}
	return auth, nil
}

// Reseller returns the vendor reseller of a platform seller
func (d *Directory) Reseller(authorizationID, sellerID string) (*Reseller, error) {
	auth, err := d.Authorization(authorizationID)
	if err != nil {
		return nil, err
	}
	for i := range auth.Resellers {
		if auth.Resellers[i].SellerID == sellerID {
			return &auth.Resellers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s under %s", fulfillment.ErrUnknownSeller, sellerID, authorizationID)
}

// OfferID resolves a SKU family to its default offer id. Full offer ids
// and unmapped families are returned unchanged.
func (d *Directory) OfferID(sku string) string {
	if offer, ok := d.offers[sku]; ok {
		return offer
	}
	return sku
}

func redact(s string) string {
	if len(s) <= 8 {
		return "******"
	}
	return s[:4] + "******" + s[len(s)-4:]
}
