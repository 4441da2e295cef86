package model

import (
	"strconv"
)

// RawStore is a store as read from retailer markup. Every field is text and
// missing fields are empty strings.
type RawStore struct {
	StoreID   string
	Address   string
	Schedule  string
	Holidays  string
	Latitude  string
	Longitude string
	Name      string
	Category  string
}

// RawProduct is a product as read from retailer markup.
type RawProduct struct {
	DiscountValue     string
	Price             string
	PricePerUnit      string
	Name              string
	Image             string
	URL               string
	Supermarket       string
	ExtractedCategory string
	// SourceFile is the page the product was read from.
	SourceFile string
}

// StoreRecord is a validated, canonical store.
type StoreRecord struct {
	StoreID   string
	Address   string
	Schedule  string
	Holidays  string
	Latitude  float64
	Longitude float64
	Name      string
	Category  string
	Source    Source
}

// ProductRecord is a validated, canonical product. Nil amounts are unknown.
type ProductRecord struct {
	DiscountValue     *float64
	Price             *float64
	PricePerUnit      *float64
	Name              string
	Image             string
	URL               string
	Supermarket       string
	ExtractedCategory string
	SourceFile        string
	Source            Source
}

// StoreColumns is the raw-tier column order for stores.
var StoreColumns = []string{
	"store_id", "address", "schedule", "holidays",
	"latitude", "longitude", "name", "category", "source",
}

// ProductColumns is the raw-tier column order for products.
var ProductColumns = []string{
	"discount_value", "price", "price_per_unit", "name", "image",
	"url", "supermarket", "extracted_category", "source_file", "source",
}

// Texts renders the record in StoreColumns order.
func (s StoreRecord) Texts() []any {
	return []any{
		s.StoreID, s.Address, s.Schedule, s.Holidays,
		formatFloat(s.Latitude), formatFloat(s.Longitude),
		s.Name, s.Category, string(s.Source),
	}
}

// Texts renders the record in ProductColumns order. Unknown amounts become
// NULL.
func (p ProductRecord) Texts() []any {
	return []any{
		formatAmount(p.DiscountValue), formatAmount(p.Price), formatAmount(p.PricePerUnit),
		p.Name, p.Image, p.URL, p.Supermarket, p.ExtractedCategory, p.SourceFile,
		string(p.Source),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatAmount(f *float64) any {
	if f == nil {
		return nil
	}
	return formatFloat(*f)
}
