// Package models defines data structures shared by the harvester packages.
package models

// Site is a country-scoped marketplace instance.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category is a taxonomy node of a site. TotalItems and EffectiveCap are
// filled once the category metadata has been queried.
type Category struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TotalItems   int    `json:"total_items_in_this_category,omitempty"`
	EffectiveCap int    `json:"effective_cap,omitempty"`
}

// ScalarFields are projected directly from the top level of a raw product.
type ScalarFields struct {
	CategoryID         *string  `json:"category_id"`
	Title              *string  `json:"title"`
	Price              *float64 `json:"price"`
	OriginalPrice      *float64 `json:"original_price"`
	AvailableQuantity  *int     `json:"available_quantity"`
	SoldQuantity       *int     `json:"sold_quantity"`
	BuyingMode         *string  `json:"buying_mode"`
	ListingType        *string  `json:"listing_type_id"`
	AcceptsMercadoPago *bool    `json:"accepts_mercadopago"`
	Condition          *string  `json:"condition"`
}

// SellerFields describe the seller reputation.
type SellerFields struct {
	SellerLevel       *string  `json:"seller_level_id"`
	SellerPowerSeller *string  `json:"seller_powerseller"`
	PositiveRating    *float64 `json:"positive_rating"`
	NegativeRating    *float64 `json:"negative_rating"`
	NeutralRating     *float64 `json:"neutral_rating"`
}

// LogisticsFields hold shipping and merchandising flags.
type LogisticsFields struct {
	FreeShipping    *bool `json:"free_shipping"`
	StorePickup     *bool `json:"store_pickup"`
	TagCount        *int  `json:"number_of_tags"`
	IsOfficialStore *bool `json:"is_official_store"`
}

// UpdateFields is the last update date encoded in the thumbnail file name.
type UpdateFields struct {
	MonthUpdate *string `json:"month_update"`
	YearUpdate  *string `json:"year_update"`
}

// QuestionFields summarise buyer question activity on a listing.
type QuestionFields struct {
	YearCreated    *string `json:"year_created"`
	MonthCreated   *string `json:"month_created"`
	TotalQuestions *int    `json:"total_questions"`
}

// ProductRecord is one flattened row per product identifier. A nil field
// means the source did not provide the value.
type ProductRecord struct {
	ID string `json:"id"`
	ScalarFields
	SellerFields
	LogisticsFields
	UpdateFields
	QuestionFields
	CategoryName string `json:"category_name"`
}

// CategoryDataset is the checkpoint unit: every record harvested for one category.
type CategoryDataset struct {
	Category Category
	Records  []*ProductRecord
}

// SiteDataset concatenates the category datasets of a site.
type SiteDataset struct {
	Site    Site
	Records []*ProductRecord
}
