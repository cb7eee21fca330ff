package domain

// CanonicalRow is a listing normalized away from any source site's markup.
type CanonicalRow struct {
	SourceID     string   `json:"source"`
	MPN          string   `json:"mpn"`
	Title        string   `json:"title"`
	Manufacturer string   `json:"manufacturer"`
	Description  string   `json:"description"`
	PackageType  string   `json:"package"`
	Packaging    string   `json:"packaging"`
	Regions      []string `json:"regions"`
	Stock        int      `json:"stock"`
	URL          string   `json:"url,omitempty"`
	MinPrice     float64  `json:"price_min,omitempty"`
	MinCurrency  string   `json:"price_min_currency,omitempty"`
	MinPriceRub  *float64 `json:"price_min_rub"`
}

// Offer is one price line from the enrichment aggregator.
type Offer struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	MOQ      int     `json:"moq"`
	Region   string  `json:"region,omitempty"`
}
