package parsers

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"deepagg/internal/domain"
)

const (
	SourceOemstrade = "oemstrade"
	maxOfferBlocks  = 40
)

var (
	offerSplitter = regexp.MustCompile(`(?i)Buy Now`)
	priceTier     = regexp.MustCompile(`(\d+)\s*([€$])\s*([\d.]+)`)
	regionStock   = []struct {
		region  string
		pattern *regexp.Regexp
	}{
		{"EU", regexp.MustCompile(`(?i)Europe\s*-\s*([\d, ]+)`)},
		{"US", regexp.MustCompile(`(?i)Americas\s*-\s*([\d, ]+)`)},
		{"ASIA", regexp.MustCompile(`(?i)Asia\s*-\s*([\d, ]+)`)},
	}
)

func OemstradeSearchURL(mpn string) string {
	return "https://www.oemstrade.com/search/" + url.PathEscape(strings.ToUpper(mpn))
}

// ParseOemstradeOffers reads the per-distributor blocks of an aggregator
// result page. Each price tier becomes one offer.
func ParseOemstradeOffers(html string) []domain.Offer {
	offers := make([]domain.Offer, 0)
	doc, ok := parseDocument(html)
	if !ok {
		return offers
	}

	blocks := offerSplitter.Split(doc.Text(), -1)
	for i, raw := range blocks {
		if i >= maxOfferBlocks {
			break
		}
		offers = append(offers, parseOfferBlock(blank(raw))...)
	}
	return offers
}

func parseOfferBlock(text string) []domain.Offer {
	region := ""
	for _, rs := range regionStock {
		match := rs.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		digits := strings.NewReplacer(",", "", " ", "").Replace(match[1])
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			region = rs.region
			break
		}
	}
	if region == "" {
		return nil
	}

	out := make([]domain.Offer, 0)
	for _, tier := range priceTier.FindAllStringSubmatch(text, -1) {
		price, err := strconv.ParseFloat(strings.TrimRight(tier[3], "."), 64)
		if err != nil || price <= 0 {
			continue
		}
		moq, _ := strconv.Atoi(tier[1])
		currency := "USD"
		if tier[2] == "€" {
			currency = "EUR"
		}
		out = append(out, domain.Offer{Price: price, Currency: currency, MOQ: moq, Region: region})
	}
	return out
}

// MinOffer returns the offer with the lowest positive price.
func MinOffer(offers []domain.Offer) (domain.Offer, bool) {
	var (
		best  domain.Offer
		found bool
	)
	for _, offer := range offers {
		if offer.Price <= 0 {
			continue
		}
		if !found || offer.Price < best.Price {
			best = offer
			found = true
		}
	}
	return best, found
}
