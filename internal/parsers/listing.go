package parsers

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deepagg/internal/domain"
)

const (
	SourcePromelec     = "promelec"
	SourceElectronshik = "electronshik"
)

func PromelecSearchURL(query string) string {
	return "https://www.promelec.ru/search/?q=" + url.QueryEscape(query)
}

func ElectronshikSearchURL(query string) string {
	return "https://www.electronshik.ru/search?q=" + url.QueryEscape(query)
}

type listingLayout struct {
	source       string
	items        string
	link         string
	mpn          string
	manufacturer string
	description  string
	pkg          string
	priceLabels  []string
	stockLabels  []string
}

var promelecLayout = listingLayout{
	source:       SourcePromelec,
	items:        ".catalog__item, .product-card, .goods-list__item, .list__item, .catalog-item, .product-item",
	link:         `a[href*="/product/"], a[href*="/goods/"], a[href*="/catalog/"]`,
	mpn:          `.catalog-item__part-number, .product-code, .article, [itemprop="mpn"]`,
	manufacturer: ".catalog-item__manufacturer, .product-brand, .manufacturer",
	description:  ".product-card__descr, .goods-item__descr, .shortdesc, .desc, .catalog-item__description",
	pkg:          ".package",
	priceLabels:  []string{"Цена от", "Цена"},
	stockLabels:  []string{"Наличие"},
}

var electronshikLayout = listingLayout{
	source:       SourceElectronshik,
	items:        "table tr, .catalog-item, .product-tile",
	link:         `a[href*="/product/"], a[href*="/catalog/"], a[href*="/item/"]`,
	mpn:          `[itemprop="mpn"], .article`,
	manufacturer: ".brand, .manufacturer",
	description:  ".description, .descr, .desc, .shortdesc",
	pkg:          ".package",
	priceLabels:  []string{"Цена", "цена"},
	stockLabels:  []string{"В наличии", "Наличие"},
}

func ParsePromelecListing(html, sourceURL string) []domain.CanonicalRow {
	return parseListing(html, sourceURL, promelecLayout)
}

func ParseElectronshikListing(html, sourceURL string) []domain.CanonicalRow {
	return parseListing(html, sourceURL, electronshikLayout)
}

func parseListing(html, sourceURL string, layout listingLayout) []domain.CanonicalRow {
	rows := make([]domain.CanonicalRow, 0)
	doc, ok := parseDocument(html)
	if !ok {
		return rows
	}

	seen := make(map[string]struct{})
	doc.Find(layout.items).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(layout.link).First()
		href, exists := link.Attr("href")
		title := blank(link.Text())
		if !exists || href == "" || title == "" {
			return
		}

		rowURL := absoluteURL(href, sourceURL)
		if _, dup := seen[rowURL]; dup {
			return
		}
		seen[rowURL] = struct{}{}

		mpn := strings.TrimSpace(strings.TrimPrefix(blank(item.Find(layout.mpn).First().Text()), "Арт."))
		mpn = strings.TrimSpace(strings.TrimPrefix(mpn, ":"))
		if mpn == "" {
			mpn = guessMPN(title)
		}

		row := domain.CanonicalRow{
			SourceID:     layout.source,
			MPN:          mpn,
			Title:        title,
			Manufacturer: blank(item.Find(layout.manufacturer).First().Text()),
			Description:  blank(item.Find(layout.description).First().Text()),
			PackageType:  blank(item.Find(layout.pkg).First().Text()),
			Regions:      []string{"RU"},
			URL:          rowURL,
		}

		text := blank(item.Text())
		for _, label := range layout.priceLabels {
			if price, ok := labelledNumber(text, label); ok && price > 0 {
				row.MinPrice = price
				row.MinCurrency = "RUB"
				break
			}
		}
		for _, label := range layout.stockLabels {
			if stock, ok := labelledNumber(text, label); ok {
				row.Stock = int(stock)
				break
			}
		}

		rows = append(rows, row)
	})
	return rows
}
