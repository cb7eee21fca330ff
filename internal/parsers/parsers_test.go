package parsers

import (
	"strings"
	"testing"
)

const promelecPage = `<html><body>
<div class="catalog">
  <div class="catalog-item">
    <a class="catalog-item__title" href="/product/123/">Стабилизатор LM317T [TO-220]</a>
    <span class="catalog-item__manufacturer">Texas Instruments</span>
    <div class="catalog-item__description">Регулируемый стабилизатор</div>
    <div class="price">Цена от 12,50 руб.</div>
    <div class="stock">Наличие: 1 500 шт</div>
  </div>
  <div class="catalog-item">
    <a href="/product/456/">NE555P</a>
    <span class="article">Арт.: NE555P-DIP</span>
  </div>
  <div class="catalog-item"><span>no link here</span></div>
</div>
</body></html>`

func TestParsePromelecListing(t *testing.T) {
	rows := ParsePromelecListing(promelecPage, "https://www.promelec.ru/search/?q=lm317")
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.SourceID != SourcePromelec {
		t.Fatalf("source = %q, want %q", first.SourceID, SourcePromelec)
	}
	if first.URL != "https://www.promelec.ru/product/123/" {
		t.Fatalf("url = %q", first.URL)
	}
	if first.MPN != "LM317T" {
		t.Fatalf("mpn = %q, want LM317T", first.MPN)
	}
	if first.Manufacturer != "Texas Instruments" {
		t.Fatalf("manufacturer = %q", first.Manufacturer)
	}
	if first.MinPrice != 12.5 || first.MinCurrency != "RUB" {
		t.Fatalf("price = %v %s, want 12.5 RUB", first.MinPrice, first.MinCurrency)
	}
	if first.Stock != 1500 {
		t.Fatalf("stock = %d, want 1500", first.Stock)
	}
	if first.MinPriceRub != nil {
		t.Fatal("parsers must leave converted price unset")
	}

	if rows[1].MPN != "NE555P-DIP" {
		t.Fatalf("explicit article mpn = %q, want NE555P-DIP", rows[1].MPN)
	}
}

func TestParseElectronshikListing_TableRows(t *testing.T) {
	page := `<table>
<tr><th>Наименование</th><th>Цена</th></tr>
<tr><td><a href="https://www.electronshik.ru/item/ATMEGA328P-PU">ATMEGA328P-PU микроконтроллер</a></td>
<td class="brand">Microchip</td><td class="package">DIP-28</td><td>Цена: 245 р.</td><td>В наличии 37</td></tr>
</table>`

	rows := ParseElectronshikListing(page, "https://www.electronshik.ru/search?q=atmega")
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.MPN != "ATMEGA328P-PU" || row.Manufacturer != "Microchip" || row.PackageType != "DIP-28" {
		t.Fatalf("row = %+v", row)
	}
	if row.MinPrice != 245 || row.Stock != 37 {
		t.Fatalf("price/stock = %v/%d, want 245/37", row.MinPrice, row.Stock)
	}
}

func TestParseListing_GarbageInput(t *testing.T) {
	if rows := ParsePromelecListing("", ""); len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
	if rows := ParseElectronshikListing("<<<not html", "::bad"); len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0", len(rows))
	}
}

func TestParseOemstradeOffers(t *testing.T) {
	page := `<html><body>
<div>LM317T Texas Instruments Europe - 1,200 in stock 1 $0.52 100 $0.41 Buy Now</div>
<div>LM317T onsemi Americas - 0 Asia - 300 10 €0.39 Buy Now</div>
<div>LM317T no stock anywhere 1 $0.10 Buy Now</div>
</body></html>`

	offers := ParseOemstradeOffers(page)
	if len(offers) != 3 {
		t.Fatalf("len(offers) = %d, want 3 (%+v)", len(offers), offers)
	}
	if offers[0].Region != "EU" || offers[0].Currency != "USD" || offers[0].MOQ != 1 {
		t.Fatalf("offers[0] = %+v", offers[0])
	}
	if offers[2].Region != "ASIA" || offers[2].Currency != "EUR" || offers[2].Price != 0.39 {
		t.Fatalf("offers[2] = %+v", offers[2])
	}

	best, ok := MinOffer(offers)
	if !ok || best.Price != 0.39 {
		t.Fatalf("MinOffer = %+v/%v, want 0.39", best, ok)
	}
}

func TestMinOffer_IgnoresNonPositive(t *testing.T) {
	if _, ok := MinOffer(nil); ok {
		t.Fatal("MinOffer(nil) should report false")
	}
	offers := ParseOemstradeOffers("<p>nothing to see</p>")
	if len(offers) != 0 {
		t.Fatalf("len(offers) = %d, want 0", len(offers))
	}
}

func TestSearchURLs(t *testing.T) {
	if got := PromelecSearchURL("lm 317"); got != "https://www.promelec.ru/search/?q=lm+317" {
		t.Fatalf("PromelecSearchURL = %q", got)
	}
	if got := OemstradeSearchURL("lm317t"); !strings.HasSuffix(got, "/search/LM317T") {
		t.Fatalf("OemstradeSearchURL = %q", got)
	}
	if len(DefaultSources()) != 2 {
		t.Fatal("expected two default listing sources")
	}
}
