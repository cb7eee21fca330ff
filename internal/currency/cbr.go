package currency

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

type cbrValCurs struct {
	XMLName xml.Name    `xml:"ValCurs"`
	Date    string      `xml:"Date,attr"`
	Valutes []cbrValute `xml:"Valute"`
}

type cbrValute struct {
	CharCode string `xml:"CharCode"`
	Nominal  string `xml:"Nominal"`
	Value    string `xml:"Value"`
}

// ParseCBR reads the central bank daily XML and returns RUB per one unit of
// every listed currency. RUB itself is always present.
func ParseCBR(r io.Reader) (map[string]float64, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	var doc cbrValCurs
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode cbr xml: %w", err)
	}
	if len(doc.Valutes) == 0 {
		return nil, fmt.Errorf("cbr xml has no Valute entries")
	}

	rates := map[string]float64{"RUB": 1}
	for _, valute := range doc.Valutes {
		code := strings.ToUpper(strings.TrimSpace(valute.CharCode))
		if code == "" {
			continue
		}
		value, err := parseDecimal(valute.Value)
		if err != nil || value <= 0 {
			continue
		}
		nominal, err := strconv.Atoi(strings.TrimSpace(valute.Nominal))
		if err != nil || nominal <= 0 {
			nominal = 1
		}
		rates[code] = value / float64(nominal)
	}
	return rates, nil
}

func parseDecimal(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
