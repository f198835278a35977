package models

import "strings"

// DefaultPrice applies when no known product identifier is present.
const DefaultPrice = "$97"

type priceEntry struct {
	ProductID string
	Price     string
}

// priceTable is scanned in order; the first identifier found wins.
var priceTable = []priceEntry{
	{ProductID: "814557804", Price: "$97"},
	{ProductID: "1858795045", Price: "$57"},
	{ProductID: "298281289", Price: "$67"},
	{ProductID: "1233593608", Price: "$47"},
	{ProductID: "798534830", Price: "$37"},
}

// DerivePrice returns the display price for the product an affiliate URL points at.
func DerivePrice(affiliateURL string) string {
	for _, e := range priceTable {
		if strings.Contains(affiliateURL, e.ProductID) {
			return e.Price
		}
	}
	return DefaultPrice
}
