package bayut

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/models"
)

// cardJSONLD mirrors the schema.org descriptor embedded in every listing
// card. Only the fields the pipeline consumes are declared.
type cardJSONLD struct {
	Type string `json:"@type"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Geo  struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"geo"`
	FloorSize struct {
		Value string `json:"value"`
	} `json:"floorSize"`
	NumberOfRooms struct {
		Value json.Number `json:"value"`
	} `json:"numberOfRooms"`
	NumberOfBathroomsTotal json.Number `json:"numberOfBathroomsTotal"`
	Image                  string      `json:"image"`
	Address                struct {
		AddressCountry  string `json:"addressCountry"`
		AddressLocality string `json:"addressLocality"`
		AddressRegion   string `json:"addressRegion"`
	} `json:"address"`
}

// detailJSONLD mirrors the schema.org descriptor on a detail page. The
// product entity carries the offer (price, currency, agent) and the listing
// description.
type detailJSONLD struct {
	MainEntity struct {
		Type        string `json:"@type"`
		Description string `json:"description"`
		Offers      []struct {
			PriceCurrency      string `json:"priceCurrency"`
			PriceSpecification struct {
				Price json.Number `json:"price"`
			} `json:"priceSpecification"`
			OfferedBy struct {
				Name               string `json:"name"`
				Image              string `json:"image"`
				ParentOrganization struct {
					Name string `json:"name"`
					URL  string `json:"url"`
				} `json:"parentOrganization"`
			} `json:"offeredBy"`
		} `json:"offers"`
	} `json:"mainEntity"`
}

func (d detailJSONLD) isProduct() bool {
	return d.MainEntity.Type == "Product" && len(d.MainEntity.Offers) > 0
}

// ExternalIDFromURL derives the stable external id from a listing URL slug:
// the final dash-separated segment minus the ".html" suffix. The id is
// deterministic for a given URL, which makes it usable as the upsert key.
func ExternalIDFromURL(url string) string {
	trimmed := strings.TrimSuffix(url, ".html")
	idx := strings.LastIndex(trimmed, "-")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}
	return trimmed[idx+1:]
}

// parseCardJSONLD builds a ListingSummary from a card's embedded JSON-LD
// block. This is the reliable discovery path; DOM scraping is only a
// fallback when the block is absent or malformed.
func parseCardJSONLD(raw string, listedAt time.Time, now time.Time) (models.ListingSummary, error) {
	var card cardJSONLD
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return models.ListingSummary{}, common.ErrMalformedStructuredData
	}

	externalID := ExternalIDFromURL(card.URL)
	if externalID == "" {
		return models.ListingSummary{}, common.ErrMalformedStructuredData
	}

	s := models.ListingSummary{
		ExternalID:   externalID,
		Title:        card.Name,
		PropertyType: card.Type,
		Latitude:     card.Geo.Latitude,
		Longitude:    card.Geo.Longitude,
		AreaSqft:     strings.ReplaceAll(card.FloorSize.Value, ",", ""),
		Beds:         card.NumberOfRooms.Value.String(),
		Baths:        card.NumberOfBathroomsTotal.String(),
		ImageURL:     card.Image,
		Country:      card.Address.AddressCountry,
		Locality:     card.Address.AddressLocality,
		Region:       card.Address.AddressRegion,
		DetailURL:    card.URL,
		ListedAt:     listedAt,
		DiscoveredAt: now,
	}

	return s, nil
}
