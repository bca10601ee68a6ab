package bayut

import (
	"context"
	"encoding/json"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/crawler"
)

// Stage extracts one logical group of fields from a detail page. Stages are
// independent: a failing stage contributes nothing and the affected fields
// keep their sentinel defaults, later stages still run. Each stage tries its
// strategies in priority order, structured data before labeled attributes
// before free-text heuristics, so a markup change degrades instead of
// breaking extraction outright.
type Stage interface {
	Name() string
	Extract(ctx context.Context, page crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error
}

// defaultStages returns the extraction pipeline in its fixed order.
func defaultStages() []Stage {
	return []Stage{
		headlineStage{},
		attributesStage{},
		contactStage{},
		agencyStage{},
		descriptionStage{},
		featuresStage{},
	}
}

// pageStructuredData pulls the detail page's JSON-LD product entity, if any.
func pageStructuredData(doc *goquery.Document) (detailJSONLD, bool) {
	var found detailJSONLD
	var ok bool

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var d detailJSONLD
		if err := json.Unmarshal([]byte(s.Text()), &d); err != nil {
			return true
		}
		if d.isProduct() {
			found = d
			ok = true
			return false
		}
		return true
	})

	return found, ok
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// headlineStage fills title, price and currency.
type headlineStage struct{}

func (headlineStage) Name() string { return "headline" }

func (headlineStage) Extract(ctx context.Context, _ crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	if title := firstText(doc, `h1[aria-label="Title"]`, `div[role="main"] h1`, "h1"); title != "" {
		rec.Title = title
	}

	if sd, ok := pageStructuredData(doc); ok {
		offer := sd.MainEntity.Offers[0]
		if p := offer.PriceSpecification.Price.String(); p != "" {
			rec.Price = p
		}
		if offer.PriceCurrency != "" {
			rec.Currency = offer.PriceCurrency
		}
	}
	if rec.Price == "" {
		rec.Price = firstText(doc, `span[aria-label="Price"]`)
	}

	if rec.Title == "" && rec.Price == "" {
		return common.ErrStructuralMiss
	}
	return nil
}

// attributesStage reads the labeled attribute list the page renders under
// "Property details". Labels map one-to-one onto record fields.
type attributesStage struct{}

func (attributesStage) Name() string { return "attributes" }

func (attributesStage) Extract(ctx context.Context, _ crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	// Ordered so that when two labels feed the same field ("Property
	// reference" and "Reference no."), the earlier one wins every run.
	fields := []struct {
		label string
		dst   *string
	}{
		{"Type", &rec.PropertyType},
		{"Purpose", &rec.Purpose},
		{"Completion status", &rec.CompletionStatus},
		{"Furnishing", &rec.FurnishingStatus},
		{"Property reference", &rec.Reference},
		{"Reference no.", &rec.Reference},
		{"Permit Number", &rec.PermitNumber},
		{"BRN number", &rec.BRNNumber},
		{"Currency", &rec.Currency},
		{"Beds", &rec.Beds},
		{"Baths", &rec.Baths},
		{"Area", &rec.AreaSqft},
	}

	found := 0
	for _, f := range fields {
		label, dst := f.label, f.dst
		value := strings.TrimSpace(doc.Find(`*[aria-label="` + label + `"]`).First().Text())
		if value == "" {
			continue
		}
		if *dst == "" || models.IsSentinel(*dst) {
			*dst = value
		}
		found++
	}

	if found == 0 {
		return common.ErrStructuralMiss
	}
	return nil
}

// contactStage reads the contact dialog if it is rendered in the document.
type contactStage struct{}

func (contactStage) Name() string { return "contact" }

func (contactStage) Extract(ctx context.Context, _ crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	dialog := doc.Find(`div[aria-label="Dialog"]`)
	if dialog.Length() == 0 {
		return common.ErrStructuralMiss
	}

	if number := strings.TrimSpace(dialog.Find(`span[dir="ltr"]`).First().Text()); number != "" {
		rec.Agent.Contact = number
		return nil
	}
	return common.ErrStructuralMiss
}

// agencyStage fills the agent/agency block: structured data first, the
// rendered agency section as fallback.
type agencyStage struct{}

func (agencyStage) Name() string { return "agency" }

func (agencyStage) Extract(ctx context.Context, _ crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	if sd, ok := pageStructuredData(doc); ok {
		offeredBy := sd.MainEntity.Offers[0].OfferedBy
		if offeredBy.Name != "" {
			rec.Agent.AgentName = offeredBy.Name
			rec.Agent.Organization = offeredBy.ParentOrganization.Name
			rec.Agent.AgencyURL = offeredBy.ParentOrganization.URL
			if rec.Agent.AgencyName == "" {
				rec.Agent.AgencyName = offeredBy.ParentOrganization.Name
			}
			return nil
		}
	}

	section := doc.Find(`div[aria-label="Agency info"]`)
	if section.Length() == 0 {
		return common.ErrStructuralMiss
	}

	rec.Agent.AgentName = strings.TrimSpace(section.Find("h2").First().Text())
	rec.Agent.AgencyName = strings.TrimSpace(section.Find(`h3[aria-label="Agency name"]`).First().Text())
	rec.Agent.AgentRating = strings.TrimSpace(section.Find("span").First().Text())
	if href, ok := section.Find(`a[aria-label="View all properties"]`).Attr("href"); ok {
		rec.Agent.AgencyURL = href
	}

	if rec.Agent.AgentName == "" && rec.Agent.AgencyName == "" {
		return common.ErrStructuralMiss
	}
	return nil
}

// descriptionStage converts the property description block to markdown so
// stored text keeps its list structure without carrying markup.
type descriptionStage struct{}

func (descriptionStage) Name() string { return "description" }

func (descriptionStage) Extract(ctx context.Context, _ crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	section := doc.Find(`div[aria-label="Property description"]`).First()
	if section.Length() == 0 {
		if sd, ok := pageStructuredData(doc); ok && sd.MainEntity.Description != "" {
			rec.Description = sd.MainEntity.Description
			return nil
		}
		return common.ErrStructuralMiss
	}

	html, err := section.Html()
	if err != nil {
		return common.ErrStructuralMiss
	}

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(html)
	if err != nil || strings.TrimSpace(text) == "" {
		// Fall back to the visible text.
		text = section.Text()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return common.ErrStructuralMiss
	}
	rec.Description = text
	return nil
}

// featuresStage collects amenities grouped by category. Three tiers, each
// attempted only when the previous yielded nothing:
//  1. amenities already visible on the page
//  2. the expanded "More amenities" dialog
//  3. a features section split out of the free-text description
type featuresStage struct{}

func (featuresStage) Name() string { return "features" }

func (featuresStage) Extract(ctx context.Context, page crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) error {
	features := visibleAmenities(doc)

	if len(features) == 0 && page != nil {
		features = expandedAmenities(ctx, page)
	}

	if len(features) == 0 {
		features = amenitiesFromDescription(rec.Description)
	}

	if len(features) == 0 {
		return common.ErrStructuralMiss
	}
	rec.Features = features
	return nil
}

func visibleAmenities(doc *goquery.Document) map[string][]string {
	var labels []string
	doc.Find(`div[aria-label="Amenities"] span`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			labels = append(labels, text)
		}
	})

	if len(labels) == 0 {
		return nil
	}
	return map[string][]string{"General": labels}
}

// expandedAmenities opens the amenities dialog and reads its category
// groups. A failed interaction yields nothing and tier 3 takes over.
func expandedAmenities(ctx context.Context, page crawler.Page) map[string][]string {
	if err := page.Click(ctx, `div[aria-label="More amenities"]`); err != nil {
		return nil
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	features := make(map[string][]string)
	doc.Find(`div[aria-label="Amenity category"]`).Each(func(_ int, category *goquery.Selection) {
		name := strings.TrimSpace(category.Find(`div[aria-label="Category name"]`).First().Text())
		if name == "" {
			return
		}
		var labels []string
		category.Find("span").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				labels = append(labels, text)
			}
		})
		if len(labels) > 0 {
			features[name] = labels
		}
	})

	// Close the dialog so later stages read the base document state.
	_ = page.Click(ctx, `button[aria-label="Close button"]`)

	if len(features) == 0 {
		return nil
	}
	return features
}

// amenitiesFromDescription heuristically splits a features section out of
// the free-text description. Last resort.
func amenitiesFromDescription(description string) map[string][]string {
	if models.IsSentinel(description) {
		return nil
	}

	_, rest, found := strings.Cut(description, "Features & Amenities:")
	if !found {
		return nil
	}

	var labels []string
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "➤-• "))
		if line != "" {
			labels = append(labels, line)
		}
	}

	if len(labels) == 0 {
		return nil
	}
	return map[string][]string{"From Description": labels}
}
