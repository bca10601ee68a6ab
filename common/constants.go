package common

const (
	// AppName is the name of the application
	AppName = "property-crawler"
)

// SourceType represents the type of listing source
type SourceType string

const (
	// BayutDubai represents the Bayut Dubai for-sale listing source
	BayutDubai SourceType = "bayut-dubai"
)
