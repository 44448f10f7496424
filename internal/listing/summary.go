// Package listing reads marketplace listings: it walks the ledger table of
// records, fetches each metadata blob and yields display summaries.
package listing

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/promptseal/internal/ledger"
)

// Metadata is the public JSON document stored for every listing.
// SystemPrompt holds the blob id of the encrypted prompt, never plaintext.
type Metadata struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	SystemPrompt    string   `json:"systemPrompt"`
	UserPrompt      string   `json:"userPrompt"`
	LongDescription string   `json:"longDescription"`
	Category        string   `json:"category"`
	Subcategory     string   `json:"subcategory"`
	Model           string   `json:"model"`
	SampleInputs    []string `json:"sampleInputs"`
	SampleOutputs   []string `json:"sampleOutputs"`
	SampleImages    []string `json:"sampleImages"`
	Price           float64  `json:"price"`
	TestPrice       float64  `json:"testPrice"`
}

// ParseMetadata decodes a metadata blob.
func ParseMetadata(b []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if m.Title == "" {
		return nil, fmt.Errorf("metadata: missing title")
	}
	return &m, nil
}

// Summary is a listing ready for display. Prices come from the ledger, not
// from the metadata blob.
type Summary struct {
	ListingID       string   `json:"listingId"`
	Seller          string   `json:"seller,omitempty"`
	MetadataBlobID  string   `json:"metadataBlobId"`
	EncryptedBlobID string   `json:"encryptedBlobId"`
	Price           float64  `json:"price"`
	TestPrice       float64  `json:"testPrice"`
	PriceBase       uint64   `json:"priceBase"`
	TestPriceBase   uint64   `json:"testPriceBase"`
	Metadata        Metadata `json:"metadata"`
}

func newSummary(rec *Record, meta *Metadata, rate float64) Summary {
	m := *meta
	m.Price = ledger.FromBaseUnits(rec.Price, rate)
	m.TestPrice = ledger.FromBaseUnits(rec.TestPrice, rate)

	return Summary{
		ListingID:       rec.ListingID,
		Seller:          rec.Seller,
		MetadataBlobID:  rec.MetadataBlobID,
		EncryptedBlobID: rec.EncryptedBlobID,
		Price:           m.Price,
		TestPrice:       m.TestPrice,
		PriceBase:       rec.Price,
		TestPriceBase:   rec.TestPrice,
		Metadata:        m,
	}
}
