package submission

import (
	"fmt"
	"math"
	"strings"

	"github.com/dmitrijs2005/promptseal/internal/common"
)

const (
	CategoryText  = "text"
	CategoryImage = "image"
)

// Form is what a seller fills in. SystemPrompt is the secret part and is
// never stored unencrypted; prices are in the display currency.
type Form struct {
	Title           string   `json:"title" yaml:"title"`
	Description     string   `json:"description" yaml:"description"`
	LongDescription string   `json:"longDescription" yaml:"long_description"`
	Category        string   `json:"category" yaml:"category"`
	Subcategory     string   `json:"subcategory" yaml:"subcategory"`
	Model           string   `json:"model" yaml:"model"`
	SystemPrompt    string   `json:"systemPrompt" yaml:"system_prompt"`
	UserPrompt      string   `json:"userPrompt" yaml:"user_prompt"`
	SampleInputs    []string `json:"sampleInputs" yaml:"sample_inputs"`
	SampleOutputs   []string `json:"sampleOutputs" yaml:"sample_outputs"`
	SampleImages    []string `json:"sampleImages" yaml:"sample_images"`
	Price           float64  `json:"price" yaml:"price"`
	TestPrice       float64  `json:"testPrice" yaml:"test_price"`
}

// Validate checks the whole form and reports every failing field at once.
// A maxTestPriceRatio <= 0 disables the ratio rule.
func (f *Form) Validate(exchangeRate, maxTestPriceRatio float64) error {
	v := &common.ValidationError{}

	required := []struct {
		name  string
		value string
	}{
		{"title", f.Title},
		{"description", f.Description},
		{"category", f.Category},
		{"model", f.Model},
		{"systemPrompt", f.SystemPrompt},
		{"userPrompt", f.UserPrompt},
	}
	for _, r := range required {
		if blank(r.value) {
			v.Add(r.name, "required")
		}
	}

	if countNonBlank(f.SampleInputs) == 0 {
		v.Add("sampleInputs", "at least one sample input is required")
	}
	switch strings.ToLower(strings.TrimSpace(f.Category)) {
	case CategoryImage:
		if countNonBlank(f.SampleImages) == 0 {
			v.Add("sampleImages", "image prompts need at least one sample image")
		}
	case CategoryText:
		if countNonBlank(f.SampleOutputs) == 0 {
			v.Add("sampleOutputs", "text prompts need at least one sample output")
		}
	}

	priceOK := checkAmount(v, "price", f.Price)
	testOK := checkAmount(v, "testPrice", f.TestPrice)
	if priceOK && testOK {
		switch {
		case f.TestPrice > f.Price:
			v.Add("testPrice", "must not exceed price")
		case maxTestPriceRatio > 0 && f.TestPrice > maxTestPriceRatio*f.Price:
			v.Add("testPrice", fmt.Sprintf("must not exceed %g of price", maxTestPriceRatio))
		}
	}

	if math.IsNaN(exchangeRate) || math.IsInf(exchangeRate, 0) || exchangeRate <= 0 {
		v.Add("exchangeRate", "must be a positive number")
	}

	return v.OrNil()
}

func checkAmount(v *common.ValidationError, field string, x float64) bool {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		v.Add(field, "must be a finite number")
		return false
	}
	if x < 0 {
		v.Add(field, "must not be negative")
		return false
	}
	return true
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func countNonBlank(xs []string) int {
	n := 0
	for _, s := range xs {
		if !blank(s) {
			n++
		}
	}
	return n
}
