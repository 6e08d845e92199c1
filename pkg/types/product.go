// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the catalog-enricher pipeline:
// product records as read from and written back to the collector's JSON files,
// the internal and external taxonomy model, weight estimates, AI classification
// results, and per-stage configuration.
//
// Product and Variant carry only the fields the pipeline reads or writes. The
// record as read is kept in Raw; on write, every field the pipeline does not
// own is copied back from Raw byte for byte, empty values included.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Product is one catalog record.
type Product struct {
	ID          string `json:"id,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Title       string `json:"title,omitempty"`
	ProductType string `json:"product_type,omitempty"`

	// DescriptionHTML is the current description. Older exports carry it as
	// body_html instead; see Description.
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	BodyHTML        string `json:"body_html,omitempty"`

	Tags       []string    `json:"tags,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Variants   []Variant   `json:"variants,omitempty"`

	// Written by the enrichment pipeline.
	Taxonomy                   *Taxonomy         `json:"taxonomy,omitempty"`
	ExternalCategoryID         *string           `json:"external_category_id,omitempty"`
	ExternalCategory           string            `json:"external_category,omitempty"`
	ExternalCategoryConfidence Confidence        `json:"external_category_confidence,omitempty"`
	WeightData                 *WeightEstimate   `json:"weight_data,omitempty"`
	PurchaseOptions            []PurchaseOption  `json:"purchase_options,omitempty"`
	PurchaseConsideration      string            `json:"purchase_consideration,omitempty"`
	NeedsReview                bool              `json:"needs_review,omitempty"`
	ReviewReasons              []string          `json:"review_reasons,omitempty"`
	Enrichment                 *EnrichmentStatus `json:"enrichment,omitempty"`

	// Raw is the record as read, keyed by JSON name.
	Raw map[string]json.RawMessage `json:"-"`
}

// Variant is one purchasable variant of a product.
type Variant struct {
	SKU    string   `json:"sku,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Grams  *int     `json:"grams,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// Dimensions are the physical dimensions of a product in inches.
type Dimensions struct {
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Volume returns the volume in cubic inches, or 0 when any side is missing.
func (d *Dimensions) Volume() float64 {
	if d == nil || d.Length <= 0 || d.Width <= 0 || d.Height <= 0 {
		return 0
	}
	return d.Length * d.Width * d.Height
}

// Taxonomy is the internal three-level category assignment.
type Taxonomy struct {
	Department  string `json:"department"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// Path returns the assignment as a CategoryPath.
func (t *Taxonomy) Path() CategoryPath {
	if t == nil {
		return CategoryPath{}
	}
	return CategoryPath{Department: t.Department, Category: t.Category, Subcategory: t.Subcategory}
}

// PurchaseOption is one of the fulfilment options a product supports.
type PurchaseOption int

const (
	OptionDelivery           PurchaseOption = 1
	OptionStorePickup        PurchaseOption = 2
	OptionLocalDelivery      PurchaseOption = 3
	OptionWhiteGlove         PurchaseOption = 4
	OptionCustomerPickupOnly PurchaseOption = 5
)

// Valid reports whether o is a known option.
func (o PurchaseOption) Valid() bool {
	return o >= OptionDelivery && o <= OptionCustomerPickupOnly
}

func (o PurchaseOption) String() string {
	switch o {
	case OptionDelivery:
		return "Delivery"
	case OptionStorePickup:
		return "Store Pickup"
	case OptionLocalDelivery:
		return "Local Delivery"
	case OptionWhiteGlove:
		return "White Glove Delivery"
	case OptionCustomerPickupOnly:
		return "Customer Pickup Only"
	}
	return fmt.Sprintf("PurchaseOption(%d)", int(o))
}

// ProcessingState is the per-product state of an enrichment run.
type ProcessingState string

const (
	StatePending         ProcessingState = "pending"
	StateInProgress      ProcessingState = "in_progress"
	StateDone            ProcessingState = "done"
	StateFailedRetryable ProcessingState = "failed_retryable"
	StateFailedFatal     ProcessingState = "failed_fatal"
	StateSkipped         ProcessingState = "skipped"
)

// EnrichmentStatus is the processing-state marker written onto each enriched record.
type EnrichmentStatus struct {
	State     ProcessingState `json:"state"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Description returns the product description, preferring descriptionHtml
// over the legacy body_html field.
func (p *Product) Description() string {
	if p.DescriptionHTML != "" {
		return p.DescriptionHTML
	}
	return p.BodyHTML
}

// Key identifies the product in logs and reports.
func (p *Product) Key() string {
	switch {
	case p.Handle != "":
		return p.Handle
	case p.ID != "":
		return p.ID
	}
	return p.Title
}

// ExistingWeight returns the first positive variant weight in pounds.
func (p *Product) ExistingWeight() (float64, bool) {
	for _, v := range p.Variants {
		if v.Weight != nil && *v.Weight > 0 {
			return *v.Weight, true
		}
	}
	return 0, false
}

// HasOption reports whether the product supports purchase option o.
func (p *Product) HasOption(o PurchaseOption) bool {
	for _, have := range p.PurchaseOptions {
		if have == o {
			return true
		}
	}
	return false
}

// FlagForReview marks the product for manual review with a reason.
// Duplicate reasons are recorded once.
func (p *Product) FlagForReview(reason string) {
	p.NeedsReview = true
	for _, r := range p.ReviewReasons {
		if r == reason {
			return
		}
	}
	p.ReviewReasons = append(p.ReviewReasons, reason)
}

// Clone returns a deep copy of p.
func (p *Product) Clone() Product {
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("cloning product %s: %v", p.Key(), err))
	}
	var out Product
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("cloning product %s: %v", p.Key(), err))
	}
	return out
}

type productAlias Product

var productFields = jsonFields(reflect.TypeOf(productAlias{}))

// productOwned are the product fields the pipeline writes.
var productOwned = map[string]bool{
	"descriptionHtml":              true,
	"variants":                     true,
	"taxonomy":                     true,
	"external_category_id":         true,
	"external_category":            true,
	"external_category_confidence": true,
	"weight_data":                  true,
	"purchase_options":             true,
	"purchase_consideration":       true,
	"needs_review":                 true,
	"review_reasons":               true,
	"enrichment":                   true,
}

// MarshalJSON writes the record as read with the pipeline's fields laid over it.
func (p Product) MarshalJSON() ([]byte, error) {
	return marshalRecord(productAlias(p), p.Raw, productFields, productOwned)
}

// UnmarshalJSON reads the known fields and keeps the whole record in Raw.
func (p *Product) UnmarshalJSON(data []byte) error {
	var a productAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &a.Raw); err != nil {
		return err
	}
	*p = Product(a)
	return nil
}

type variantAlias Variant

var variantFields = jsonFields(reflect.TypeOf(variantAlias{}))

var variantOwned = map[string]bool{"weight": true, "grams": true}

func (v Variant) MarshalJSON() ([]byte, error) {
	return marshalRecord(variantAlias(v), v.Raw, variantFields, variantOwned)
}

func (v *Variant) UnmarshalJSON(data []byte) error {
	var a variantAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &a.Raw); err != nil {
		return err
	}
	*v = Variant(a)
	return nil
}

// marshalRecord encodes the struct v over raw. Fields not in owned keep their
// raw bytes when raw has them. Owned fields always come from v; an owned field
// that v leaves empty but raw had is written as its zero value.
func marshalRecord(v any, raw map[string]json.RawMessage, fields map[string]int, owned map[string]bool) ([]byte, error) {
	known, err := marshalRaw(v)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return known, nil
	}
	var set map[string]json.RawMessage
	if err := json.Unmarshal(known, &set); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(raw)+len(set))
	for k, b := range raw {
		merged[k] = b
	}
	for k, b := range set {
		if _, had := raw[k]; had && !owned[k] {
			continue
		}
		merged[k] = b
	}

	rv := reflect.ValueOf(v)
	for k := range owned {
		_, had := raw[k]
		_, wrote := set[k]
		if !had || wrote {
			continue
		}
		zero, err := zeroJSON(rv.Field(fields[k]))
		if err != nil {
			return nil, err
		}
		merged[k] = zero
	}
	return marshalRaw(merged)
}

// zeroJSON encodes an empty field, rendering nil slices as [].
func zeroJSON(f reflect.Value) (json.RawMessage, error) {
	if f.Kind() == reflect.Slice && f.Len() == 0 {
		return json.RawMessage("[]"), nil
	}
	return marshalRaw(f.Interface())
}

// marshalRaw is json.Marshal without HTML escaping; descriptions are HTML.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// jsonFields maps the JSON names of the struct fields of t to their indexes.
func jsonFields(t reflect.Type) map[string]int {
	fields := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = i
	}
	return fields
}
