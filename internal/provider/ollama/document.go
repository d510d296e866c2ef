package ollama

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/sydlexius/intake/internal/hint"
)

// Defaults applied when the model's answer lacks a field or cannot be parsed.
const (
	DefaultDocumentType = "unknown"
	DefaultConfidence   = 0.3
)

// ErrNoJSONObject is returned when a model response contains no {...} span.
var ErrNoJSONObject = errors.New("no JSON object in response")

const documentPrompt = `Analyze this vehicle document image. Extract any of the following information if visible:

- Document type (title, registration, invoice, receipt, photo, other)
- VIN (Vehicle Identification Number - 17 characters)
- Year
- Make (manufacturer)
- Model
- Owner name
- Mileage
- Price or sale amount
- Date on document

Return ONLY valid JSON in this exact format:
{
  "document_type": "title",
  "confidence": 0.95,
  "vin": "1G1YY22G965109876",
  "year": 2006,
  "make": "Chevrolet",
  "model": "Corvette",
  "owner_name": "John Smith",
  "mileage": 45000,
  "price": 35000.00,
  "date": "2024-01-15"
}

Use null for any fields not found. Be conservative with confidence - only use high values if text is clearly readable.`

const analyzePrompt = "Analyze this image. If it shows a vehicle, identify the year, make, model, and any visible modifications. " +
	"If it's a document (receipt, title, etc.), extract relevant vehicle information. " +
	"Return JSON with fields: is_vehicle, year, make, model, vin, modifications, document_type, extracted_text."

// ExtractedData holds the fields read off a document. Nil means not found.
type ExtractedData struct {
	VIN       *string  `json:"vin"`
	Year      *int     `json:"year"`
	Make      *string  `json:"make"`
	Model     *string  `json:"model"`
	OwnerName *string  `json:"owner_name"`
	Mileage   *int     `json:"mileage"`
	Price     *float64 `json:"price"`
	Date      *string  `json:"date"`
}

// DocumentExtraction is the outcome of asking the vision model to read a
// vehicle document. Parsed is false when no usable JSON object was found in
// the answer; the defaults then apply and every field is nil.
type DocumentExtraction struct {
	Path         string        `json:"path"`
	DocumentType string        `json:"document_type"`
	Confidence   float64       `json:"confidence"`
	Extracted    ExtractedData `json:"extracted"`
	RawResponse  string        `json:"raw_response"`
	Parsed       bool          `json:"parsed"`
}

// Hint converts the extraction into a VehicleHint, or nil when it carries no
// vehicle fields.
func (d *DocumentExtraction) Hint() *hint.VehicleHint {
	h := hint.VehicleHint{
		Make:       deref(d.Extracted.Make),
		Model:      deref(d.Extracted.Model),
		VIN:        strings.ToUpper(deref(d.Extracted.VIN)),
		Confidence: d.Confidence,
		Source:     hint.SourceVision,
	}
	if d.Extracted.Year != nil {
		h.Year = strconv.Itoa(*d.Extracted.Year)
	}
	if h.Year == "" && h.Make == "" && h.Model == "" && h.VIN == "" {
		return nil
	}
	return &h
}

// documentFields mirrors the JSON the prompt asks for. Numbers are accepted
// either as JSON numbers or as numeric strings since models mix the two.
type documentFields struct {
	DocumentType *string     `json:"document_type"`
	Confidence   *looseFloat `json:"confidence"`
	VIN          *string     `json:"vin"`
	Year         *looseFloat `json:"year"`
	Make         *string     `json:"make"`
	Model        *string     `json:"model"`
	OwnerName    *string     `json:"owner_name"`
	Mileage      *looseFloat `json:"mileage"`
	Price        *looseFloat `json:"price"`
	Date         *string     `json:"date"`
}

// ParseDocument turns a free-form model answer into a DocumentExtraction.
// It never fails: unparseable answers yield Parsed=false with defaults.
func ParseDocument(path, raw string) DocumentExtraction {
	out := DocumentExtraction{
		Path:         path,
		DocumentType: DefaultDocumentType,
		Confidence:   DefaultConfidence,
		RawResponse:  raw,
	}

	obj, err := extractObject(raw)
	if err != nil {
		return out
	}
	var f documentFields
	if err := json.Unmarshal([]byte(obj), &f); err != nil {
		return out
	}

	out.Parsed = true
	if s := nonEmpty(f.DocumentType); s != nil {
		out.DocumentType = *s
	}
	if f.Confidence != nil {
		out.Confidence = float64(*f.Confidence)
	}
	out.Extracted = ExtractedData{
		VIN:       nonEmpty(f.VIN),
		Year:      f.Year.intPtr(),
		Make:      nonEmpty(f.Make),
		Model:     nonEmpty(f.Model),
		OwnerName: nonEmpty(f.OwnerName),
		Mileage:   f.Mileage.intPtr(),
		Price:     f.Price.floatPtr(),
		Date:      nonEmpty(f.Date),
	}
	return out
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return raw[start : end+1], nil
}

type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(s))
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = looseFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

func (f *looseFloat) intPtr() *int {
	if f == nil {
		return nil
	}
	v := int(math.Round(float64(*f)))
	return &v
}

func (f *looseFloat) floatPtr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" || strings.EqualFold(t, "null") {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
