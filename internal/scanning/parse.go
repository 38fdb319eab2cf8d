package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrExtractionParse is returned when the model response is not valid receipt JSON
var ErrExtractionParse = errors.New("extraction response is not valid JSON")

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `Analyze the receipt and return a JSON array in this exact format:
[ { "date": "YYYY-MM-DD", "vendor_name": "...", "total_amount": 0 } ]

Rules:
- Return one object per receipt found in the image.
- If the year is written with two digits (25, 26, ...), read it as 2025, 2026, ... Never use era-based calendars.
- total_amount must be a number, not a string.
- Do not include any text before or after the JSON.`

// StripCodeFences removes every markdown code fence marker from a model response
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ParseReceipts parses a model response into receipts. A single object is
// returned as a one-element slice, and an object wrapping one array of
// receipts is unwrapped.
func ParseReceipts(text string) ([]ReceiptData, error) {
	text = StripCodeFences(text)

	if strings.HasPrefix(text, "{") {
		return parseObject([]byte(text))
	}

	var list []ReceiptData
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}
	if list == nil {
		list = []ReceiptData{}
	}
	return list, nil
}

var receiptFields = []string{"date", "vendor_name", "total_amount"}

func parseObject(data []byte) ([]ReceiptData, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}

	for _, name := range receiptFields {
		if _, ok := fields[name]; ok {
			var single ReceiptData
			if err := json.Unmarshal(data, &single); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
			}
			return []ReceiptData{single}, nil
		}
	}

	// JSON mode models often answer {"receipts": [...]}
	var list []ReceiptData
	found := ""
	for name, raw := range fields {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			continue
		}
		if found != "" {
			return nil, fmt.Errorf("%w: ambiguous arrays %q and %q", ErrExtractionParse, found, name)
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
		}
		found = name
	}
	if found == "" {
		return nil, fmt.Errorf("%w: object has no receipt fields", ErrExtractionParse)
	}
	if list == nil {
		list = []ReceiptData{}
	}
	return list, nil
}
