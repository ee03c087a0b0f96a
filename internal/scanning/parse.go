package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zombor/shoebox/internal/duplicate"
)

const unknownTitle = "Unknown Expense"

// amountPattern finds the first number in text such as "RM. 42.75".
var amountPattern = regexp.MustCompile(`-?(?:\d+(?:\.\d+)?|\.\d+)`)

// flexAmount accepts a JSON number or a string such as "RM 42.75" or "1,204.00".
type flexAmount float64

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexAmount(v)
		return nil
	}
	s = amountPattern.FindString(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", string(data), err)
	}
	*f = flexAmount(v)
	return nil
}

type extractedItem struct {
	Name     string     `json:"name"`
	Quantity flexAmount `json:"quantity"`
	Price    flexAmount `json:"price"`
}

type extractedReceipt struct {
	Title    string          `json:"title"`
	Merchant string          `json:"merchant"`
	Date     string          `json:"date"`
	Amount   flexAmount      `json:"amount"`
	Items    []extractedItem `json:"items"`
}

// extractJSONObject strips markdown fences and returns the text between the
// first '{' and the last '}'.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// parseReceiptJSON parses the extraction reply from a vision model
func parseReceiptJSON(text string) (*ReceiptData, error) {
	object, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw extractedReceipt
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{
		Title:    strings.TrimSpace(raw.Title),
		Merchant: strings.TrimSpace(raw.Merchant),
		Amount:   float64(raw.Amount),
	}

	// An unreadable date stays empty so it can never produce a false date match.
	if date, ok := duplicate.CanonicalDate(raw.Date); ok {
		data.Date = date
	}

	if data.Merchant == "" && data.Title != "" {
		merchant, _, _ := strings.Cut(data.Title, " - ")
		data.Merchant = strings.TrimSpace(merchant)
	}
	if data.Title == "" {
		data.Title = data.Merchant
	}
	if data.Title == "" {
		data.Title = unknownTitle
	}

	for _, item := range raw.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		data.Items = append(data.Items, LineItem{
			Name:     name,
			Quantity: float64(item.Quantity),
			Price:    float64(item.Price),
		})
	}

	return data, nil
}
