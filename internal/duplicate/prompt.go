package duplicate

import (
	"fmt"
	"strings"
)

const analysisPromptHeader = `You are checking whether a newly uploaded receipt photo shows the same purchase as a receipt that was already submitted.

The attached image is the NEW receipt. Below are previously submitted receipts that look similar based on amount, date and merchant.

Decide whether the new receipt is the same purchase as one of them. The same purchase may have been photographed at a different angle, with different lighting, cropping or image quality, or may be a scan of the same paper receipt. Different purchases at the same merchant on the same day with the same total are NOT duplicates unless the receipt details (time, transaction number, line items) agree.

Previously submitted receipts:
`

const analysisPromptFooter = `
Return ONLY valid JSON in this exact format:
{
  "isDuplicate": true,
  "confidence": 0.0,
  "matchedReceiptId": "id of the matching receipt or null",
  "reasoning": "one or two sentences"
}

Important:
- confidence is a number between 0.0 and 1.0
- matchedReceiptId must be one of the ids listed above, or null
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildAnalysisPrompt describes each suspect compactly for the provider.
func buildAnalysisPrompt(suspects []Suspect) string {
	var b strings.Builder
	b.WriteString(analysisPromptHeader)
	for i, s := range suspects {
		fmt.Fprintf(&b, "\n%d. id: %s\n", i+1, s.Record.ID)
		fmt.Fprintf(&b, "   merchant: %s\n", orUnknown(s.Record.Merchant))
		fmt.Fprintf(&b, "   amount: %s\n", s.Record.Amount.StringFixed(2))
		fmt.Fprintf(&b, "   date: %s\n", orUnknown(s.Record.Date))
		fmt.Fprintf(&b, "   items: %s\n", orUnknown(itemNames(s.Record.Items)))
		fmt.Fprintf(&b, "   matched on: %s (confidence %d)\n", strings.Join(s.Match.Reasons, ", "), s.Match.Confidence)
	}
	b.WriteString(analysisPromptFooter)
	return b.String()
}

func itemNames(items []Item) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name := strings.TrimSpace(item.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
