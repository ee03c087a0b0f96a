package scanning

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a photo or scan of a receipt that an employee is submitting for an expense claim. Carefully read all text in the image and extract the following information:

1. **Merchant**: The store, restaurant or business name, usually the largest text at the top. Copy it as printed, including branch names (e.g. "Starbucks KLCC", "Kopi Kenangan Mid Valley").

2. **Date**: The transaction date. Convert it to ISO 8601 format (YYYY-MM-DD). Receipts may use DD/MM/YYYY, MM/DD/YYYY or written dates; use the merchant's locale to disambiguate.

3. **Total Amount**: The final total actually paid, usually labeled "TOTAL", "Amount Due" or "Grand Total". Extract only the numeric value (e.g. 42.75 for RM42.75).

4. **Items**: Each purchased line item with its name, quantity and line price.

Return ONLY valid JSON in this exact format:
{
  "title": "Merchant - brief description of the purchase",
  "merchant": "Merchant name",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "items": [{"name": "Item name", "quantity": 1, "price": 0.00}]
}

Important:
- The date must be in YYYY-MM-DD format
- Numbers must be JSON numbers, not strings
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
