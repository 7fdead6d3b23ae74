package processor

import (
	"strconv"
	"strings"
)

var numericFields = map[string]bool{
	"price": true, "regular_price": true, "sale_price": true,
	"quantity": true, "stock_quantity": true,
	"weight": true, "length": true, "width": true, "height": true,
}

var enumFields = map[string][]string{
	"status":       {"publish", "draft", "pending", "private"},
	"stock_status": {"instock", "outofstock", "onbackorder"},
	"tax_status":   {"taxable", "shipping", "none"},
}

// Sanitize applies the field-kind-specific cleanup after transformation:
// numeric coercion for price/quantity/dimension fields, allowed-value
// clamping for enum fields, URL filtering for image lists, and SKU
// character whitelisting. Unknown fields pass through.
func Sanitize(field string, value any) any {
	if value == nil {
		return nil
	}
	switch {
	case numericFields[field]:
		return sanitizeNumeric(value)
	case field == "images" || field == "image":
		return sanitizeImages(value)
	case field == "sku" || field == "parent_sku":
		return sanitizeSKU(stringify(value))
	default:
		if allowed, ok := enumFields[field]; ok {
			return clampEnum(stringify(value), allowed)
		}
		return value
	}
}

// sanitizeNumeric strips everything but digits, sign, and separators, then
// normalizes a decimal comma. Unparseable input becomes the empty string.
func sanitizeNumeric(value any) any {
	switch v := value.(type) {
	case int, int64, float32, float64:
		return v
	}
	s := strings.TrimSpace(stringify(value))
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if strings.Contains(cleaned, ",") && !strings.Contains(cleaned, ".") {
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	if _, err := strconv.ParseFloat(cleaned, 64); err != nil {
		return ""
	}
	return cleaned
}

func clampEnum(value string, allowed []string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return allowed[0]
}

// sanitizeImages keeps only http(s) URLs from a list or comma-joined
// string.
func sanitizeImages(value any) any {
	var candidates []string
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			candidates = append(candidates, stringify(item))
		}
	case []string:
		candidates = v
	default:
		candidates = strings.Split(stringify(value), ",")
	}
	var urls []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "http://") || strings.HasPrefix(c, "https://") {
			urls = append(urls, c)
		}
	}
	return strings.Join(urls, ", ")
}

// sanitizeSKU whitelists the characters safe for catalogue identifiers.
func sanitizeSKU(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}
