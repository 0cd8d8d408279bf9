package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"chainindex/internal/schema"
)

// bigIntFixedWidth is the digit count a bigint's zero-padded decimal
// rendering is stretched to, per spec.md §4.1: "rendered to a fixed-width
// zero-padded decimal encoding so lexicographic comparison matches numeric
// comparison." 2^256 (the largest width any EVM-derived value needs) has 78
// decimal digits; one more digit of headroom avoids collisions with larger
// inputs.
const bigIntFixedWidth = 79

// ToCopyField renders value as the bulk-load textual field for column col:
// tab-separated, LF-terminated rows, "\N" for null, and the backslash
// escapes spec.md §4.1/§6 specify for text.
func ToCopyField(col schema.Column, value any) (string, error) {
	if value == nil {
		return `\N`, nil
	}
	switch col.Type {
	case schema.TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return "", encodingErr(col, "expected bool")
		}
		if b {
			return "t", nil
		}
		return "f", nil
	case schema.TypeInt, schema.TypeFloat:
		return fmt.Sprintf("%v", value), nil
	case schema.TypeBigInt:
		n, err := toBigInt(value)
		if err != nil {
			return "", encodingErr(col, err.Error())
		}
		return copyBigInt(n), nil
	case schema.TypeText, schema.TypeHexBytes, schema.TypeEnum, schema.TypePoint, schema.TypeLine:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		return escapeCopyText(s), nil
	case schema.TypeJSON:
		if err := rejectBigIntInJSON(value); err != nil {
			return "", err
		}
		b, err := json.Marshal(value)
		if err != nil {
			return "", encodingErr(col, err.Error())
		}
		return escapeCopyText(string(b)), nil
	case schema.TypeTimestamp:
		return escapeCopyText(fmt.Sprintf("%v", value)), nil
	case schema.TypeArray:
		return copyArray(col, value)
	default:
		return escapeCopyText(fmt.Sprintf("%v", value)), nil
	}
}

// copyBigInt renders the zero-padded fixed-width decimal encoding described
// in spec.md §4.1, sign-aware: the absolute value is zero-padded to the
// fixed digit width and negative numbers get a leading "-". Among
// non-negative values lexicographic order matches numeric order; negative
// values sort before non-negative ones, but among themselves in reverse
// numeric order.
func copyBigInt(n *big.Int) string {
	neg := n.Sign() < 0
	abs := new(big.Int).Abs(n)
	digits := abs.String()
	if len(digits) < bigIntFixedWidth {
		digits = strings.Repeat("0", bigIntFixedWidth-len(digits)) + digits
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func copyArray(col schema.Column, value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", encodingErr(col, err.Error())
	}
	// Postgres array literal form: {v1,v2,...}. We accept []any input and
	// re-render rather than trust the caller's JSON braces.
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return "", encodingErr(col, err.Error())
	}
	parts := make([]string, len(raw))
	for i, v := range raw {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return escapeCopyText("{" + strings.Join(parts, ",") + "}"), nil
}

// escapeCopyText applies the COPY text-format escapes spec.md §6 lists:
// \b \f \n \r \t \v \\. Embedded NUL bytes are stripped, matching the
// storage engine's documented quirk (spec.md §4.1).
func escapeCopyText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalKey renders value to the canonical textual form used to build
// cache keys (spec.md §3: "each normalized primary-key value rendered to its
// canonical textual form"). Unlike ToCopyField this never escapes or
// null-encodes — it exists purely for equality/joining.
func CanonicalKey(col schema.Column, value any) (string, error) {
	if value == nil {
		return "", encodingErr(col, "primary key column cannot be null")
	}
	switch col.Type {
	case schema.TypeBigInt:
		n, err := toBigInt(value)
		if err != nil {
			return "", encodingErr(col, err.Error())
		}
		return n.String(), nil
	case schema.TypeInt:
		switch v := value.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	case schema.TypeHexBytes:
		s, err := toHexBytes(value)
		if err != nil {
			return "", encodingErr(col, err.Error())
		}
		return strings.ToLower(s), nil
	case schema.TypeBoolean:
		if value.(bool) {
			return "true", nil
		}
		return "false", nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}
