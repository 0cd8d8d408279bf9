// Package codec implements the Column Codec (spec.md §4.1): the mapping
// between typed domain values, driver values, and the bulk-load textual
// form, including the round-trip contract and the COPY text-escaping rules.
package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	cierrors "chainindex/pkg/errors"

	"chainindex/internal/schema"
)

// ToDriver converts a typed domain value into the form the SQL driver
// accepts for this column (e.g. *big.Int for bigints that fit no native
// integer type, a 0x-prefixed hex string for hex, a JSON-valid map for json
// columns).
func ToDriver(col schema.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.TypeBigInt:
		return toBigInt(value)
	case schema.TypeHexBytes:
		return toHexBytes(value)
	case schema.TypeJSON:
		if err := rejectBigIntInJSON(value); err != nil {
			return nil, err
		}
		return value, nil
	case schema.TypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, encodingErr(col, "enum value must be a string")
		}
		for _, v := range col.EnumValues {
			if v == s {
				return s, nil
			}
		}
		return nil, encodingErr(col, fmt.Sprintf("%q is not a valid value of enum %v", s, col.EnumValues))
	default:
		return value, nil
	}
}

// FromDriver is ToDriver's inverse: given the driver-returned value, recover
// the typed domain value. from_driver(to_driver(v)) == v is the round-trip
// property (spec.md §8, P1).
func FromDriver(col schema.Column, driverValue any) (any, error) {
	if driverValue == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.TypeBigInt:
		switch v := driverValue.(type) {
		case *big.Int:
			return v, nil
		case string:
			n, ok := new(big.Int).SetString(v, 10)
			if !ok {
				return nil, encodingErr(col, fmt.Sprintf("invalid bigint literal %q", v))
			}
			return n, nil
		default:
			return v, nil
		}
	case schema.TypeHexBytes:
		switch v := driverValue.(type) {
		case []byte:
			return "0x" + fmt.Sprintf("%x", v), nil
		case string:
			return v, nil
		default:
			return v, nil
		}
	default:
		return driverValue, nil
	}
}

func toBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case int64:
		return big.NewInt(v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("invalid bigint literal %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported bigint input type %T", value)
	}
}

func toHexBytes(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !strings.HasPrefix(v, "0x") {
			return "", fmt.Errorf("hex value %q missing 0x prefix", v)
		}
		return v, nil
	case []byte:
		return "0x" + fmt.Sprintf("%x", v), nil
	default:
		return "", fmt.Errorf("unsupported hex input type %T", value)
	}
}

// rejectBigIntInJSON implements spec.md §4.1: "JSON columns reject any value
// whose serialization would contain a big integer." Arbitrary-precision
// integers reach a JSON value only as *big.Int or json.Number; we walk the
// value looking for either.
func rejectBigIntInJSON(value any) error {
	switch v := value.(type) {
	case *big.Int:
		return cierrors.New(cierrors.KindBigIntSerial, "big integer not permitted in json column")
	case json.Number:
		// A json.Number holding an integer literal outside the int64 range,
		// or a number that does not parse as a float64, is treated as a big
		// integer for this purpose.
		if _, err := strconv.ParseInt(v.String(), 10, 64); err != nil {
			if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
				return cierrors.New(cierrors.KindBigIntSerial, "big integer not permitted in json column")
			}
			if _, ferr := strconv.ParseFloat(v.String(), 64); ferr != nil {
				return cierrors.New(cierrors.KindBigIntSerial, "big integer not permitted in json column")
			}
		}
		return nil
	case map[string]any:
		for _, sub := range v {
			if err := rejectBigIntInJSON(sub); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, sub := range v {
			if err := rejectBigIntInJSON(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func encodingErr(col schema.Column, msg string) error {
	return cierrors.New(cierrors.KindEncoding, fmt.Sprintf("column %s: %s", col.Name, msg))
}
