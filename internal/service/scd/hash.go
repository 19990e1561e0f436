package scd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"etl-orchestrator/internal/domain"
)

const nullMarker = "\x00NULL"

// TrackedColumns returns the columns of row that participate in change
// detection: everything except business keys and excluded columns, sorted.
func TrackedColumns(def domain.SCD2Definition, row domain.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		if def.IsKey(col) || def.IsExcluded(col) {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// HashRow returns the hex SHA-256 of the tracked columns of row. Values are
// normalized so that equal data hashes equally regardless of Go type width.
func HashRow(def domain.SCD2Definition, row domain.Row) string {
	h := sha256.New()
	for i, col := range TrackedColumns(def, row) {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(col))
		h.Write([]byte{'='})
		h.Write([]byte(formatValue(row[col])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyString renders the business key of row as a stable string. Values are
// quoted so that distinct key tuples never render the same.
func KeyString(def domain.SCD2Definition, row domain.Row) string {
	parts := make([]string, len(def.BusinessKeyColumns))
	for i, col := range def.BusinessKeyColumns {
		parts[i] = col + "=" + strconv.Quote(formatValue(row[col]))
	}
	return strings.Join(parts, ",")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return nullMarker
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Integral floats format like integers so 42 and 42.0 hash the same.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
