package wire

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wireclient/excon/pkg/errors"
)

// EncodeQuery renders Datum.Query following the round-trip law of §3/§4:
//   - nil or "" -> ""
//   - string -> used verbatim (already encoded by the caller)
//   - map[string]interface{} -> "&"-joined "key=value" pairs, keys sorted
//     for determinism; a nil value emits a bare "key" with no "="; a slice
//     value repeats "key=v" once per element, in slice order.
func EncodeQuery(q interface{}) (string, error) {
	switch v := q.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]interface{}:
		return encodeQueryMap(v)
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unsupported query type %T", q))
	}
}

func encodeQueryMap(m map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
			parts = append(parts, url.QueryEscape(k))
		case []interface{}:
			for _, elem := range v {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(scalarString(elem)))
			}
		default:
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(scalarString(v)))
		}
	}
	return strings.Join(parts, "&"), nil
}

func scalarString(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
