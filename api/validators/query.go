package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
)

// ParseQueryInt reads an optional bounded integer; absent or blank yields def.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value < min || value > max {
		return 0, queryError(key, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return value, nil
}

// ParseQueryEnum reads an optional enum value through parse. A nil result
// means the parameter was not supplied.
func ParseQueryEnum[T ~string](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := parse(strings.ToLower(raw))
	if err != nil {
		return nil, queryError(key, "is not a recognised value")
	}
	return &value, nil
}

func queryError(key, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{key: msg})
}
