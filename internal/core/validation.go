package core

// validation.go checks an imported CSV's header row against the columns the
// import table needs.
//
// Matching is exact and case-sensitive. Order does not matter and extra
// columns are allowed.

import (
	"errors"
	"fmt"
	"strings"
)

// RequiredHeaders are the columns every imported CSV must carry.
var RequiredHeaders = []string{"S NO", "File Name", "Duration", "Size (KB)"}

// MsgInvalidHeaders is shown when the header check fails.
const MsgInvalidHeaders = "Uploaded CSV file headers are not valid"

// ErrInvalidHeaders is matched by every HeaderError.
var ErrInvalidHeaders = errors.New("csv headers are not valid")

// HeaderError lists the required columns absent from a header row.
type HeaderError struct {
	Missing []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrInvalidHeaders, strings.Join(e.Missing, ", "))
}

func (e *HeaderError) Is(target error) bool {
	return target == ErrInvalidHeaders
}

// ValidateHeaders reports whether headers contains every entry of RequiredHeaders.
func ValidateHeaders(headers []string) error {
	return ValidateHeadersAgainst(headers, RequiredHeaders)
}

// ValidateHeadersAgainst checks headers against an arbitrary required set.
// An empty header list never validates.
func ValidateHeadersAgainst(headers, required []string) error {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	var missing []string
	for _, r := range required {
		if _, ok := present[r]; !ok {
			missing = append(missing, r)
		}
	}

	if len(missing) > 0 || len(headers) == 0 {
		return &HeaderError{Missing: missing}
	}
	return nil
}
