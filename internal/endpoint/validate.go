package endpoint

import (
	"fmt"
	"strings"
)

// ValidateColumns checks a result's column set against the import kind.
// Users need email or external_id, accounts need domain or external_id, events
// need external_id, event and timestamp. Names containing '.' or '$' are
// rejected because they cannot be stored as attribute keys downstream.
func ValidateColumns(columns []string, kind ImportKind) []string {
	present := make(map[string]bool, len(columns))
	var unsafe []string
	for _, c := range columns {
		present[c] = true
		if strings.ContainsAny(c, ".$") {
			unsafe = append(unsafe, c)
		}
	}

	var errs []string
	switch kind {
	case ImportAccounts:
		if !present["domain"] && !present["external_id"] {
			errs = append(errs, "Column names should include domain and/or external_id")
		}
	case ImportEvents:
		var missing []string
		for _, c := range []string{"external_id", "event", "timestamp"} {
			if !present[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("Column names should include external_id, event and timestamp (missing: %s)", strings.Join(missing, ", ")))
		}
	default:
		if !present["email"] && !present["external_id"] {
			errs = append(errs, "Column names should include email and/or external_id")
		}
	}

	if len(unsafe) > 0 {
		errs = append(errs, fmt.Sprintf("Column names should not contain dots or dollar signs: %s", strings.Join(unsafe, ", ")))
	}
	return errs
}

// ValidationFailure converts validation messages into a ValidationError.
func ValidationFailure(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return Errorf(KindValidation, CodeInvalidColumns, "%s", strings.Join(errs, "; "))
}
