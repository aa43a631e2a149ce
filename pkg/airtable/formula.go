package airtable

import (
	"fmt"
	"strings"
)

// Equals builds a filterByFormula clause matching a single field equality.
func Equals(field, value string) string {
	return fmt.Sprintf("{%s} = %s", field, quote(value))
}

// And builds a conjunction of clauses. One clause passes through unchanged;
// zero clauses yields the empty formula (match everything).
func And(clauses ...string) string {
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "AND(" + strings.Join(clauses, ", ") + ")"
	}
}

// Checked builds a clause matching a ticked checkbox field.
func Checked(field string) string {
	return fmt.Sprintf("{%s} = TRUE()", field)
}

// HasPrefix builds a clause matching fields that start with prefix.
func HasPrefix(field, prefix string) string {
	return fmt.Sprintf("LEFT({%s}, %d) = %s", field, len(prefix), quote(prefix))
}

// quote renders a string literal for a formula, escaping embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
