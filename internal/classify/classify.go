// Package classify assigns risk classifications to SQL statements and
// stored-procedure calls using a leading-keyword heuristic.
//
// The heuristic is intentionally approximate. Only the first statement of a
// multi-statement batch governs the verdict, and a keyword inside a string
// literal can still produce a false match. Ambiguous input fails closed:
// anything not recognized as a read is treated as a high-risk write.
package classify

import (
	"fmt"
	"strings"

	"sqlgate/internal/domain"
)

// writeKeywords lead statements gated on the modifications flag. EXEC and
// EXECUTE are carried here for recognition but resolve to the execute
// category, gated on the stored-procedures flag.
var writeKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"ALTER":    true,
	"DROP":     true,
	"TRUNCATE": true,
	"CREATE":   true,
	"MERGE":    true,
	"BULK":     true,
	"EXEC":     true,
	"EXECUTE":  true,
}

// readKeywords lead statements that execute directly without confirmation.
var readKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"WITH":     true,
}

// readProcedurePrefixes mark procedure names that declare read intent.
// Extended at runtime by the security-policy file.
var readProcedurePrefixes = []string{"GET", "SELECT", "SEARCH", "FIND", "LIST", "VIEW"}

// Statement classifies raw SQL text by its leading keyword.
func Statement(sqlText string) domain.RiskClassification {
	keyword := LeadingKeyword(sqlText)

	if readKeywords[keyword] {
		return domain.RiskClassification{
			Keyword:              keyword,
			Category:             domain.CategoryRead,
			Level:                domain.RiskLow,
			RequiresConfirmation: false,
			Reason:               "read-only statement",
		}
	}

	cls := domain.RiskClassification{
		Keyword:              keyword,
		Category:             domain.CategoryWrite,
		RequiresConfirmation: true,
	}

	switch keyword {
	case "DELETE":
		cls.Level = domain.RiskHigh
		cls.Reason = "DELETE permanently removes rows"
	case "DROP":
		cls.Level = domain.RiskHigh
		cls.Reason = "DROP permanently removes a database object"
	case "TRUNCATE":
		cls.Level = domain.RiskHigh
		cls.Reason = "TRUNCATE permanently removes all rows from a table"
	case "ALTER":
		cls.Level = domain.RiskHigh
		cls.Reason = "ALTER modifies the database schema"
	case "UPDATE":
		cls.Level = domain.RiskMedium
		cls.Reason = "UPDATE modifies existing rows"
	case "INSERT":
		cls.Level = domain.RiskLow
		cls.Reason = "INSERT adds new rows"
	case "EXEC", "EXECUTE":
		cls.Category = domain.CategoryExecute
		cls.Level = domain.RiskHigh
		cls.Reason = "executes a stored procedure from raw text"
	default:
		cls.Level = domain.RiskHigh
		if writeKeywords[keyword] {
			cls.Reason = fmt.Sprintf("%s statements are not classified as low risk", keyword)
		} else {
			cls.Reason = fmt.Sprintf("unrecognized leading keyword %q", keyword)
		}
	}
	return cls
}

// Procedure classifies a stored-procedure call by its name. A whitelisted
// read-intent prefix (case-insensitive) bypasses confirmation; every other
// name requires it. The procedure body is never inspected.
func Procedure(name string, extraReadPrefixes []string) domain.RiskClassification {
	base := baseName(name)
	upper := strings.ToUpper(base)

	for _, prefix := range readProcedurePrefixes {
		if strings.HasPrefix(upper, prefix) {
			return readIntentProcedure()
		}
	}
	for _, prefix := range extraReadPrefixes {
		if prefix != "" && strings.HasPrefix(upper, strings.ToUpper(prefix)) {
			return readIntentProcedure()
		}
	}

	return domain.RiskClassification{
		Keyword:              "EXECUTE",
		Category:             domain.CategoryExecute,
		Level:                domain.RiskMedium,
		RequiresConfirmation: true,
		Reason:               "procedure effects are unknown; the body is not inspected",
	}
}

func readIntentProcedure() domain.RiskClassification {
	return domain.RiskClassification{
		Keyword:              "EXECUTE",
		Category:             domain.CategoryExecute,
		Level:                domain.RiskLow,
		RequiresConfirmation: false,
		Reason:               "procedure name indicates read-only intent",
	}
}

// LeadingKeyword normalizes statement text and returns its first token,
// upper-cased. Comments are stripped and whitespace collapsed first.
func LeadingKeyword(sqlText string) string {
	fields := strings.Fields(stripComments(sqlText))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// baseName strips schema qualification and bracket quoting from a procedure
// name: "[dbo].[GetOrders]" -> "GetOrders".
func baseName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimPrefix(name, "[")
	name = strings.TrimSuffix(name, "]")
	return strings.TrimSpace(name)
}

// stripComments removes -- line comments and /* */ block comments. The
// scanner is not aware of string literals; a comment marker inside a literal
// is treated as a comment, consistent with the heuristic contract.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == '-' && i+1 < len(s) && s[i+1] == '-' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			continue
		}
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '*' {
			i += 2
			for i < len(s) {
				if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
			// Keep tokens on either side of the comment separated.
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
