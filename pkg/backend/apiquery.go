package backend

import (
	"strings"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
)

// virtualQuery is a parsed "SELECT ... FROM <table> [WHERE <eq> [AND <eq>]*]"
// statement, the SQL subset the API-as-table handlers accept: single-table
// SELECT with an equality-only, AND-only WHERE clause.
type virtualQuery struct {
	Table string
	Where map[string]string
}

// parseVirtualQuery accepts "SELECT * FROM table" or
// "SELECT * FROM table WHERE a = 'x' AND b = 1". It rejects joins,
// subqueries, OR, and any comparator besides '='.
func parseVirtualQuery(component, query string) (*virtualQuery, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "query must start with SELECT")
	}

	fromIdx := indexOfWord(upper, "FROM")
	if fromIdx < 0 {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "missing FROM clause")
	}

	rest := q[fromIdx+4:]
	whereIdx := indexOfWord(strings.ToUpper(rest), "WHERE")

	var tablePart, wherePart string
	if whereIdx >= 0 {
		tablePart = rest[:whereIdx]
		wherePart = rest[whereIdx+5:]
	} else {
		tablePart = rest
	}

	table := strings.TrimSpace(tablePart)
	if table == "" {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "missing table name after FROM")
	}
	if strings.ContainsAny(table, " ,") {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "joins and multiple tables are not supported")
	}

	vq := &virtualQuery{Table: table, Where: map[string]string{}}
	if strings.TrimSpace(wherePart) == "" {
		return vq, nil
	}

	if containsWord(strings.ToUpper(wherePart), "OR") {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "OR is not supported, use AND-only equality predicates")
	}
	if containsWord(strings.ToUpper(wherePart), "SELECT") {
		return nil, apperrors.New(apperrors.QueryFailed, component, "parse", "subqueries are not supported")
	}

	clauses := splitOnWord(wherePart, "AND")
	for _, clause := range clauses {
		key, val, err := parseEqClause(component, clause)
		if err != nil {
			return nil, err
		}
		if strings.ContainsAny(key, "<>!") {
			return nil, apperrors.New(apperrors.QueryFailed, component, "parse",
				"unsupported predicate (only '=' equality is supported): "+strings.TrimSpace(clause))
		}
		vq.Where[key] = val
	}
	return vq, nil
}

func parseEqClause(component, clause string) (string, string, error) {
	parts := strings.SplitN(clause, "=", 2)
	if len(parts) != 2 {
		return "", "", apperrors.New(apperrors.QueryFailed, component, "parse",
			"unsupported predicate (only '=' equality is supported): "+strings.TrimSpace(clause))
	}
	key := strings.TrimSpace(parts[0])
	val := strings.TrimSpace(parts[1])
	val = strings.Trim(val, "'\"")
	return key, val, nil
}

func indexOfWord(upper, word string) int {
	for _, idx := range wordIndices(upper, word) {
		return idx
	}
	return -1
}

func containsWord(upper, word string) bool {
	return len(wordIndices(upper, word)) > 0
}

// wordIndices finds occurrences of word as a standalone token (not a
// substring of a longer identifier) in upper.
func wordIndices(upper, word string) []int {
	var indices []int
	start := 0
	for {
		idx := strings.Index(upper[start:], word)
		if idx < 0 {
			break
		}
		pos := start + idx
		before := pos == 0 || !isIdentChar(upper[pos-1])
		afterPos := pos + len(word)
		after := afterPos >= len(upper) || !isIdentChar(upper[afterPos])
		if before && after {
			indices = append(indices, pos)
		}
		start = pos + len(word)
	}
	return indices
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// splitOnWord splits s on standalone occurrences of word (case-insensitive).
func splitOnWord(s, word string) []string {
	upper := strings.ToUpper(s)
	indices := wordIndices(upper, word)
	if len(indices) == 0 {
		return []string{s}
	}
	var parts []string
	prev := 0
	for _, idx := range indices {
		parts = append(parts, s[prev:idx])
		prev = idx + len(word)
	}
	parts = append(parts, s[prev:])
	return parts
}
