package handler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// blockArgPattern matches the block-constraint arguments a query can carry:
// `block: { number: N }` and `block: { number_gte: N }`. GraphQL execution is
// out of scope; the gateway only needs the block numbers a query
// requires to filter candidates by freshness.
var blockArgPattern = regexp.MustCompile(`\bnumber(?:_gte)?\s*:\s*(\d+)`)

// requiredBlock returns the highest block number the query names in a block
// constraint, or zero if the query is unconstrained. A query that is not
// plausibly GraphQL (unbalanced braces) is an error.
func requiredBlock(query string) (uint64, error) {
	if strings.Count(query, "{") != strings.Count(query, "}") {
		return 0, fmt.Errorf("unbalanced braces in query")
	}

	var required uint64
	for _, m := range blockArgPattern.FindAllStringSubmatch(query, -1) {
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid block number in query: %w", err)
		}
		if n > required {
			required = n
		}
	}
	return required, nil
}
