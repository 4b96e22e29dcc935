package campaign

import "strings"

// WordCount counts whitespace-delimited non-empty tokens. Billing charges
// one token per word per successful send.
func WordCount(message string) int {
	return len(strings.Fields(message))
}
