package snapshot

import "fmt"

// SelectForRemoval returns the entries that fall outside a retention window of
// keep entries: all but the last keep of the ascending list. The input is not
// modified. keep must be positive.
func SelectForRemoval(entries []string, keep int) []string {
	if keep <= 0 {
		panic(fmt.Sprintf("snapshot: retention must be positive, got %d", keep))
	}

	excess := len(entries) - keep
	if excess <= 0 {
		return []string{}
	}

	victims := make([]string, excess)
	copy(victims, entries[:excess])
	return victims
}
