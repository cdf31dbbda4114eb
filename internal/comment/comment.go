// Package comment finds and writes work item references in free-form text
// such as commit messages and branch names.
package comment

import (
	"fmt"
	"regexp"
	"strconv"
)

// MentionPrefix is placed before a reference appended to a message.
const MentionPrefix = " Fix "

var (
	referencePattern = regexp.MustCompile(`#(\d+)(\s+|$)`)
	branchPattern    = regexp.MustCompile(`work_item/(\d+)$`)
)

// ExtractWorkItemID returns the first integer following a '#' that is
// followed by whitespace or the end of the text. References whose digits do
// not fit an int are skipped.
func ExtractWorkItemID(text string) (int, bool) {
	id, _, ok := findReference(text)
	return id, ok
}

// findReference returns the first parseable reference and the byte range of
// its digits.
func findReference(text string) (id int, digits [2]int, ok bool) {
	for _, loc := range referencePattern.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		return n, [2]int{loc[2], loc[3]}, true
	}
	return 0, [2]int{}, false
}

// Mention annotates message with a reference to work item id. A reference to
// a different work item is replaced, a reference to the same one is kept as
// is, and a message without a reference gets one appended.
func Mention(message string, id int) string {
	found, digits, ok := findReference(message)
	switch {
	case ok && found == id:
		return message
	case ok:
		return message[:digits[0]] + strconv.Itoa(id) + message[digits[1]:]
	default:
		return message + MentionPrefix + fmt.Sprintf("#%d", id)
	}
}

// WorkItemBranchName is the conventional branch for working on one item.
func WorkItemBranchName(id int) string {
	return fmt.Sprintf("work_item/%d", id)
}

// BranchWorkItemID extracts the id from a branch named like WorkItemBranchName.
func BranchWorkItemID(branch string) (int, bool) {
	m := branchPattern.FindStringSubmatch(branch)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}
