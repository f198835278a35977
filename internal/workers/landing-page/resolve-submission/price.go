package resolvesubmission

import "strings"

// CompleteAffiliateLink appends username to link unless the link already
// contains it. A trailing "=" is added first when missing.
func CompleteAffiliateLink(link, username string) string {
	if username == "" || strings.Contains(link, username) {
		return link
	}
	if !strings.HasSuffix(link, "=") {
		link += "="
	}
	return link + username
}
