package logger

import "strings"

// RedactEmail masks an email address for safe logging, keeping at most the
// first two characters of the local part: "john.doe@example.com" becomes
// "jo***@example.com". Anything that does not look like an address is fully
// masked.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
