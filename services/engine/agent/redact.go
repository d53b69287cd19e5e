// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "regexp"

// redactionPatterns scrub PII from log output. Order matters: SSNs must
// be matched before the generic phone pattern would split them.
var redactionPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "[CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\(\d{3}\)\s*\d{3}-\d{4}`), "[PHONE]"},
	{regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`), "[TOKEN]"},
}

// Redact masks emails, phone numbers, card numbers, SSNs and long
// API-token-shaped strings. Applied to log output only; the text the
// agent returns to the pipeline is never modified.
func Redact(text string) string {
	for _, r := range redactionPatterns {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}
