package files

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
)

// mimePatterns matches mime types against glob patterns such as "image/*".
type mimePatterns []*regexp.Regexp

func compileMimePatterns(globs []string) (mimePatterns, error) {
	patterns := make(mimePatterns, 0, len(globs))
	for _, glob := range globs {
		clean := strings.ToLower(strings.TrimSpace(glob))
		if clean == "" {
			continue
		}
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(clean), `\*`, ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("mime pattern %q: %w", glob, err)
		}
		patterns = append(patterns, re)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one mime pattern is required")
	}
	return patterns, nil
}

func (p mimePatterns) matches(mimeType string) bool {
	for _, re := range p {
		if re.MatchString(mimeType) {
			return true
		}
	}
	return false
}

func sniffMimeType(value string) (string, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return "", fmt.Errorf("mime type required")
	}
	mediaType, _, err := mime.ParseMediaType(clean)
	if err != nil {
		return "", fmt.Errorf("mime type invalid: %w", err)
	}
	if mediaType == "" {
		return "", fmt.Errorf("mime type missing")
	}
	return strings.ToLower(mediaType), nil
}
