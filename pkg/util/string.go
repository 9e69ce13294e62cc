package util

import (
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify creates a URL-friendly slug from a post title.
func Slugify(title string) string {
	// Convert to lowercase
	slug := strings.ToLower(title)

	// Replace runs of non-alphanumeric characters with hyphens
	slug = slugPattern.ReplaceAllString(slug, "-")

	// Remove leading/trailing hyphens
	slug = strings.Trim(slug, "-")

	return slug
}
