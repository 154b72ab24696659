package storage

// clampPage normalizes a 1-based page number, treating anything below 1
// as the first page.
func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// clampLimit bounds a requested per_page value to the documented range,
// falling back to a sane default when unset.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 25
	}
	if limit > 100 {
		return 100
	}
	return limit
}
