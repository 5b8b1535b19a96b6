package repository

import "strings"

// sortColumn maps a requested sort key through an allowlist, falling back to
// the default when the key is unknown. Keeps user input out of ORDER BY.
func sortColumn(requested string, allowed map[string]string, fallback string) string {
	if requested == "" {
		return fallback
	}
	if column, ok := allowed[requested]; ok {
		return column
	}
	return fallback
}

func sortOrder(requested string) string {
	order := strings.ToUpper(requested)
	if order != "ASC" && order != "DESC" {
		return "DESC"
	}
	return order
}

func pageBounds(page, size int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}
