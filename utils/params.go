package utils

import (
	"net/http"
	"strconv"
	"strings"
)

type Page struct {
	Page  int
	Limit int
}

func (p Page) Skip() int64 {
	return int64((p.Page - 1) * p.Limit)
}

// ParsePage reads page/limit query params, clamping limit to max.
func ParsePage(r *http.Request, defLimit, max int) Page {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defLimit
	}
	if limit > max {
		limit = max
	}
	return Page{Page: page, Limit: limit}
}

// SplitTags takes a comma-separated string and returns a cleaned []string
func SplitTags(input string) []string {
	if input == "" {
		return []string{}
	}
	var tags []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(input, ",") {
		tag := strings.ToLower(strings.TrimSpace(p))
		if tag == "" || seen[tag] {
			continue
		}
		tags = append(tags, tag)
		seen[tag] = true
	}
	return tags
}

// Pagination is the pagination block list endpoints return.
func Pagination(p Page, total int64) M {
	pages := (total + int64(p.Limit) - 1) / int64(p.Limit)
	return M{"page": p.Page, "limit": p.Limit, "total": total, "pages": pages}
}
