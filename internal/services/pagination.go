package services

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a window of a list.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page to sane values.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}
