package paging

// Pagination é o bloco de paginação devolvido pelos endpoints remotos.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// TotalPages calcula ceil(total/size); zero quando size <= 0.
func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 0
	}
	return (totalCount + pageSize - 1) / pageSize
}

// ClampPage restringe page a [1, max(totalPages, 1)].
func ClampPage(page, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

// New monta paginação consistente a partir dos três valores primários.
func New(page, pageSize, totalCount int) Pagination {
	total := TotalPages(totalCount, pageSize)
	return Pagination{
		Page:       ClampPage(page, total),
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: total,
	}
}

// Valid confere total_pages == ceil(total_count/page_size) e a faixa da página.
func (p Pagination) Valid() bool {
	if p.PageSize <= 0 {
		return false
	}
	if p.TotalPages != TotalPages(p.TotalCount, p.PageSize) {
		return false
	}
	return p.Page == ClampPage(p.Page, p.TotalPages)
}

// Normalize recalcula campos derivados quando o servidor envia valores incoerentes.
func (p Pagination) Normalize() Pagination {
	if p.PageSize <= 0 {
		return p
	}
	return New(p.Page, p.PageSize, p.TotalCount)
}

// HasMore indica se existe página depois de p.Page.
func (p Pagination) HasMore() bool {
	return p.Page < p.TotalPages
}
