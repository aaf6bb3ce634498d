package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/paging"
)

// ListParams são filtros comuns das listagens paginadas.
type ListParams struct {
	Page            int
	PageSize        int
	Search          string
	Status          string
	OrganizationIDs []string
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		q.Set("search", s)
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if len(p.OrganizationIDs) > 0 {
		q.Set("organization_ids", strings.Join(p.OrganizationIDs, ","))
	}
	return q
}

func pageOf[T any](env Envelope[[]T], p ListParams) ([]T, paging.Pagination) {
	if env.Pagination != nil {
		return env.Data, env.Pagination.Normalize()
	}
	size := p.PageSize
	if size <= 0 {
		size = len(env.Data)
	}
	return env.Data, paging.New(p.Page, size, len(env.Data))
}

// OrganizationsGrouped consulta o diretório agrupado de organizações.
func (c *Client) OrganizationsGrouped(ctx context.Context, p ListParams) ([]model.OrganizationGroup, paging.Pagination, error) {
	env, err := Call[[]model.OrganizationGroup](ctx, c, http.MethodGet, "organizations-grouped", p.values(), nil)
	if err != nil {
		return nil, paging.Pagination{}, err
	}
	groups, pag := pageOf(env, p)
	return groups, pag, nil
}

// ListSales lista vendas no escopo do usuário.
func (c *Client) ListSales(ctx context.Context, p ListParams) ([]model.Sale, paging.Pagination, error) {
	env, err := Call[[]model.Sale](ctx, c, http.MethodGet, "sales", p.values(), nil)
	if err != nil {
		return nil, paging.Pagination{}, err
	}
	sales, pag := pageOf(env, p)
	return sales, pag, nil
}

// CreateSale registra venda; o servidor marca o fogão como vendido.
func (c *Client) CreateSale(ctx context.Context, in model.SaleInput) (*model.Sale, error) {
	env, err := Call[model.Sale](ctx, c, http.MethodPost, "sales-create", nil, in)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// DeleteSale remove uma venda.
func (c *Client) DeleteSale(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("remote: id da venda obrigatório")
	}
	_, err := Call[map[string]any](ctx, c, http.MethodPost, "sales-delete", nil, map[string]string{"id": id})
	return err
}

// ListStoveIDs lista o inventário de fogões.
func (c *Client) ListStoveIDs(ctx context.Context, p ListParams) ([]model.StoveID, paging.Pagination, error) {
	env, err := Call[[]model.StoveID](ctx, c, http.MethodGet, "stove-ids", p.values(), nil)
	if err != nil {
		return nil, paging.Pagination{}, err
	}
	stoves, pag := pageOf(env, p)
	return stoves, pag, nil
}

// UpdateStoveIDStatus altera o status de um fogão.
func (c *Client) UpdateStoveIDStatus(ctx context.Context, id, status string) (*model.StoveID, error) {
	if status != model.StoveAvailable && status != model.StoveSold {
		return nil, errors.New("remote: status de fogão inválido")
	}
	env, err := Call[model.StoveID](ctx, c, http.MethodPost, "stove-ids-update", nil, map[string]string{"id": id, "status": status})
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// ListAgents lista agentes de vendas.
func (c *Client) ListAgents(ctx context.Context, p ListParams) ([]model.Agent, paging.Pagination, error) {
	env, err := Call[[]model.Agent](ctx, c, http.MethodGet, "agents", p.values(), nil)
	if err != nil {
		return nil, paging.Pagination{}, err
	}
	agents, pag := pageOf(env, p)
	return agents, pag, nil
}

// SetAgentStatus ativa ou desativa um agente.
func (c *Client) SetAgentStatus(ctx context.Context, id string, active bool) (*model.Agent, error) {
	status := "inactive"
	if active {
		status = "active"
	}
	env, err := Call[model.Agent](ctx, c, http.MethodPost, "agents-status", nil, map[string]string{"id": id, "status": status})
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// DashboardStats busca agregados do painel, opcionalmente filtrados por organização.
func (c *Client) DashboardStats(ctx context.Context, organizationIDs []string) (*model.DashboardStats, error) {
	q := url.Values{}
	if len(organizationIDs) > 0 {
		q.Set("organization_ids", strings.Join(organizationIDs, ","))
	}
	env, err := Call[model.DashboardStats](ctx, c, http.MethodGet, "dashboard-stats", q, nil)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}
