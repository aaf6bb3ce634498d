package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/gestaozabele/painelvendas/internal/http/middleware"
	"github.com/gestaozabele/painelvendas/internal/model"
	"github.com/gestaozabele/painelvendas/internal/paging"
	"github.com/gestaozabele/painelvendas/internal/remote"
	"github.com/gestaozabele/painelvendas/internal/util"
)

const defaultSalesPageSize = 20

var (
	errAmount       = errors.New("amount não pode ser negativo")
	errOutsideScope = errors.New("organization_id fora da seleção atual")
)

type salesQuery struct {
	search          string
	status          string
	organizationIDs []string
}

func (q salesQuery) key() string {
	return q.search + "\x00" + q.status + "\x00" + strings.Join(q.organizationIDs, ",")
}

// salesFeed mantém a listagem "carregar mais" de vendas para o filtro atual.
// Trocar de filtro descarta a lista anterior e as páginas ainda em voo.
type salesFeed struct {
	backend  Backend
	pageSize int

	mu   sync.Mutex
	key  string
	list *paging.List[model.Sale]
}

func newSalesFeed(backend Backend, pageSize int) *salesFeed {
	if pageSize <= 0 {
		pageSize = defaultSalesPageSize
	}
	return &salesFeed{backend: backend, pageSize: pageSize}
}

func (f *salesFeed) listFor(q salesQuery, reset bool) *paging.List[model.Sale] {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := q.key()
	if f.list != nil && f.key == key {
		if reset {
			f.list.Reset()
		}
		return f.list
	}
	if f.list != nil {
		f.list.Reset()
	}
	f.key = key
	f.list = paging.NewList(f.pageSize, func(ctx context.Context, page, pageSize int) ([]model.Sale, paging.Pagination, error) {
		return f.backend.ListSales(ctx, remote.ListParams{
			Page:            page,
			PageSize:        pageSize,
			Search:          q.search,
			Status:          q.status,
			OrganizationIDs: q.organizationIDs,
		})
	})
	return f.list
}

func (f *salesFeed) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.list != nil {
		f.list.Reset()
	}
	f.list = nil
	f.key = ""
}

// ListSales carrega a página pedida (ou a seguinte) e devolve a lista acumulada.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := salesQuery{
		search:          strings.TrimSpace(q.Get("search")),
		status:          strings.TrimSpace(q.Get("status")),
		organizationIDs: httpmiddleware.GetOrganizations(r.Context()),
	}

	page := 0
	if pageStr := strings.TrimSpace(q.Get("page")); pageStr != "" {
		v, err := strconv.Atoi(pageStr)
		if err != nil || v < 1 {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "page inválida", nil)
			return
		}
		page = v
	}

	list := h.sales.listFor(query, parseBool(q.Get("reset")))

	var (
		res paging.Result[model.Sale]
		err error
	)
	if page == 0 {
		res, err = list.LoadNext(r.Context())
	} else {
		res, err = list.LoadMore(r.Context(), page)
	}
	if err != nil {
		WriteRemoteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, newPageBody(res.Items, res.Pagination))
}

// CreateSale registra a venda e recarrega a listagem; não há atualização otimista.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var in model.SaleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}
	if err := validateSaleInput(&in, httpmiddleware.GetOrganizations(r.Context())); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}

	sale, err := h.backend.CreateSale(r.Context(), in)
	if err != nil {
		h.toasts.Error("Falha ao registrar venda", userMessage(err))
		WriteRemoteError(w, err)
		return
	}

	h.sales.reset()
	h.toasts.Success("Venda registrada", "Fogão "+sale.StoveSerialNo+" marcado como vendido")
	WriteJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

// DeleteSale remove uma venda.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "id obrigatório", nil)
		return
	}

	if err := h.backend.DeleteSale(r.Context(), id); err != nil {
		h.toasts.Error("Falha ao excluir venda", userMessage(err))
		WriteRemoteError(w, err)
		return
	}

	h.sales.reset()
	h.toasts.Success("Venda excluída", "")
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

func validateSaleInput(in *model.SaleInput, selection []string) error {
	in.StoveSerialNo = strings.TrimSpace(in.StoveSerialNo)
	in.EndUserName = strings.TrimSpace(in.EndUserName)
	if err := util.RequireString(in.StoveSerialNo, "stove_serial_no"); err != nil {
		return err
	}
	if err := util.RequireString(in.EndUserName, "end_user_name"); err != nil {
		return err
	}
	if in.Amount < 0 {
		return errAmount
	}
	if in.Phone != "" {
		in.Phone = util.NormalizePhone(in.Phone)
	}
	if in.OrganizationID == "" && len(selection) == 1 {
		in.OrganizationID = selection[0]
	}
	if in.OrganizationID != "" && len(selection) > 0 {
		for _, id := range selection {
			if id == in.OrganizationID {
				return nil
			}
		}
		return errOutsideScope
	}
	return nil
}
