package model

import (
	"fmt"
	"time"
)

// Branch é uma filial (sub-organização) de um parceiro.
type Branch struct {
	ID         string `json:"id"`
	BranchName string `json:"branchName"`
	State      string `json:"state"`
}

// OrganizationGroup agrupa filiais sob o mesmo nome base.
type OrganizationGroup struct {
	BaseName        string   `json:"baseName"`
	OrganizationIDs []string `json:"organizationIds"`
	Branches        []Branch `json:"branches"`
	BranchCount     int      `json:"branchCount"`
}

// Validate confere branchCount == len(branches) e organizationIds == ids das filiais.
func (g OrganizationGroup) Validate() error {
	if g.BaseName == "" {
		return fmt.Errorf("grupo sem baseName")
	}
	if g.BranchCount != len(g.Branches) {
		return fmt.Errorf("grupo %q: branchCount %d difere de %d filiais", g.BaseName, g.BranchCount, len(g.Branches))
	}

	branchIDs := make(map[string]struct{}, len(g.Branches))
	for _, b := range g.Branches {
		if b.ID == "" {
			return fmt.Errorf("grupo %q: filial sem id", g.BaseName)
		}
		branchIDs[b.ID] = struct{}{}
	}
	orgIDs := make(map[string]struct{}, len(g.OrganizationIDs))
	for _, id := range g.OrganizationIDs {
		if _, ok := branchIDs[id]; !ok {
			return fmt.Errorf("grupo %q: organizationId %s sem filial", g.BaseName, id)
		}
		orgIDs[id] = struct{}{}
	}
	if len(orgIDs) != len(branchIDs) {
		return fmt.Errorf("grupo %q: organizationIds não cobre todas as filiais", g.BaseName)
	}
	return nil
}

// Clone devolve cópia profunda.
func (g OrganizationGroup) Clone() OrganizationGroup {
	c := g
	c.OrganizationIDs = append([]string(nil), g.OrganizationIDs...)
	c.Branches = append([]Branch(nil), g.Branches...)
	return c
}

// Sale é uma venda registrada por agente ou parceiro.
type Sale struct {
	ID             string    `json:"id"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	StoveSerialNo  string    `json:"stove_serial_no"`
	EndUserName    string    `json:"end_user_name"`
	Phone          string    `json:"phone,omitempty"`
	State          string    `json:"state,omitempty"`
	LGA            string    `json:"lga,omitempty"`
	Amount         float64   `json:"amount"`
	OrganizationID string    `json:"organization_id"`
	PartnerName    string    `json:"partner_name,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	Status         string    `json:"status,omitempty"`
	SalesDate      string    `json:"sales_date,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SaleInput é o payload de criação de venda.
type SaleInput struct {
	StoveSerialNo  string  `json:"stove_serial_no"`
	EndUserName    string  `json:"end_user_name"`
	Phone          string  `json:"phone"`
	State          string  `json:"state"`
	LGA            string  `json:"lga"`
	Amount         float64 `json:"amount"`
	OrganizationID string  `json:"organization_id,omitempty"`
	SalesDate      string  `json:"sales_date"`
}

// StoveID é um fogão do inventário.
type StoveID struct {
	ID             string    `json:"id"`
	StoveID        string    `json:"stove_id"`
	Status         string    `json:"status"`
	OrganizationID string    `json:"organization_id"`
	PartnerName    string    `json:"partner_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Estados do ciclo de vida do fogão.
const (
	StoveAvailable = "available"
	StoveSold      = "sold"
)

// Agent é um usuário vendedor.
type Agent struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardStats agrega números do painel.
type DashboardStats struct {
	TotalSales      int            `json:"total_sales"`
	TotalRevenue    float64        `json:"total_revenue"`
	StovesAvailable int            `json:"stoves_available"`
	StovesSold      int            `json:"stoves_sold"`
	ActiveAgents    int            `json:"active_agents"`
	SalesByState    map[string]int `json:"sales_by_state,omitempty"`
	MonthlySales    []MonthlySales `json:"monthly_sales,omitempty"`
}

// MonthlySales é um ponto do gráfico mensal.
type MonthlySales struct {
	Month  string  `json:"month"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}
