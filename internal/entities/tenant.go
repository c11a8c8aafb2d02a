package entities

import "time"

type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantDisabled TenantStatus = "disabled"
)

// Tenant is one bot credential hosted by the platform.
type Tenant struct {
	ID           int64        `json:"id"`
	Token        string       `json:"-"`
	Name         string       `json:"name"`
	Status       TenantStatus `json:"status"`
	ButtonConfig string       `json:"button_config,omitempty"` // raw JSON blob
	CreatedAt    time.Time    `json:"created_at"`
}

// ButtonConfig holds the link buttons rendered under a bill reply.
type ButtonConfig struct {
	BillText      string `json:"bill_text"`
	BizText       string `json:"biz_text"`
	BizURL        string `json:"biz_url"`
	ComplaintText string `json:"complaint_text"`
	ComplaintURL  string `json:"complaint_url"`
	SupportText   string `json:"support_text"`
	SupportURL    string `json:"support_url"`
}
