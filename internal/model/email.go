package model

import "time"

// Email is an immutable inbound record. Ingestion creates it; the pipeline
// only ever sets Category, IsCustomerService and Processed.
type Email struct {
	ID                int64     `json:"id"`
	Sender            string    `json:"sender"`
	SenderName        *string   `json:"sender_name,omitempty"`
	Recipient         string    `json:"recipient"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"received_at"`
	Category          *string   `json:"category,omitempty"`
	IsCustomerService bool      `json:"is_customer_service"`
	Processed         bool      `json:"processed"`
}

// Content returns the text the match engine and classifier look at.
func (e *Email) Content() string {
	return e.Subject + "\n\n" + e.Body
}

// Known classification categories. The classifier may only answer with one
// of these; "non-customer-service" maps to a nil Category.
const (
	CategoryEquipmentFault      = "equipment-fault"
	CategoryRefundCancellation  = "refund-cancellation"
	CategoryPriceInquiry        = "price-inquiry"
	CategoryTechnicalSupport    = "technical-support"
	CategoryLogisticsIssue      = "logistics-issue"
	CategoryComplaintSuggestion = "complaint-suggestion"
	CategoryOther               = "other"
)
