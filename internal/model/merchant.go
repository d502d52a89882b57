package model

import "time"

// MerchantCategoryStat aggregates feedback for one merchant and category.
type MerchantCategoryStat struct {
	LastUpdated time.Time `json:"last_updated"`
	Merchant    string    `json:"merchant_canonical"`
	Category    string    `json:"category"`
	AcceptCount int       `json:"accept_count"`
	RejectCount int       `json:"reject_count"`
}

// Support is the number of observations behind the stat.
func (s *MerchantCategoryStat) Support() int {
	return s.AcceptCount + s.RejectCount
}

// Share is the accept ratio, 0 when there are no observations.
func (s *MerchantCategoryStat) Share() float64 {
	support := s.Support()
	if support == 0 {
		return 0
	}
	return float64(s.AcceptCount) / float64(support)
}

// MerchantCategoryHint is a promoted merchant -> category mapping. It outranks
// merchant statistics but never an explicit user rule.
type MerchantCategoryHint struct {
	PromotedAt time.Time `json:"promoted_at"`
	Merchant   string    `json:"merchant_canonical"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Support    int       `json:"support"`
}
