package entity

import "time"

// Case is the anchor entity: one long-running administrative request whose
// lifecycle the transition engine governs. Status is only ever written by the
// engine; everything else mutates through the same transactional path.
type Case struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	Substatus        string     `json:"substatus"`
	AgencyID         int64      `json:"agency_id"`
	AgencyEmail      string     `json:"agency_email"`
	PortalURL        string     `json:"portal_url,omitempty"`
	PortalProvider   string     `json:"portal_provider,omitempty"`
	LastPortalStatus string     `json:"last_portal_status,omitempty"`
	FeeQuoteCents    int64      `json:"fee_quote_cents"`
	FeeQuoteStatus   string     `json:"fee_quote_status,omitempty"`
	Priority         int        `json:"priority"`
	Tags             string     `json:"tags,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the case has reached a state with no further
// automated transitions.
func (c *Case) IsTerminal() bool {
	return c.Status == CaseStatusCompleted || c.Status == CaseStatusClosed
}
