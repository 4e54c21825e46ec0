package lettings

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ApplicationStatus is the lifecycle state of a tenancy application
type ApplicationStatus string

const (
	StatusDraft       ApplicationStatus = "draft"
	StatusSubmitted   ApplicationStatus = "submitted"
	StatusUnderReview ApplicationStatus = "under_review"
	StatusReferencing ApplicationStatus = "referencing"
	StatusApproved    ApplicationStatus = "approved"
	StatusRejected    ApplicationStatus = "rejected"
	StatusWithdrawn   ApplicationStatus = "withdrawn"
	StatusUnknown     ApplicationStatus = "unknown"
)

var statusAliases = map[string]ApplicationStatus{
	"draft":        StatusDraft,
	"new":          StatusDraft,
	"in_progress":  StatusDraft,
	"submitted":    StatusSubmitted,
	"pending":      StatusSubmitted,
	"under_review": StatusUnderReview,
	"in_review":    StatusUnderReview,
	"reviewing":    StatusUnderReview,
	"referencing":  StatusReferencing,
	"references":   StatusReferencing,
	"approved":     StatusApproved,
	"accepted":     StatusApproved,
	"rejected":     StatusRejected,
	"declined":     StatusRejected,
	"withdrawn":    StatusWithdrawn,
	"cancelled":    StatusWithdrawn,
	"canceled":     StatusWithdrawn,
}

// ParseApplicationStatus maps the status spellings used across API versions.
// Case, spaces and dashes are ignored; anything unrecognised is StatusUnknown.
func ParseApplicationStatus(s string) ApplicationStatus {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if st, ok := statusAliases[key]; ok {
		return st
	}
	return StatusUnknown
}

// Editable reports whether the applicant may still change the application
func (s ApplicationStatus) Editable() bool {
	return s == StatusDraft
}

// ViewingStatus is the applicant's answer to a viewing invite
type ViewingStatus string

const (
	ViewingPending  ViewingStatus = "pending"
	ViewingAccepted ViewingStatus = "accepted"
	ViewingDeclined ViewingStatus = "declined"
	ViewingExpired  ViewingStatus = "expired"
	ViewingUnknown  ViewingStatus = "unknown"
)

// ParseViewingStatus maps viewing status spellings; unrecognised values are ViewingUnknown
func ParseViewingStatus(s string) ViewingStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "invited", "open", "":
		return ViewingPending
	case "accepted", "confirmed", "booked":
		return ViewingAccepted
	case "declined", "rejected":
		return ViewingDeclined
	case "expired", "closed":
		return ViewingExpired
	}
	return ViewingUnknown
}

// Property is a rental listing
type Property struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Address       string    `json:"address"`
	City          string    `json:"city"`
	Postcode      string    `json:"postcode"`
	RentPCM       int       `json:"rent_pcm"`
	Deposit       int       `json:"deposit,omitempty"`
	Bedrooms      int       `json:"bedrooms"`
	Bathrooms     int       `json:"bathrooms"`
	PropertyType  string    `json:"property_type"`
	Furnished     bool      `json:"furnished"`
	AvailableFrom time.Time `json:"available_from"`
	Images        []string  `json:"images,omitempty"`
	AgentName     string    `json:"agent_name,omitempty"`
}

// PropertySearch filters a property search. Zero fields are not sent.
type PropertySearch struct {
	Location     string
	MinRent      int
	MaxRent      int
	MinBedrooms  int
	PropertyType string
	Furnished    *bool
	Page         int
	PageSize     int
}

// Values encodes the search as query parameters
func (s PropertySearch) Values() url.Values {
	v := url.Values{}
	setString := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	setInt := func(k string, val int) {
		if val > 0 {
			v.Set(k, strconv.Itoa(val))
		}
	}
	setString("location", s.Location)
	setInt("min_rent", s.MinRent)
	setInt("max_rent", s.MaxRent)
	setInt("min_bedrooms", s.MinBedrooms)
	setString("property_type", s.PropertyType)
	if s.Furnished != nil {
		v.Set("furnished", strconv.FormatBool(*s.Furnished))
	}
	setInt("page", s.Page)
	setInt("page_size", s.PageSize)
	return v
}

// Page is one page of a listing
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// HasMore reports whether later pages exist
func (p *Page[T]) HasMore() bool {
	return p.Page*p.PageSize < p.Total
}

// Applicant is the person applying for a tenancy
type Applicant struct {
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	DateOfBirth  time.Time `json:"date_of_birth"`
	Employer     string    `json:"employer,omitempty"`
	JobTitle     string    `json:"job_title,omitempty"`
	AnnualIncome int       `json:"annual_income,omitempty"`
}

// Guarantor backs an applicant's rent
type Guarantor struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	AnnualIncome int    `json:"annual_income,omitempty"`
}

// ReferenceKind says who gives a reference
type ReferenceKind string

const (
	ReferenceLandlord ReferenceKind = "landlord"
	ReferenceEmployer ReferenceKind = "employer"
)

// Reference is a landlord or employer reference request
type Reference struct {
	ID          string        `json:"id,omitempty"`
	Kind        ReferenceKind `json:"kind"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone,omitempty"`
	Company     string        `json:"company,omitempty"`
	Status      string        `json:"status,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Document is a file attached to an application
type Document struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Application is a tenancy application for one property
type Application struct {
	ID          string            `json:"id"`
	PropertyID  string            `json:"property_id"`
	Status      ApplicationStatus `json:"status"`
	Step        int               `json:"step"`
	Applicant   Applicant         `json:"applicant"`
	Guarantor   *Guarantor        `json:"guarantor,omitempty"`
	References  []Reference       `json:"references,omitempty"`
	Documents   []Document        `json:"documents,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// ViewingSlot is a time window offered for a viewing
type ViewingSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ViewingInvite is an invitation to view a property
type ViewingInvite struct {
	ID         string        `json:"id"`
	PropertyID string        `json:"property_id"`
	Address    string        `json:"address,omitempty"`
	Status     ViewingStatus `json:"status"`
	Slots      []ViewingSlot `json:"slots"`
	Chosen     *ViewingSlot  `json:"chosen,omitempty"`
	Message    string        `json:"message,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ChatMessage is one message of a conversation with an agent
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// InboxEmail is a message in the applicant's inbox
type InboxEmail struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Preview    string    `json:"preview,omitempty"`
	Read       bool      `json:"read"`
	ReceivedAt time.Time `json:"received_at"`
}
