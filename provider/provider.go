// Package provider defines the capability surface the platform needs from the
// social-network API: profile and company reads, recent-post listings, and the
// outreach actions campaign steps execute. Implementations live in
// subpackages (unipile); workflows never import this package directly, only
// activities do.
package provider

import (
	"context"
	"net/url"
	"strings"
	"time"
)

type (
	// Profile is a point-in-time snapshot of a person's observable fields.
	// Nullable fields are pointers so the change detector can distinguish
	// "absent" from "empty".
	Profile struct {
		Identifier      string     `json:"identifier"`
		FullName        *string    `json:"full_name"`
		Headline        *string    `json:"headline"`
		Location        *string    `json:"location"`
		ProfileImageURL *string    `json:"profile_image_url"`
		JobTitle        *string    `json:"job_title"`
		CompanyName     *string    `json:"company_name"`
		CompanyID       *string    `json:"company_id"`
		CompanyDomain   *string    `json:"company_domain"`
		CompanySize     *string    `json:"company_size"`
		CompanyIndustry *string    `json:"company_industry"`
		Experience      []Position `json:"experience,omitempty"`
		Education       []School   `json:"education,omitempty"`
	}

	// Position is one experience entry on a profile.
	Position struct {
		Title   string `json:"title"`
		Company string `json:"company"`
		Start   string `json:"start,omitempty"`
		End     string `json:"end,omitempty"`
	}

	// School is one education entry on a profile.
	School struct {
		School string `json:"school"`
		Degree string `json:"degree,omitempty"`
		Start  string `json:"start,omitempty"`
		End    string `json:"end,omitempty"`
	}

	// Company is a point-in-time snapshot of a company page.
	Company struct {
		Identifier     string  `json:"identifier"`
		Name           *string `json:"name"`
		Tagline        *string `json:"tagline"`
		Description    *string `json:"description"`
		Website        *string `json:"website"`
		Industry       *string `json:"industry"`
		EmployeeRange  *string `json:"employee_range"`
		EmployeeCount  *int    `json:"employee_count"`
		FollowersCount *int    `json:"followers_count"`
		HQCity         *string `json:"hq_city"`
		HQCountry      *string `json:"hq_country"`
		LogoURL        *string `json:"logo_url"`
	}

	// Post is a social post authored by a monitored person or company.
	Post struct {
		ID       string    `json:"id"`
		Text     string    `json:"text"`
		ShareURL string    `json:"share_url,omitempty"`
		PostedAt time.Time `json:"posted_at"`
	}

	// Invitation is the result of sending a connection request. Exactly one of
	// ID and AlreadyConnected is meaningful: the provider either issued an
	// invitation or reported an existing first-degree relation.
	Invitation struct {
		ID               string `json:"id,omitempty"`
		AlreadyConnected bool   `json:"already_connected,omitempty"`
	}

	// RelationState is the provider's view of a pending invitation.
	RelationState string

	// Client is the full capability set the activities use. All methods honor
	// ctx cancellation and return *Error for provider-reported failures so
	// callers can classify them.
	Client interface {
		GetProfile(ctx context.Context, accountID, identifier string) (*Profile, error)
		GetCompany(ctx context.Context, accountID, identifier string) (*Company, error)
		RecentPosts(ctx context.Context, accountID, identifier string, limit int) ([]Post, error)
		GetPost(ctx context.Context, accountID, postID string) (*Post, error)
		SendInvitation(ctx context.Context, accountID, identifier, message string) (*Invitation, error)
		InvitationStatus(ctx context.Context, accountID, identifier, invitationID string) (RelationState, error)
		WithdrawInvitation(ctx context.Context, accountID, invitationID string) error
		SendMessage(ctx context.Context, accountID, identifier, text string) error
		SendInMail(ctx context.Context, accountID, identifier, subject, body string) error
		LikePost(ctx context.Context, accountID, postID, reaction string) error
		CommentPost(ctx context.Context, accountID, postID, text string) error
		VisitProfile(ctx context.Context, accountID, identifier string) error
	}
)

const (
	// RelationAccepted means the invitation was accepted.
	RelationAccepted RelationState = "accepted"

	// RelationRejected means the invitation was declined or withdrawn by the
	// recipient.
	RelationRejected RelationState = "rejected"

	// RelationPending means the invitation is still outstanding.
	RelationPending RelationState = "pending"
)

// ParseProfileIdentifier extracts the provider identifier from a profile or
// company URL. It recognizes the /in/<id> and /company/<id> path forms and
// returns false for anything else. The parse is deterministic: the same URL
// always yields the same identifier.
func ParseProfileIdentifier(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if s != "in" && s != "company" {
			continue
		}
		if i+1 >= len(segs) || segs[i+1] == "" {
			return "", false
		}
		return segs[i+1], true
	}
	return "", false
}
