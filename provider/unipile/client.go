// Package unipile implements the provider.Client capability set against the
// Unipile REST API. One Client serves every sender account; the account id is
// passed per call, and a process-wide pacer keeps request bursts below the
// vendor's throttling threshold.
package unipile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/reachforge/outreach/provider"
)

const (
	// Name identifies this provider in errors and logs.
	Name = "unipile"

	// DefaultRequestsPerMinute is the pacing budget applied when Options does
	// not specify one. Unipile throttles around 60 rpm per API key.
	DefaultRequestsPerMinute = 30
)

type (
	// Options configures a Client.
	Options struct {
		// BaseURL is the API root, for example "https://api.unipile.example:13443/api/v1".
		BaseURL string

		// APIKey authenticates every request.
		APIKey string

		// HTTPClient overrides the default client, useful for tests.
		HTTPClient *http.Client

		// RequestsPerMinute overrides the pacing budget.
		RequestsPerMinute float64
	}

	// Client calls the Unipile API. Safe for concurrent use.
	Client struct {
		base string
		key  string
		http *http.Client
		pace *rate.Limiter
	}

	apiError struct {
		Type            string `json:"type"`
		Title           string `json:"title"`
		Detail          string `json:"detail"`
		RetryAfterHours int    `json:"retry_after_hours"`
	}

	profilePayload struct {
		PublicIdentifier string              `json:"public_identifier"`
		FullName         *string             `json:"full_name"`
		Headline         *string             `json:"headline"`
		Location         *string             `json:"location"`
		ProfilePicture   *string             `json:"profile_picture_url"`
		JobTitle         *string             `json:"job_title"`
		CompanyName      *string             `json:"company_name"`
		CompanyID        *string             `json:"company_id"`
		CompanyDomain    *string             `json:"company_domain"`
		CompanySize      *string             `json:"company_size"`
		CompanyIndustry  *string             `json:"company_industry"`
		Experience       []provider.Position `json:"work_experience"`
		Education        []provider.School   `json:"education"`
	}

	companyPayload struct {
		PublicIdentifier string  `json:"public_identifier"`
		Name             *string `json:"name"`
		Tagline          *string `json:"tagline"`
		Description      *string `json:"description"`
		Website          *string `json:"website"`
		Industry         *string `json:"industry"`
		EmployeeRange    *string `json:"employee_range"`
		EmployeeCount    *int    `json:"employee_count"`
		FollowersCount   *int    `json:"followers_count"`
		HQCity           *string `json:"headquarters_city"`
		HQCountry        *string `json:"headquarters_country"`
		LogoURL          *string `json:"logo_url"`
	}

	postPayload struct {
		ID       string    `json:"id"`
		Text     string    `json:"text"`
		ShareURL string    `json:"share_url"`
		PostedAt time.Time `json:"posted_at"`
	}

	postListPayload struct {
		Items []postPayload `json:"items"`
	}

	invitePayload struct {
		InvitationID string `json:"invitation_id"`
	}

	relationPayload struct {
		Status string `json:"status"`
	}
)

var _ provider.Client = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("unipile: base URL is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("unipile: API key is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	return &Client{
		base: strings.TrimSuffix(opts.BaseURL, "/"),
		key:  opts.APIKey,
		http: hc,
		pace: rate.NewLimiter(rate.Limit(rpm/60.0), 5),
	}, nil
}

// do performs one paced, authenticated request and decodes the response body
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := c.pace.Wait(ctx); err != nil {
		return fmt.Errorf("unipile: %s: %w", op, err)
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unipile: %s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	reqURL := c.base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("unipile: %s: build request: %w", op, err)
	}
	req.Header.Set("X-API-KEY", c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.NewError(Name, op, 0, provider.KindUnavailable, "", "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(Name, op, resp.StatusCode, provider.KindUnavailable, "", "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapError(op, resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unipile: %s: decode response: %w", op, err)
		}
	}
	return nil
}

// mapError converts an HTTP error response into a classified provider.Error.
func mapError(op string, status int, retryAfterHdr string, body []byte) *provider.Error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Detail
	if msg == "" {
		msg = ae.Title
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	kind := provider.KindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = provider.KindAuth
	case status == http.StatusNotFound:
		kind = provider.KindNotFound
	case status == http.StatusTooManyRequests:
		kind = provider.KindRateLimited
	case status == http.StatusUnprocessableEntity && isQuotaType(ae.Type):
		kind = provider.KindQuota
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = provider.KindInvalidRequest
	case status >= 500:
		kind = provider.KindUnavailable
	}

	perr := provider.NewError(Name, op, status, kind, ae.Type, msg, nil)
	switch kind {
	case provider.KindQuota:
		hours := ae.RetryAfterHours
		if hours <= 0 {
			hours = 24
		}
		perr.WithRetryAfter(time.Duration(hours) * time.Hour)
	case provider.KindRateLimited:
		if secs, err := strconv.Atoi(retryAfterHdr); err == nil && secs > 0 {
			perr.WithRetryAfter(time.Duration(secs) * time.Second)
		}
	}
	return perr
}

func isQuotaType(t string) bool {
	switch t {
	case "limit_reached", "weekly_limit_reached", "daily_limit_reached", "provider_limit":
		return true
	}
	return false
}

func accountQuery(accountID string) url.Values {
	return url.Values{"account_id": []string{accountID}}
}

// GetProfile fetches a person's profile snapshot.
func (c *Client) GetProfile(ctx context.Context, accountID, identifier string) (*provider.Profile, error) {
	var p profilePayload
	path := "/users/" + url.PathEscape(identifier)
	if err := c.do(ctx, "get_profile", http.MethodGet, path, accountQuery(accountID), nil, &p); err != nil {
		return nil, err
	}
	id := p.PublicIdentifier
	if id == "" {
		id = identifier
	}
	return &provider.Profile{
		Identifier:      id,
		FullName:        p.FullName,
		Headline:        p.Headline,
		Location:        p.Location,
		ProfileImageURL: p.ProfilePicture,
		JobTitle:        p.JobTitle,
		CompanyName:     p.CompanyName,
		CompanyID:       p.CompanyID,
		CompanyDomain:   p.CompanyDomain,
		CompanySize:     p.CompanySize,
		CompanyIndustry: p.CompanyIndustry,
		Experience:      p.Experience,
		Education:       p.Education,
	}, nil
}

// GetCompany fetches a company page snapshot.
func (c *Client) GetCompany(ctx context.Context, accountID, identifier string) (*provider.Company, error) {
	var p companyPayload
	path := "/companies/" + url.PathEscape(identifier)
	if err := c.do(ctx, "get_company", http.MethodGet, path, accountQuery(accountID), nil, &p); err != nil {
		return nil, err
	}
	id := p.PublicIdentifier
	if id == "" {
		id = identifier
	}
	return &provider.Company{
		Identifier:     id,
		Name:           p.Name,
		Tagline:        p.Tagline,
		Description:    p.Description,
		Website:        p.Website,
		Industry:       p.Industry,
		EmployeeRange:  p.EmployeeRange,
		EmployeeCount:  p.EmployeeCount,
		FollowersCount: p.FollowersCount,
		HQCity:         p.HQCity,
		HQCountry:      p.HQCountry,
		LogoURL:        p.LogoURL,
	}, nil
}

// RecentPosts lists the newest posts authored by the profile or company,
// newest first.
func (c *Client) RecentPosts(ctx context.Context, accountID, identifier string, limit int) ([]provider.Post, error) {
	q := accountQuery(accountID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list postListPayload
	path := "/users/" + url.PathEscape(identifier) + "/posts"
	if err := c.do(ctx, "recent_posts", http.MethodGet, path, q, nil, &list); err != nil {
		return nil, err
	}
	posts := make([]provider.Post, 0, len(list.Items))
	for _, it := range list.Items {
		posts = append(posts, provider.Post(it))
	}
	return posts, nil
}

// GetPost fetches one post by id.
func (c *Client) GetPost(ctx context.Context, accountID, postID string) (*provider.Post, error) {
	var p postPayload
	path := "/posts/" + url.PathEscape(postID)
	if err := c.do(ctx, "get_post", http.MethodGet, path, accountQuery(accountID), nil, &p); err != nil {
		return nil, err
	}
	post := provider.Post(p)
	return &post, nil
}

// SendInvitation sends a connection request. A provider response reporting an
// existing first-degree relation is returned as AlreadyConnected, not as an
// error.
func (c *Client) SendInvitation(ctx context.Context, accountID, identifier, message string) (*provider.Invitation, error) {
	body := map[string]string{
		"account_id":  accountID,
		"provider_id": identifier,
	}
	if message != "" {
		body["message"] = message
	}
	var inv invitePayload
	err := c.do(ctx, "send_invitation", http.MethodPost, "/users/invite", nil, body, &inv)
	if err != nil {
		if pe, ok := provider.AsError(err); ok && pe.Code() == "already_connected" {
			return &provider.Invitation{AlreadyConnected: true}, nil
		}
		return nil, err
	}
	return &provider.Invitation{ID: inv.InvitationID}, nil
}

// InvitationStatus reports the current state of a sent invitation. Unknown
// provider statuses map to pending so pollers keep waiting rather than
// branching on a misread.
func (c *Client) InvitationStatus(ctx context.Context, accountID, identifier, invitationID string) (provider.RelationState, error) {
	var rel relationPayload
	path := "/users/invite/" + url.PathEscape(invitationID)
	q := accountQuery(accountID)
	q.Set("provider_id", identifier)
	if err := c.do(ctx, "invitation_status", http.MethodGet, path, q, nil, &rel); err != nil {
		return "", err
	}
	switch strings.ToLower(rel.Status) {
	case "accepted", "connected":
		return provider.RelationAccepted, nil
	case "rejected", "declined", "withdrawn":
		return provider.RelationRejected, nil
	default:
		return provider.RelationPending, nil
	}
}

// WithdrawInvitation cancels a pending invitation.
func (c *Client) WithdrawInvitation(ctx context.Context, accountID, invitationID string) error {
	path := "/users/invite/" + url.PathEscape(invitationID)
	return c.do(ctx, "withdraw_invitation", http.MethodDelete, path, accountQuery(accountID), nil, nil)
}

// SendMessage sends a direct message to a first-degree connection.
func (c *Client) SendMessage(ctx context.Context, accountID, identifier, text string) error {
	body := map[string]any{
		"account_id":    accountID,
		"attendees_ids": []string{identifier},
		"text":          text,
	}
	return c.do(ctx, "send_message", http.MethodPost, "/chats", nil, body, nil)
}

// SendInMail sends an InMail to a profile outside the account's network.
func (c *Client) SendInMail(ctx context.Context, accountID, identifier, subject, bodyText string) error {
	body := map[string]string{
		"account_id":  accountID,
		"provider_id": identifier,
		"subject":     subject,
		"text":        bodyText,
	}
	return c.do(ctx, "send_inmail", http.MethodPost, "/inmails", nil, body, nil)
}

// LikePost adds a reaction to a post. reaction defaults to "like" when empty.
func (c *Client) LikePost(ctx context.Context, accountID, postID, reaction string) error {
	if reaction == "" {
		reaction = "like"
	}
	body := map[string]string{
		"account_id":    accountID,
		"reaction_type": reaction,
	}
	path := "/posts/" + url.PathEscape(postID) + "/reaction"
	return c.do(ctx, "like_post", http.MethodPost, path, nil, body, nil)
}

// CommentPost adds a comment to a post.
func (c *Client) CommentPost(ctx context.Context, accountID, postID, text string) error {
	body := map[string]string{
		"account_id": accountID,
		"text":       text,
	}
	path := "/posts/" + url.PathEscape(postID) + "/comment"
	return c.do(ctx, "comment_post", http.MethodPost, path, nil, body, nil)
}

// VisitProfile registers a profile view on behalf of the sender account.
func (c *Client) VisitProfile(ctx context.Context, accountID, identifier string) error {
	body := map[string]string{"account_id": accountID}
	path := "/users/" + url.PathEscape(identifier) + "/visit"
	return c.do(ctx, "visit_profile", http.MethodPost, path, nil, body, nil)
}
