package gmail

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/vipul43/kiwis-outreach/internal/service"
)

const (
	ProviderID = "google"

	authURL  = "https://accounts.google.com/o/oauth2/auth"
	tokenURL = "https://oauth2.googleapis.com/token"

	maxReplyCandidates = 5 // messages inspected per reply check
)

type Client struct {
	config *oauth2.Config
}

func NewClient(clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
	}
}

func (c *Client) ProviderID() string {
	return ProviderID
}

// AuthCodeURL returns the consent page URL. Offline access with forced
// consent makes Google issue a refresh token on every connect.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens and looks up the mailbox address
func (c *Client) Exchange(ctx context.Context, code string) (*service.TokenResult, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	result := &service.TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		result.Scope = scope
	}

	gmailService, err := c.newService(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	profile, err := gmailService.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		log.Printf("Warning: failed to get mailbox profile: %v", err)
	} else {
		result.EmailAddress = profile.EmailAddress
	}

	return result, nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenRefreshResult, error) {
	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	// Refresh the token
	tokenSource := c.config.TokenSource(ctx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &service.TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken // Keep the same refresh token
	}

	log.Printf("Token refreshed successfully, expires at: %s", result.ExpiresAt)

	return result, nil
}

// HasReplySince reports whether the mailbox received a message from the
// contact after q.After
func (c *Client) HasReplySince(ctx context.Context, accessToken string, q service.ReplyQuery) (bool, error) {
	query := BuildReplyQuery(q)
	if query == "" {
		return false, nil
	}

	gmailService, err := c.newService(ctx, accessToken)
	if err != nil {
		return false, err
	}

	listResp, err := gmailService.Users.Messages.List("me").Q(query).MaxResults(maxReplyCandidates).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range listResp.Messages {
		full, err := gmailService.Users.Messages.Get("me", msg.Id).
			Format("metadata").
			MetadataHeaders("From", "Date").
			Context(ctx).
			Do()
		if err != nil {
			log.Printf("Warning: failed to get message %s: %v", msg.Id, err)
			continue
		}

		header := parseHeader(full)
		if header.ReceivedAt.After(q.After) && MatchesSender(header.From, q) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) newService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	gmailService, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return gmailService, nil
}

// BuildReplyQuery builds the Gmail search for messages from the contact.
// Gmail's after: operator takes epoch seconds.
func BuildReplyQuery(q service.ReplyQuery) string {
	var from string
	switch {
	case strings.TrimSpace(q.Email) != "":
		from = "from:" + strings.TrimSpace(q.Email)
	case strings.TrimSpace(q.FullName) != "":
		from = fmt.Sprintf("from:%q", strings.TrimSpace(q.FullName))
	default:
		return ""
	}
	return fmt.Sprintf("%s after:%d -in:sent -in:chats", from, q.After.Unix())
}

// MatchesSender checks a From header against the contact, since name
// searches can match other senders
func MatchesSender(fromHeader string, q service.ReplyQuery) bool {
	from := strings.ToLower(fromHeader)
	if email := strings.ToLower(strings.TrimSpace(q.Email)); email != "" {
		return strings.Contains(from, email)
	}
	name := strings.ToLower(strings.Join(strings.Fields(q.FullName), " "))
	return name != "" && strings.Contains(from, name)
}

type messageHeader struct {
	From       string
	ReceivedAt time.Time
}

// parseHeader extracts the sender and the receive time, preferring Gmail's
// internal date over the Date header
func parseHeader(msg *gmail.Message) messageHeader {
	var h messageHeader
	if msg.InternalDate > 0 {
		h.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}
	if msg.Payload == nil {
		return h
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "From":
			h.From = header.Value
		case "Date":
			if !h.ReceivedAt.IsZero() {
				continue
			}
			parsedDate, err := parseEmailDate(header.Value)
			if err != nil {
				log.Printf("Warning: failed to parse date '%s': %v", header.Value, err)
			} else {
				h.ReceivedAt = parsedDate
			}
		}
	}
	return h
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	// Common email date formats
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	// Clean up the date string
	dateStr = strings.TrimSpace(dateStr)

	// Remove timezone name in parentheses (e.g., "(UTC)", "(PST)")
	// Gmail sometimes adds this after the numeric offset
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
