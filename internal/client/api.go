// Package client talks to the outreach API and implements the client side of
// job polling, optimistic feedback swipes and duplicate-safe sends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// errorBody mirrors the server's error response
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  string `json:"code"`
}

// Upload sends a connections CSV for import
func (a *API) Upload(ctx context.Context, userID, filename string, file io.Reader) (*service.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("user_id", userID); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	var result service.UploadResult
	if err := a.do(ctx, "POST", "/ingest/upload", mw.FormDataContentType(), &buf, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *API) JobStatus(ctx context.Context, userID, jobID string) (*service.JobProgress, error) {
	var progress service.JobProgress
	path := "/ingest/status/" + url.PathEscape(jobID) + "?" + url.Values{"user_id": {userID}}.Encode()
	if err := a.getJSON(ctx, path, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (a *API) ListContacts(ctx context.Context, userID string, limit, offset int) (*service.ContactPage, error) {
	var page service.ContactPage
	if err := a.getJSON(ctx, "/contacts/list?"+pageQuery(userID, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) ListDrafts(ctx context.Context, userID string, limit, offset int) (*service.DraftPage, error) {
	var page service.DraftPage
	if err := a.getJSON(ctx, "/feed/drafts?"+pageQuery(userID, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) Archive(ctx context.Context, userID, contactID string) error {
	path := "/contacts/" + url.PathEscape(contactID) + "/archive?" + url.Values{"user_id": {userID}}.Encode()
	return a.do(ctx, "POST", path, "", nil, nil)
}

func (a *API) Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error) {
	var result service.SendResult
	err := a.postJSON(ctx, "/action/send", map[string]string{
		"user_id":      req.UserID,
		"contact_id":   req.ContactID,
		"message_body": req.MessageBody,
		"strategy_tag": string(req.StrategyTag),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *API) FeedbackQueue(ctx context.Context, userID string) ([]service.FeedbackItem, error) {
	var resp struct {
		Pending []service.FeedbackItem `json:"pending"`
	}
	if err := a.getJSON(ctx, "/feedback/queue?"+url.Values{"user_id": {userID}}.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

func (a *API) Swipe(ctx context.Context, userID, outreachID string, outcome models.Outcome) error {
	return a.postJSON(ctx, "/feedback/swipe", map[string]string{
		"user_id":     userID,
		"outreach_id": outreachID,
		"outcome":     string(outcome),
	}, nil)
}

func (a *API) AutoDetect(ctx context.Context, userID string) (*service.ScanResult, error) {
	var result service.ScanResult
	if err := a.postJSON(ctx, "/feedback/auto-detect", map[string]string{"user_id": userID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *API) MailStatus(ctx context.Context, userID string) (bool, error) {
	var resp struct {
		Connected bool `json:"connected"`
	}
	if err := a.getJSON(ctx, "/mail/status?"+url.Values{"user_id": {userID}}.Encode(), &resp); err != nil {
		return false, err
	}
	return resp.Connected, nil
}

// MailConnect returns the provider consent URL to open in a browser
func (a *API) MailConnect(ctx context.Context, userID, callbackURL string) (string, error) {
	var resp struct {
		RedirectURL string `json:"redirect_url"`
	}
	err := a.postJSON(ctx, "/mail/connect", map[string]string{"user_id": userID, "callback_url": callbackURL}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RedirectURL, nil
}

func (a *API) MailDisconnect(ctx context.Context, userID string) error {
	return a.postJSON(ctx, "/mail/disconnect", map[string]string{"user_id": userID}, nil)
}

func (a *API) Dashboard(ctx context.Context, userID string) (*service.Dashboard, error) {
	var d service.Dashboard
	if err := a.getJSON(ctx, "/analytics/dashboard?"+url.Values{"user_id": {userID}}.Encode(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func pageQuery(userID string, limit, offset int) string {
	return url.Values{
		"user_id": {userID},
		"limit":   {strconv.Itoa(limit)},
		"offset":  {strconv.Itoa(offset)},
	}.Encode()
}

func (a *API) getJSON(ctx context.Context, path string, out interface{}) error {
	return a.do(ctx, "GET", path, "", nil, out)
}

func (a *API) postJSON(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return a.do(ctx, "POST", path, "application/json", bytes.NewReader(jsonData), out)
}

// do performs one request. Transport failures are transient; error
// responses are decoded back into their apperr kind.
func (a *API) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Transient(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient(err, "failed to read response")
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Kind == "" {
		eb.Error = strings.TrimSpace(string(body))
		eb.Kind = string(kindForStatus(status))
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(status)
	}

	return &apperr.Error{Kind: apperr.Kind(eb.Kind), Code: eb.Code, Message: eb.Error}
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	}
	return apperr.KindTransient
}
