package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/vipul43/kiwis-outreach/internal/apperr"
	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

type userQuery struct {
	UserID string `json:"user_id" validate:"required"`
}

type pageQuery struct {
	UserID string `json:"user_id" validate:"required"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Offset int    `json:"offset" validate:"gte=0"`
}

type uploadForm struct {
	UserID string `json:"user_id" validate:"required"`
}

type sendRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	ContactID   string `json:"contact_id" validate:"required"`
	MessageBody string `json:"message_body" validate:"required"`
	StrategyTag string `json:"strategy_tag" validate:"required"`
}

type swipeRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	OutreachID string `json:"outreach_id" validate:"required"`
	Outcome    string `json:"outcome" validate:"required,oneof=REPLIED GHOSTED BOUNCED"`
}

type connectRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

func (s *Server) userID(r *http.Request) (string, error) {
	q := userQuery{UserID: r.URL.Query().Get("user_id")}
	if err := s.check(q); err != nil {
		return "", err
	}
	return q.UserID, nil
}

func (s *Server) page(r *http.Request) (pageQuery, error) {
	q := pageQuery{UserID: r.URL.Query().Get("user_id")}
	var err error
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		return q, err
	}
	return q, s.check(q)
}

// handleUpload imports a LinkedIn connections CSV and starts enrichment
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, apperr.Validation("invalid upload: %v", err))
		return
	}

	form := uploadForm{UserID: r.FormValue("user_id")}
	if err := s.check(form); err != nil {
		writeError(w, r, err)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	result, err := s.svc.Ingestor.Upload(r.Context(), form.UserID, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	progress, err := s.svc.Jobs.Poll(r.Context(), userID, chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	q, err := s.page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.svc.Outreach.ListContacts(r.Context(), q.UserID, q.Limit, q.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	contactID := chi.URLParam(r, "id")
	if err := s.svc.Outreach.Archive(r.Context(), userID, contactID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contact_id": contactID, "status": models.ContactStatusArchived})
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	q, err := s.page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.svc.Outreach.ListDrafts(r.Context(), q.UserID, q.Limit, q.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.svc.Outreach.Send(r.Context(), service.SendRequest{
		UserID:      body.UserID,
		ContactID:   body.ContactID,
		MessageBody: body.MessageBody,
		StrategyTag: models.StrategyTag(body.StrategyTag),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleFeedbackQueue(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := s.svc.Feedback.ListPending(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []service.FeedbackItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": items})
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	var body swipeRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.svc.Feedback.RecordOutcome(r.Context(), body.UserID, body.OutreachID, models.Outcome(body.Outcome)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAutoDetect(w http.ResponseWriter, r *http.Request) {
	var body userQuery
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.svc.Feedback.ScanForReplies(r.Context(), body.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var errMailDisabled = apperr.Validation("mail provider is not configured")

func (s *Server) handleMailStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	connected := false
	if s.svc.Mail != nil {
		if connected, err = s.svc.Mail.Status(r.Context(), userID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

func (s *Server) handleMailConnect(w http.ResponseWriter, r *http.Request) {
	var body connectRequest
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if s.svc.Mail == nil {
		writeError(w, r, errMailDisabled)
		return
	}

	authURL, err := s.svc.Mail.Connect(r.Context(), body.UserID, body.CallbackURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_url": authURL})
}

// handleMailCallback is the OAuth redirect target. It bounces the browser
// back to the app when one was given at connect time.
func (s *Server) handleMailCallback(w http.ResponseWriter, r *http.Request) {
	if s.svc.Mail == nil {
		writeError(w, r, errMailDisabled)
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, r, apperr.Validation("authorization denied: %s", reason))
		return
	}

	callbackURL, err := s.svc.Mail.Callback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if callbackURL == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
		return
	}
	target, err := url.Parse(callbackURL)
	if err != nil {
		writeError(w, r, errors.New("stored callback URL is invalid"))
		return
	}
	params := target.Query()
	params.Set("mail", "connected")
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleMailDisconnect(w http.ResponseWriter, r *http.Request) {
	var body userQuery
	if err := s.decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if s.svc.Mail == nil {
		writeError(w, r, errMailDisabled)
		return
	}

	if err := s.svc.Mail.Disconnect(r.Context(), body.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dashboard, err := s.svc.Analytics.Dashboard(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}
