package httpapi

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

const (
	maxUploadBytes = 10 << 20
	requestTimeout = 60 * time.Second
)

type Uploader interface {
	Upload(ctx context.Context, userID string, r io.Reader) (*service.UploadResult, error)
}

type JobPoller interface {
	Poll(ctx context.Context, userID, jobID string) (*service.JobProgress, error)
}

type Outreach interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	Archive(ctx context.Context, userID, contactID string) error
	ListContacts(ctx context.Context, userID string, limit, offset int) (*service.ContactPage, error)
	ListDrafts(ctx context.Context, userID string, limit, offset int) (*service.DraftPage, error)
}

type Feedback interface {
	ListPending(ctx context.Context, userID string) ([]service.FeedbackItem, error)
	RecordOutcome(ctx context.Context, userID, outreachID string, outcome models.Outcome) error
	ScanForReplies(ctx context.Context, userID string) (*service.ScanResult, error)
}

type Mailbox interface {
	Status(ctx context.Context, userID string) (bool, error)
	Connect(ctx context.Context, userID, callbackURL string) (string, error)
	Callback(ctx context.Context, code, state string) (string, error)
	Disconnect(ctx context.Context, userID string) error
}

type Analytics interface {
	Dashboard(ctx context.Context, userID string) (*service.Dashboard, error)
}

// Services are the handlers' collaborators. Mail may be nil when no
// provider is configured.
type Services struct {
	Ingestor  Uploader
	Jobs      JobPoller
	Outreach  Outreach
	Feedback  Feedback
	Mail      Mailbox
	Analytics Analytics
}

type Server struct {
	svc      Services
	validate *validator.Validate
}

func NewServer(svc Services) *Server {
	validate := validator.New()
	// Report JSON field names in validation messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{
		svc:      svc,
		validate: validate,
	}
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Get("/status/{jobID}", s.handleJobStatus)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/list", s.handleListContacts)
			r.Post("/{id}/archive", s.handleArchive)
		})

		r.Get("/feed/drafts", s.handleListDrafts)
		r.Post("/action/send", s.handleSend)

		r.Route("/feedback", func(r chi.Router) {
			r.Get("/queue", s.handleFeedbackQueue)
			r.Post("/swipe", s.handleSwipe)
			r.Post("/auto-detect", s.handleAutoDetect)
		})

		r.Route("/mail", func(r chi.Router) {
			r.Get("/status", s.handleMailStatus)
			r.Post("/connect", s.handleMailConnect)
			r.Get("/callback", s.handleMailCallback)
			r.Post("/disconnect", s.handleMailDisconnect)
		})

		r.Get("/analytics/dashboard", s.handleDashboard)
	})

	return r
}
