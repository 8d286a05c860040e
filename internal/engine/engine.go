package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"grantdesk/internal/config"
	"grantdesk/internal/domain"
	"grantdesk/internal/events"
	"grantdesk/internal/mail"
	"grantdesk/internal/repo"
	"grantdesk/internal/report"
)

// Engine drives the request lifecycle: every status change goes through one
// of its methods, and every change appends an audit event in the same
// transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Mailer mail.Sender
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, mailer mail.Sender) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Mailer: mailer,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ErrNoArtifact is returned when download or delivery needs a report that
// has not been rendered.
var ErrNoArtifact = errors.New("no artifact for request")

// DeliveryError reports that the report was rendered and recorded but the
// email send failed. The request stays at REPORT_READY; Deliver retries.
type DeliveryError struct {
	RequestID string
	Err       error
}

func (d DeliveryError) Error() string {
	return fmt.Sprintf("report ready but delivery failed for request %s: %v", d.RequestID, d.Err)
}

func (d DeliveryError) Unwrap() error { return d.Err }

// IntakeOptions are the operator-entered fields for a new request.
type IntakeOptions struct {
	ClientName   string
	ClientEmail  string
	GrantName    string
	Applicant    string
	Purpose      string
	UseOfFunds   string
	Deadline     string
	Jurisdiction string
	Status       string
	ActorID      string
}

// Intake persists a new request. Status defaults to PAID; only PAID and
// APPROVED are accepted as starting points.
func (e Engine) Intake(ctx context.Context, opts IntakeOptions) (domain.Request, error) {
	if strings.TrimSpace(opts.ClientName) == "" {
		return domain.Request{}, errors.New("client_name is required")
	}
	if !strings.Contains(opts.ClientEmail, "@") {
		return domain.Request{}, errors.New("client_email is required")
	}
	if strings.TrimSpace(opts.GrantName) == "" {
		return domain.Request{}, errors.New("grant_name is required")
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusPaid
	}
	if !domain.Runnable(status) {
		return domain.Request{}, fmt.Errorf("intake status must be %s or %s", domain.StatusPaid, domain.StatusApproved)
	}

	req := domain.Request{
		ID:           uuid.NewString(),
		ClientName:   opts.ClientName,
		ClientEmail:  opts.ClientEmail,
		GrantName:    opts.GrantName,
		Applicant:    opts.Applicant,
		Purpose:      opts.Purpose,
		UseOfFunds:   opts.UseOfFunds,
		Deadline:     opts.Deadline,
		Jurisdiction: opts.Jurisdiction,
		Status:       status,
		CreatedAt:    e.ts(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RequestCreated, req.ID, opts.ActorID, events.EventPayload{"status": req.Status}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// Run produces the report for a request and then attempts delivery. The
// entry guard is one atomic conditional update, so a second concurrent Run
// on the same id gets repo.ErrConflict instead of a duplicate report. A
// delivery failure after the report is recorded leaves the request at
// REPORT_READY and returns DeliveryError.
func (e Engine) Run(ctx context.Context, id, actorID string) (domain.Request, error) {
	if err := e.transition(ctx, id, actorID, events.RunStarted, domain.StatusRunStarted, nil,
		domain.StatusPaid, domain.StatusApproved); err != nil {
		return domain.Request{}, err
	}

	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}

	now := e.now()
	path := filepath.Join(e.Config.Reports.OutputDir, report.Filename(now, req.ClientName, req.GrantName))
	if err := report.Render(report.Compose(req), path); err != nil {
		return req, fmt.Errorf("render report: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetArtifact(ctx, tx, id, path); err != nil {
		return req, err
	}
	if err := e.Repo.Transition(ctx, tx, id, e.ts(), domain.StatusReportReady, domain.StatusRunStarted); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.ReportReady, id, actorID, events.EventPayload{"artifact_path": path}); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}

	if e.Mailer == nil || !e.Config.Mail.Enabled {
		return e.Repo.GetRequest(ctx, id)
	}
	if err := e.deliver(ctx, id, req.ClientEmail, path, req.GrantName, actorID); err != nil {
		current, getErr := e.Repo.GetRequest(ctx, id)
		if getErr != nil {
			current = req
		}
		return current, err
	}
	return e.Repo.GetRequest(ctx, id)
}

// Deliver re-sends the rendered report for a REPORT_READY request. It is the
// retry affordance for a run whose email send failed.
func (e Engine) Deliver(ctx context.Context, id, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, err
	}
	if req.Status != domain.StatusReportReady {
		return req, repo.ErrConflict
	}
	if req.ArtifactPath == nil || *req.ArtifactPath == "" {
		return req, ErrNoArtifact
	}
	if e.Mailer == nil || !e.Config.Mail.Enabled {
		return req, errors.New("mail is not configured; use mark-delivered instead")
	}
	if err := e.deliver(ctx, id, req.ClientEmail, *req.ArtifactPath, req.GrantName, actorID); err != nil {
		return req, err
	}
	return e.Repo.GetRequest(ctx, id)
}

func (e Engine) deliver(ctx context.Context, id, to, artifactPath, grantName, actorID string) error {
	subject := fmt.Sprintf("Your grant application report: %s", grantName)
	body := fmt.Sprintf("Hello,\n\nYour report for %q is attached.\n\nGrantdesk", grantName)
	if err := e.Mailer.Send(ctx, to, subject, body, artifactPath); err != nil {
		e.appendEvent(ctx, events.DeliveryFailed, id, actorID, events.EventPayload{"error": err.Error()})
		return DeliveryError{RequestID: id, Err: err}
	}
	return e.transition(ctx, id, actorID, events.Delivered,
		domain.StatusDelivered, events.EventPayload{"to": to},
		domain.StatusReportReady)
}

// MarkDelivered advances REPORT_READY to DELIVERED without sending mail.
func (e Engine) MarkDelivered(ctx context.Context, id, actorID string) (domain.Request, error) {
	if err := e.transition(ctx, id, actorID, events.Delivered, domain.StatusDelivered, nil,
		domain.StatusReportReady); err != nil {
		return domain.Request{}, err
	}
	return e.Repo.GetRequest(ctx, id)
}

// Archive advances REPORT_READY or DELIVERED to ARCHIVED.
func (e Engine) Archive(ctx context.Context, id, actorID string) (domain.Request, error) {
	if err := e.transition(ctx, id, actorID, events.Archived, domain.StatusArchived, nil,
		domain.StatusReportReady, domain.StatusDelivered); err != nil {
		return domain.Request{}, err
	}
	return e.Repo.GetRequest(ctx, id)
}

// Delete removes a request unconditionally. The artifact file, if any, stays
// on disk.
func (e Engine) Delete(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRequest(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Deleted, id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ArtifactPath returns the rendered report path for download.
func (e Engine) ArtifactPath(ctx context.Context, id string) (string, error) {
	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return "", err
	}
	if req.ArtifactPath == nil || *req.ArtifactPath == "" {
		return "", ErrNoArtifact
	}
	return *req.ArtifactPath, nil
}

// transition performs one atomic guarded status change plus its audit event.
func (e Engine) transition(ctx context.Context, id, actorID, evtType, to string, payload events.EventPayload, from ...string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.Transition(ctx, tx, id, e.ts(), to, from...); err != nil {
		return err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["status"] = to
	if err := e.Events.Append(ctx, tx, evtType, id, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// appendEvent writes a standalone audit event outside any state change.
func (e Engine) appendEvent(ctx context.Context, evtType, id, actorID string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, id, actorID, payload); err != nil {
		return
	}
	_ = tx.Commit()
}
