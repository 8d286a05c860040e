package engine_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"grantdesk/internal/config"
	"grantdesk/internal/db"
	"grantdesk/internal/domain"
	"grantdesk/internal/engine"
	"grantdesk/internal/migrate"
	"grantdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(dir), nil)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func intake(t *testing.T, env testEnv, opts engine.IntakeOptions) domain.Request {
	t.Helper()
	if opts.ClientName == "" {
		opts.ClientName = "Dana Alvarez"
	}
	if opts.ClientEmail == "" {
		opts.ClientEmail = "dana@example.org"
	}
	if opts.GrantName == "" {
		opts.GrantName = "Local Small Business Support Program"
	}
	opts.ActorID = "tester"
	req, err := env.Engine.Intake(env.Ctx, opts)
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	return req
}

// recordSender captures the last send instead of talking to SMTP.
type recordSender struct {
	to         string
	subject    string
	attachment string
	sent       int
}

func (s *recordSender) Send(ctx context.Context, to, subject, body, attachmentPath string) error {
	s.to = to
	s.subject = subject
	s.attachment = attachmentPath
	s.sent++
	return nil
}

type failSender struct{}

func (failSender) Send(ctx context.Context, to, subject, body, attachmentPath string) error {
	return errors.New("smtp refused")
}

func TestIntakeDefaultsToPaid(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	if req.Status != domain.StatusPaid {
		t.Fatalf("expected PAID, got %s", req.Status)
	}
	if req.ID == "" || req.CreatedAt == "" {
		t.Fatalf("expected id and created_at, got %+v", req)
	}
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='request.created' AND request_id=?`, req.ID)
	if err := row.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected one created event, got %d (%v)", count, err)
	}
}

func TestIntakeValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.IntakeOptions{
		{ClientEmail: "a@b.c", GrantName: "g"},
		{ClientName: "x", ClientEmail: "no-at-sign", GrantName: "g"},
		{ClientName: "x", ClientEmail: "a@b.c"},
		{ClientName: "x", ClientEmail: "a@b.c", GrantName: "g", Status: "DELIVERED"},
	}
	for i, opts := range cases {
		if _, err := env.Engine.Intake(env.Ctx, opts); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestRunWithoutMailStopsAtReportReady(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	got, err := env.Engine.Run(env.Ctx, req.ID, "tester")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != domain.StatusReportReady {
		t.Fatalf("expected REPORT_READY, got %s", got.Status)
	}
	if got.ArtifactPath == nil || *got.ArtifactPath == "" {
		t.Fatalf("expected artifact path")
	}
	if _, err := os.Stat(*got.ArtifactPath); err != nil {
		t.Fatalf("expected rendered report on disk: %v", err)
	}
	if got.ReportAt == nil {
		t.Fatalf("expected report_at timestamp")
	}
}

func TestRunConflictsWhenNotRunnable(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	if _, err := env.Engine.Run(env.Ctx, req.ID, "tester"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := env.Engine.Run(env.Ctx, req.ID, "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on second run, got %v", err)
	}
	if _, err := env.Engine.Run(env.Ctx, "missing-id", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunDeliversWhenMailEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Mail.Enabled = true
	sender := &recordSender{}
	env.Engine.Mailer = sender

	req := intake(t, env, engine.IntakeOptions{Status: domain.StatusApproved})
	got, err := env.Engine.Run(env.Ctx, req.ID, "tester")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != domain.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}
	if sender.sent != 1 || sender.to != "dana@example.org" {
		t.Fatalf("expected one send to client, got %+v", sender)
	}
	if sender.attachment == "" {
		t.Fatalf("expected report attached")
	}
	if got.DeliveredAt == nil {
		t.Fatalf("expected delivered_at timestamp")
	}
}

func TestDeliveryFailureKeepsReportReady(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Mail.Enabled = true
	env.Engine.Mailer = failSender{}

	req := intake(t, env, engine.IntakeOptions{})
	got, err := env.Engine.Run(env.Ctx, req.ID, "tester")
	var de engine.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if got.Status != domain.StatusReportReady {
		t.Fatalf("expected REPORT_READY after failed send, got %s", got.Status)
	}
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='request.delivery_failed' AND request_id=?`, req.ID)
	if err := row.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected delivery_failed event, got %d (%v)", count, err)
	}

	// retry with a working sender succeeds
	sender := &recordSender{}
	env.Engine.Mailer = sender
	got, err = env.Engine.Deliver(env.Ctx, req.ID, "tester")
	if err != nil {
		t.Fatalf("deliver retry: %v", err)
	}
	if got.Status != domain.StatusDelivered || sender.sent != 1 {
		t.Fatalf("expected DELIVERED after retry, got %s", got.Status)
	}
}

func TestDeliverRequiresReportReady(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Mail.Enabled = true
	env.Engine.Mailer = &recordSender{}
	req := intake(t, env, engine.IntakeOptions{})
	if _, err := env.Engine.Deliver(env.Ctx, req.ID, "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict for PAID request, got %v", err)
	}
}

func TestMarkDeliveredAndArchive(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	if _, err := env.Engine.Run(env.Ctx, req.ID, "tester"); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := env.Engine.MarkDelivered(env.Ctx, req.ID, "tester")
	if err != nil || got.Status != domain.StatusDelivered {
		t.Fatalf("mark delivered: %v status=%s", err, got.Status)
	}
	got, err = env.Engine.Archive(env.Ctx, req.ID, "tester")
	if err != nil || got.Status != domain.StatusArchived {
		t.Fatalf("archive: %v status=%s", err, got.Status)
	}
	if got.ArchivedAt == nil {
		t.Fatalf("expected archived_at timestamp")
	}
	// archiving again is a conflict
	if _, err := env.Engine.Archive(env.Ctx, req.ID, "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestArchiveFromReportReady(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	if _, err := env.Engine.Run(env.Ctx, req.ID, "tester"); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := env.Engine.Archive(env.Ctx, req.ID, "tester")
	if err != nil || got.Status != domain.StatusArchived {
		t.Fatalf("archive from REPORT_READY: %v status=%s", err, got.Status)
	}
}

func TestDeleteRemovesRequest(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	if err := env.Engine.Delete(env.Ctx, req.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.Delete(env.Ctx, req.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestEventAppendOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req := intake(t, env, engine.IntakeOptions{})
	_, _ = env.Engine.Run(env.Ctx, req.ID, "tester")
	_, _ = env.Engine.MarkDelivered(env.Ctx, req.ID, "tester")
	_, _ = env.Engine.Archive(env.Ctx, req.ID, "tester")
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE request_id=?`, req.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 5 {
		t.Fatalf("expected created/run/report/delivered/archived events, got %d", count)
	}
}
