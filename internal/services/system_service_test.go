package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

type fakeHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

func newSystemServiceForTest(t *testing.T, deps SystemServiceDeps) SystemService {
	t.Helper()
	svc, err := NewSystemService(deps)
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	return svc
}

func TestSystemServiceHealthReportStampsBuildMetadata(t *testing.T) {
	bootedAt := time.Date(2025, time.October, 20, 8, 0, 0, 0, time.UTC)
	now := bootedAt.Add(14 * time.Minute)
	repo := &fakeHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"payments":  {Status: domain.HealthStatusOK},
			},
		},
	}

	svc := newSystemServiceForTest(t, SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "2.4.0",
			CommitSHA:   "9f31c7d",
			Environment: "production",
			StartedAt:   bootedAt,
		},
	})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}

	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "9f31c7d" || report.Environment != "production" {
		t.Fatalf("unexpected build metadata: %+v", report)
	}
	if report.Uptime != now.Sub(bootedAt) {
		t.Fatalf("expected uptime %s, got %s", now.Sub(bootedAt), report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportKeepsRepositoryValues(t *testing.T) {
	generated := time.Date(2025, time.October, 20, 8, 5, 0, 0, time.UTC)
	repo := &fakeHealthRepository{
		report: domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "repo-version",
			GeneratedAt: generated,
			Checks: map[string]domain.SystemHealthCheck{
				"storage": {Status: domain.HealthStatusDegraded},
			},
		},
	}

	svc := newSystemServiceForTest(t, SystemServiceDeps{
		HealthRepository: repo,
		Build:            BuildInfo{Version: "build-version"},
	})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected repository status kept, got %s", report.Status)
	}
	if report.Version != "repo-version" {
		t.Fatalf("expected repository version kept, got %s", report.Version)
	}
	if !report.GeneratedAt.Equal(generated) {
		t.Fatalf("expected repository generatedAt kept, got %s", report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportPropagatesCollectError(t *testing.T) {
	collectErr := errors.New("firestore dial failed")
	svc := newSystemServiceForTest(t, SystemServiceDeps{
		HealthRepository: &fakeHealthRepository{err: collectErr},
	})

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected %v, got %v", collectErr, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when repository missing")
	}
}

func TestSystemServiceDerivesStatusWhenRepositoryOmitsIt(t *testing.T) {
	repo := &fakeHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"payments":  {Status: domain.HealthStatusDegraded},
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc := newSystemServiceForTest(t, SystemServiceDeps{HealthRepository: repo})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", report.Status)
	}
}
