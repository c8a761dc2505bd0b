package finance

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/outbox"
)

type Report struct {
	ID          string     `json:"id"`
	ReportType  string     `json:"reportType"`
	PeriodStart time.Time  `json:"periodStart"`
	PeriodEnd   time.Time  `json:"periodEnd"`
	Status      string     `json:"status"`
	FileURL     *string    `json:"fileUrl,omitempty"`
	Checksum    *string    `json:"checksum,omitempty"`
	RequestedBy *string    `json:"requestedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ReportJobs queues report builds. When Cloud Tasks is configured, each
// request becomes an HTTP task against the build endpoint so retries and
// rate limits live at the queue level. The outbox handler remains the
// local fallback.
// TasksAuthHeader carries the shared secret that proves a request to the
// report build endpoint came from the task queue.
const TasksAuthHeader = "X-Tasks-Auth"

type ReportJobs struct {
	client     *cloudtasks.Client
	queuePath  string
	targetURL  string
	authSecret string
	enabled    bool
	logger     *log.Logger
}

func NewReportJobs(cfg config.CloudTasksConfig) (*ReportJobs, error) {
	jobs := &ReportJobs{
		enabled: cfg.Enabled,
		logger:  log.New(log.Writer(), "[REPORT-JOBS] ", log.LstdFlags),
	}
	if !cfg.Enabled {
		jobs.logger.Println("Cloud Tasks disabled, reports build via the outbox worker")
		return jobs, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	jobs.client = client
	jobs.queuePath = fmt.Sprintf("projects/%s/locations/%s/queues/%s",
		cfg.ProjectID, cfg.LocationID, cfg.QueueID)
	jobs.targetURL = cfg.TargetURL
	jobs.authSecret = cfg.AuthSecret
	jobs.logger.Printf("✅ Connected to Cloud Tasks queue: %s", jobs.queuePath)
	return jobs, nil
}

func (j *ReportJobs) enqueue(reportID string) {
	if !j.enabled {
		return
	}
	payload, _ := json.Marshal(map[string]string{"reportId": reportID})
	headers := map[string]string{"Content-Type": "application/json"}
	if j.authSecret != "" {
		headers[TasksAuthHeader] = j.authSecret
	}
	req := &taskspb.CreateTaskRequest{
		Parent: j.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        j.targetURL,
					Headers:    headers,
					Body:       payload,
				},
			},
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := j.client.CreateTask(ctx, req); err != nil {
			j.logger.Printf("❌ Cloud Task enqueue failed for report %s: %v", reportID, err)
		}
	}()
}

func (j *ReportJobs) Shutdown() {
	if j.client != nil {
		if err := j.client.Close(); err != nil {
			j.logger.Printf("⚠️ Cloud Tasks client close error: %v", err)
		}
	}
}

const reportCols = `id, report_type, period_start, period_end, status, file_url,
	checksum, requested_by, created_at, updated_at`

func scanReport(row interface{ Scan(...interface{}) error }) (*Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.ReportType, &r.PeriodStart, &r.PeriodEnd, &r.Status,
		&r.FileURL, &r.Checksum, &r.RequestedBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Validation("report not found", nil)
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &r, nil
}

// RequestReport queues a reconciliation report for a period.
func (s *Service) RequestReport(ctx context.Context, jobs *ReportJobs, adminID string, periodStart, periodEnd time.Time) (*Report, error) {
	if !periodEnd.After(periodStart) {
		return nil, apperr.Validation("periodEnd must be after periodStart", nil)
	}

	var report *Report
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO finance_reports (period_start, period_end, requested_by)
			VALUES ($1,$2,$3) RETURNING `+reportCols, periodStart, periodEnd, adminID)
		var err error
		if report, err = scanReport(row); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventReportRequested, "finance_report", report.ID,
			map[string]interface{}{"reportId": report.ID})
	})
	if err != nil {
		return nil, wrap(err)
	}
	if jobs != nil {
		jobs.enqueue(report.ID)
	}
	return report, nil
}

func (s *Service) GetReport(ctx context.Context, reportID string) (*Report, error) {
	return scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportCols+` FROM finance_reports WHERE id = $1`, reportID))
}

// BuildReport aggregates the period and marks the report ready. Safe to
// call more than once; a ready report is left untouched.
func (s *Service) BuildReport(ctx context.Context, reportID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		report, err := scanReport(tx.QueryRowContext(ctx,
			`SELECT `+reportCols+` FROM finance_reports WHERE id = $1 FOR UPDATE`, reportID))
		if err != nil {
			return err
		}
		if report.Status == "ready" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE finance_reports SET status = 'building', updated_at = now() WHERE id = $1`, reportID); err != nil {
			return err
		}

		var orders int
		var gross, commission, net, adjustments decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT count(*),
				coalesce(sum(gross_amount), 0),
				coalesce(sum(commission_amount), 0),
				coalesce(sum(seller_net_amount), 0)
			FROM order_finance
			WHERE created_at >= $1 AND created_at < $2`,
			report.PeriodStart, report.PeriodEnd).Scan(&orders, &gross, &commission, &net)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			SELECT coalesce(sum(amount), 0)
			FROM finance_adjustments
			WHERE created_at >= $1 AND created_at < $2`,
			report.PeriodStart, report.PeriodEnd).Scan(&adjustments)
		if err != nil {
			return err
		}

		body, err := json.Marshal(map[string]interface{}{
			"reportId":        reportID,
			"periodStart":     report.PeriodStart.Format(time.RFC3339),
			"periodEnd":       report.PeriodEnd.Format(time.RFC3339),
			"completedOrders": orders,
			"grossTotal":      gross.StringFixed(2),
			"commissionTotal": commission.StringFixed(2),
			"netTotal":        net.StringFixed(2),
			"adjustments":     adjustments.StringFixed(2),
		})
		if err != nil {
			return err
		}
		sum := sha256.Sum256(body)
		checksum := hex.EncodeToString(sum[:])
		fileURL := fmt.Sprintf("reports/reconciliation/%s.json", reportID)

		_, err = tx.ExecContext(ctx, `
			UPDATE finance_reports
			SET status = 'ready', file_url = $2, checksum = $3, updated_at = now()
			WHERE id = $1`, reportID, fileURL, checksum)
		if err != nil {
			return err
		}
		s.logger.Printf("📊 Report %s ready (orders=%d gross=%s)", reportID, orders, gross.StringFixed(2))
		return nil
	})
}

// ReportHandler adapts BuildReport to the outbox registry.
func (s *Service) ReportHandler() outbox.Handler {
	return func(ctx context.Context, ev *outbox.Event) error {
		return s.BuildReport(ctx, ev.AggregateID)
	}
}
