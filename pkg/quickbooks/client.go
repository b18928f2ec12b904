package quickbooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/clients"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 64 << 10

// Client calls the QuickBooks Reports API for one company
type Client struct {
	http         *clients.HTTPClient
	baseURL      string
	realmID      string
	minorVersion string
	retry        *RetryPolicy
	logger       *zap.Logger
}

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL      string
	RealmID      string
	MinorVersion string
	Retry        *RetryPolicy
}

// NewClient creates a report client. httpClient must already authorize
// requests, see clients.HTTPClient.WithTokenSource.
func NewClient(httpClient *clients.HTTPClient, cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryPolicy(3, time.Second, time.Minute)
	}
	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		realmID:      cfg.RealmID,
		minorVersion: cfg.MinorVersion,
		retry:        retry,
		logger:       logger.With(zap.String("component", "reports_client"), zap.String("realm_id", cfg.RealmID)),
	}
}

// ReportRequest selects a report and its period
type ReportRequest struct {
	Report            string
	StartDate         string
	EndDate           string
	SummarizeColumnBy string
}

// ReportResponse is a decoded report along with the raw body
type ReportResponse struct {
	Report *Report
	Raw    []byte
}

// ReportURL returns the URL of a report request
func (c *Client) ReportURL(req ReportRequest) string {
	params := url.Values{}
	if req.SummarizeColumnBy != "" {
		params.Set("summarize_column_by", req.SummarizeColumnBy)
	}
	if req.StartDate != "" {
		params.Set("start_date", req.StartDate)
	}
	if req.EndDate != "" {
		params.Set("end_date", req.EndDate)
	}
	if c.minorVersion != "" {
		params.Set("minorversion", c.minorVersion)
	}
	u := fmt.Sprintf("%s/v3/company/%s/reports/%s", c.baseURL, url.PathEscape(c.realmID), req.Report)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// FetchReport requests a report, retrying retryable failures
func (c *Client) FetchReport(ctx context.Context, req ReportRequest) (*ReportResponse, error) {
	var out *ReportResponse
	err := c.retry.Execute(ctx, func(attempt int) error {
		if attempt > 0 {
			c.logger.Info("retrying report request",
				zap.String("report", req.Report),
				zap.String("start_date", req.StartDate),
				zap.String("end_date", req.EndDate),
				zap.Int("attempt", attempt+1))
		}
		resp, err := c.fetchOnce(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, req ReportRequest) (*ReportResponse, error) {
	resp, err := c.http.Get(ctx, c.ReportURL(req), map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "report request cancelled")
		}
		// token endpoint failures surface here already typed
		errType := errors.TypeOf(err)
		if errType == errors.ErrorTypeInternal {
			errType = errors.ErrorTypeConnection
		}
		return nil, errors.Wrap(err, errType, "report request failed").
			WithDetail("report", req.Report)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, req)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read report response")
	}

	report := &Report{}
	if err := json.Unmarshal(body, report); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("failed to decode %s report", req.Report)).
			WithDetail("realm_id", c.realmID)
	}

	c.logger.Debug("fetched report",
		zap.String("report", req.Report),
		zap.String("start_period", report.Header.StartPeriod),
		zap.String("end_period", report.Header.EndPeriod),
		zap.Int("bytes", len(body)))

	return &ReportResponse{Report: report, Raw: body}, nil
}

// statusError maps a non-200 response onto a typed error
func (c *Client) statusError(resp *http.Response, req ReportRequest) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := parseFault(body)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	err := errors.Newf(errors.FromHTTPStatus(resp.StatusCode),
		"%s report returned status %d: %s", req.Report, resp.StatusCode, msg).
		WithDetail("status_code", resp.StatusCode).
		WithDetail("report", req.Report)
	if tid := resp.Header.Get("intuit_tid"); tid != "" {
		err.WithDetail("intuit_tid", tid)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			err.WithDetail("retry_after", time.Duration(secs)*time.Second)
		}
	}
	return err
}

// StatusCode returns the HTTP status carried by a report error, or 0
func StatusCode(err error) int {
	var e *errors.Error
	for err != nil {
		if !errors.As(err, &e) {
			return 0
		}
		if code, ok := e.Details["status_code"].(int); ok {
			return code
		}
		err = e.Cause
	}
	return 0
}
