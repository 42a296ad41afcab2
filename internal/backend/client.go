// Package backend is the client for the upstream delivery-tracking service.
//
// Every call goes through a circuit breaker; an open breaker fails fast with
// a *CallError. A 2xx response never implies per-item success: batch calls
// return one ItemStatus per submitted entry for the caller to inspect.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second

	breakerMaxRequests      = 1
	breakerOpenTimeout      = 30 * time.Second
	breakerConsecutiveFails = 5
)

const (
	pathTracking  = "/api/delivery/tracking"
	pathApprove   = "/api/delivery/approve"
	pathPack      = "/api/delivery/pack"
	pathSend      = "/api/delivery/send"
	pathDeliver   = "/api/delivery/deliver"
	pathDelete    = "/api/delivery/delete"
	pathClaims    = "/api/delivery/claims"
	pathCreate    = "/api/delivery"
	pathPlanForID = "/api/enrollee/plan"
)

// ItemStatus is the backend's verdict on one submitted entry.
type ItemStatus struct {
	OK        bool
	Message   string
	Reference string
}

type Config struct {
	BaseURL  string
	Username string
	Timeout  time.Duration
}

type Client struct {
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker[*resty.Response]
	username string
	logger   *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else {
		client.SetTimeout(defaultTimeout)
	}
	return NewClientWithResty(cfg, client, logger)
}

func NewClientWithResty(cfg Config, client *resty.Client, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	// Batch submissions are not idempotent; never retry at the transport.
	client.SetRetryCount(0)
	client.SetBaseURL(baseURL)
	client.SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "delivery-backend",
		MaxRequests: breakerMaxRequests,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		http:     client,
		breaker:  breaker,
		username: strings.TrimSpace(cfg.Username),
		logger:   logger,
	}, nil
}

// GetTracking returns the deliveries matching q. Rows with an unknown status
// are skipped and logged.
func (c *Client) GetTracking(ctx context.Context, q domain.TrackingQuery) ([]domain.DeliveryRecord, error) {
	params := map[string]string{"username": c.username}
	if v := strings.TrimSpace(q.EnrolleeID); v != "" {
		params["enrolleeId"] = v
	}
	if v := strings.TrimSpace(q.ActionType); v != "" {
		params["actionType"] = v
	}
	if v := formatDate(q.FromDate); v != "" {
		params["fromDate"] = v
	}
	if v := formatDate(q.ToDate); v != "" {
		params["toDate"] = v
	}

	var out trackingResponse
	if err := c.do(ctx, "get tracking", http.MethodGet, pathTracking, params, nil, &out); err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(out.Result))
	for _, row := range out.Result {
		d, err := row.toDomain()
		if err != nil {
			c.logger.Warn("skipping tracking row",
				zap.Int("entryNo", row.EntryNo),
				zap.Error(err),
			)
			continue
		}
		records = append(records, d)
	}
	return records, nil
}

// EnrolleeDeliveries returns every delivery for one enrollee.
func (c *Client) EnrolleeDeliveries(ctx context.Context, enrolleeID string) ([]domain.DeliveryRecord, error) {
	return c.GetTracking(ctx, domain.TrackingQuery{EnrolleeID: enrolleeID})
}

// ApproveDeliveryLines approves entries in one call. The backend answers with
// a single status for the whole batch.
func (c *Client) ApproveDeliveryLines(ctx context.Context, entryNos []int) (ItemStatus, error) {
	body := make([]approveEntry, 0, len(entryNos))
	for _, entryNo := range entryNos {
		body = append(body, approveEntry{EntryNo: entryNo})
	}

	var out statusResponse
	if err := c.do(ctx, "approve", http.MethodPost, pathApprove, nil, body, &out); err != nil {
		return ItemStatus{}, err
	}
	return ItemStatus{OK: out.Status.ok(), Message: strings.TrimSpace(out.ReturnMessage)}, nil
}

type PackLine struct {
	EntryNo      int
	PackedBy     string
	Notes        string
	NextPackDate time.Time
	PharmacyID   string
	Procedures   []domain.ProcedureLine
}

func (c *Client) PackDeliveryLines(ctx context.Context, lines []PackLine) ([]ItemStatus, error) {
	body := make([]packEntry, 0, len(lines))
	for _, line := range lines {
		body = append(body, packEntry{
			DeliveryEntryNo: line.EntryNo,
			PackedBy:        line.PackedBy,
			Notes:           line.Notes,
			NextPackDate:    formatDate(line.NextPackDate),
			PharmacyID:      line.PharmacyID,
			Procedures:      proceduresFromDomain(line.Procedures),
		})
	}

	var out resultsResponse
	if err := c.do(ctx, "pack", http.MethodPost, pathPack, nil, body, &out); err != nil {
		return nil, err
	}
	return fromStatusResponses(out.Results), nil
}

type SendLine struct {
	EntryNo int
	SentBy  string
	Notes   string
}

func (c *Client) SendDeliveryLines(ctx context.Context, lines []SendLine) ([]ItemStatus, error) {
	body := make([]sendEntry, 0, len(lines))
	for _, line := range lines {
		body = append(body, sendEntry{DeliveryEntryNo: line.EntryNo, SentBy: line.SentBy, Notes: line.Notes})
	}

	var out resultsResponse
	if err := c.do(ctx, "send", http.MethodPost, pathSend, nil, body, &out); err != nil {
		return nil, err
	}
	return fromStatusResponses(out.Results), nil
}

type DeliverLine struct {
	EntryNo     int
	DeliveredBy string
	Notes       string
}

func (c *Client) DeliverDeliveryLines(ctx context.Context, lines []DeliverLine) ([]ItemStatus, error) {
	body := make([]deliverEntry, 0, len(lines))
	for _, line := range lines {
		body = append(body, deliverEntry{DeliveryEntryNo: line.EntryNo, DeliveredBy: line.DeliveredBy, Notes: line.Notes})
	}

	var out deliverResponse
	if err := c.do(ctx, "deliver", http.MethodPost, pathDeliver, nil, body, &out); err != nil {
		return nil, err
	}

	statuses := make([]ItemStatus, 0, len(out.IndividualResults))
	for _, r := range out.IndividualResults {
		statuses = append(statuses, ItemStatus{OK: r.Status.ok(), Message: strings.TrimSpace(r.Message)})
	}
	return statuses, nil
}

type DeleteLine struct {
	DeliveryID  string
	ProcedureID string
	DiagnosisID string
}

// DeleteDeliveryLine removes one delivery line. The backend reports failure
// through a non-success status or a message without one.
func (c *Client) DeleteDeliveryLine(ctx context.Context, line DeleteLine) (ItemStatus, error) {
	body := deleteRequest{DeliveryID: line.DeliveryID, ProcedureID: line.ProcedureID, DiagnosisID: line.DiagnosisID}

	var out statusResponse
	if err := c.do(ctx, "delete", http.MethodPost, pathDelete, nil, body, &out); err != nil {
		return ItemStatus{}, err
	}
	msg := strings.TrimSpace(out.ReturnMessage)
	ok := out.Status.ok() || (out.Status == "" && looksSuccessful(msg))
	return ItemStatus{OK: ok, Message: msg}, nil
}

type ClaimLine struct {
	EntryNo     int
	DeliveryID  string
	EnrolleeID  string
	RequestedBy string
}

func (c *Client) CreateClaimRequests(ctx context.Context, lines []ClaimLine) ([]ItemStatus, error) {
	body := make([]claimEntry, 0, len(lines))
	for _, line := range lines {
		body = append(body, claimEntry{
			DeliveryEntryNo: line.EntryNo,
			DeliveryID:      line.DeliveryID,
			EnrolleeID:      line.EnrolleeID,
			RequestedBy:     line.RequestedBy,
		})
	}

	var out claimsResponse
	if err := c.do(ctx, "create claims", http.MethodPost, pathClaims, nil, body, &out); err != nil {
		return nil, err
	}

	statuses := make([]ItemStatus, 0, len(out.Claims))
	for _, r := range out.Claims {
		statuses = append(statuses, ItemStatus{
			OK:        r.Status.ok(),
			Message:   strings.TrimSpace(r.Message),
			Reference: strings.TrimSpace(r.ClaimNo),
		})
	}
	return statuses, nil
}

// PlanExpiry returns the enrollee's plan expiry date, or the zero time when the
// plan carries none.
func (c *Client) PlanExpiry(ctx context.Context, enrolleeID string) (time.Time, error) {
	var out planResponse
	params := map[string]string{"enrolleeId": strings.TrimSpace(enrolleeID)}
	if err := c.do(ctx, "get enrollee plan", http.MethodGet, pathPlanForID, params, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.PlanExpiryDate.time(), nil
}

type CreateResult struct {
	DeliveryID string
	Message    string
}

// CreateDelivery submits a new delivery. A rejection by the backend is
// reported as a validation error carrying its message.
func (c *Client) CreateDelivery(ctx context.Context, d domain.DeliveryRecord, confirmDuplicate bool) (CreateResult, error) {
	body := createDeliveryRequest{
		EnrolleeID:        d.EnrolleeID,
		EnrolleeName:      d.EnrolleeName,
		EnrolleeEmail:     d.EnrolleeEmail,
		SchemeID:          d.SchemeID,
		DeliveryFrequency: d.Frequency.String(),
		StartDate:         formatDate(d.StartDate),
		FrequencyDuration: d.FrequencyDurationMonths,
		EndDate:           formatDate(d.EndDate),
		Procedures:        proceduresFromDomain(d.Procedures),
		DeliveryAddress:   d.DeliveryAddress,
		PhoneNumber:       d.PhoneNumber,
		CreatedBy:         d.CreatedBy,
		Comment:           d.Comment,
		ConfirmDuplicate:  confirmDuplicate,
	}
	for _, dx := range d.Diagnoses {
		body.Diagnoses = append(body.Diagnoses, wireDiagnosis{DiagnosisID: dx.ID, DiagnosisName: dx.Name})
	}

	var out createDeliveryResponse
	if err := c.do(ctx, "create delivery", http.MethodPost, pathCreate, nil, body, &out); err != nil {
		return CreateResult{}, err
	}
	msg := strings.TrimSpace(out.ReturnMessage)
	if !out.Status.ok() {
		return CreateResult{}, fmt.Errorf("%w: backend rejected delivery: %s", domain.ErrValidation, msg)
	}
	return CreateResult{DeliveryID: strings.TrimSpace(out.DeliveryID), Message: msg}, nil
}

func (c *Client) do(
	ctx context.Context,
	op, method, path string,
	params map[string]string,
	body, out any,
) error {
	response, err := c.breaker.Execute(func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetResult(out)
		if params != nil {
			req.SetQueryParams(params)
		}
		if body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, &CallError{
				Op:        op,
				Message:   "request failed",
				Transient: !errors.Is(err, context.Canceled),
				Cause:     err,
			}
		}
		if !resp.IsSuccess() {
			return resp, &CallError{
				Op:         op,
				StatusCode: resp.StatusCode(),
				Message:    strings.TrimSpace(resp.String()),
				Transient:  isTransientHTTPStatus(resp.StatusCode()),
			}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CallError{Op: op, Message: "circuit open", Transient: true, Cause: err}
	}
	if err != nil {
		return err
	}
	if response == nil {
		return &CallError{Op: op, Message: "empty response", Transient: true}
	}
	return nil
}

func fromStatusResponses(results []statusResponse) []ItemStatus {
	statuses := make([]ItemStatus, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, ItemStatus{OK: r.Status.ok(), Message: strings.TrimSpace(r.ReturnMessage)})
	}
	return statuses
}

func looksSuccessful(message string) bool {
	lower := strings.ToLower(message)
	for _, negative := range []string{"fail", "unsuccess", "error", "not "} {
		if strings.Contains(lower, negative) {
			return false
		}
	}
	return strings.Contains(lower, "success") || strings.Contains(lower, "deleted")
}
