package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/outletmedia/sales-ai-platform/internal/observability/metrics"
	"github.com/outletmedia/sales-ai-platform/pkg/logging"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRetries   = 3
	defaultBaseDelay    = time.Second
	defaultMessageLimit = 100
)

// retryableStatuses are the HTTP statuses worth retrying. Any other 4xx is a
// caller mistake and is surfaced immediately as a ClientError.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Client is the single place CRM credentials, versioning, pooling, circuit
// breaking and retries live. All CRM traffic flows through it.
type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	apiVersion string

	httpClient *http.Client
	breaker    *Breaker
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *logging.Logger
	metrics    *metrics.GatewayMetrics
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the pooled HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBreaker installs a pre-configured circuit breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithRetryPolicy overrides the retry attempt count and backoff base delay.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
	}
}

// WithMetrics installs gateway metrics. Outcomes, and the breaker gauge,
// are recorded once per logical call.
func WithMetrics(m *metrics.GatewayMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a CRM API client with a shared keep-alive pool. The pool
// bounds sockets under bursty webhook traffic; it is tuning, not correctness.
func NewClient(baseURL, apiKey, locationID, apiVersion string, logger *logging.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		locationID: locationID,
		apiVersion: apiVersion,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		breaker:    NewBreaker(5, 60*time.Second, 1),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      sleepCtx,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerStatus exposes the breaker snapshot for health reporting.
func (c *Client) BreakerStatus() BreakerStatus {
	return c.breaker.Status()
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	var out contactEnvelope
	if err := c.call(ctx, http.MethodGet, "/contacts/"+contactID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// FindContactByPhone searches for a contact by phone number. A miss returns
// (nil, nil) rather than an error.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("number", NormalizePhone(phone))

	var out contactEnvelope
	err := c.call(ctx, http.MethodGet, "/contacts/search/duplicate", q, nil, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out.Contact.ID == "" {
		return nil, nil
	}
	return &out.Contact, nil
}

// CreateContact creates a contact under the configured location.
func (c *Client) CreateContact(ctx context.Context, phone string, update ContactUpdate) (*Contact, error) {
	body := map[string]any{
		"locationId": c.locationID,
		"phone":      NormalizePhone(phone),
	}
	if update.FirstName != "" {
		body["firstName"] = update.FirstName
	}
	if update.Email != "" {
		body["email"] = update.Email
	}

	var out contactEnvelope
	if err := c.call(ctx, http.MethodPost, "/contacts", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// UpdateContact overwrites the provided fields on an existing contact.
func (c *Client) UpdateContact(ctx context.Context, contactID string, update ContactUpdate) (*Contact, error) {
	var out contactEnvelope
	if err := c.call(ctx, http.MethodPut, "/contacts/"+contactID, nil, update, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// UpsertContactByPhone finds a contact by phone and updates it, creating it
// when no match exists.
func (c *Client) UpsertContactByPhone(ctx context.Context, phone string, update ContactUpdate) (*Contact, error) {
	existing, err := c.FindContactByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return c.UpdateContact(ctx, existing.ID, update)
	}
	return c.CreateContact(ctx, phone, update)
}

// AddTags appends tags to a contact. Tags are append-only on the CRM side.
func (c *Client) AddTags(ctx context.Context, contactID string, tags []string) error {
	return c.call(ctx, http.MethodPost, "/contacts/"+contactID+"/tags", nil, map[string]any{"tags": tags}, nil)
}

// AddNote appends a note to a contact.
func (c *Client) AddNote(ctx context.Context, contactID, note string) error {
	body := map[string]any{
		"body":   note,
		"userId": c.locationID,
	}
	return c.call(ctx, http.MethodPost, "/contacts/"+contactID+"/notes", nil, body, nil)
}

// GetConversation fetches a conversation by id.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var out conversationEnvelope
	if err := c.call(ctx, http.MethodGet, "/conversations/"+conversationID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

// SearchConversationsByPhone returns conversation threads matching a phone
// number, most recently updated first.
func (c *Client) SearchConversationsByPhone(ctx context.Context, phone string) ([]Conversation, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("phone", NormalizePhone(phone))
	q.Set("limit", "10")
	return c.searchConversations(ctx, q)
}

// SearchConversationsByContact returns conversation threads for a contact,
// most recently updated first.
func (c *Client) SearchConversationsByContact(ctx context.Context, contactID string) ([]Conversation, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("contactId", contactID)
	q.Set("limit", "10")
	return c.searchConversations(ctx, q)
}

func (c *Client) searchConversations(ctx context.Context, q url.Values) ([]Conversation, error) {
	var out conversationsEnvelope
	err := c.call(ctx, http.MethodGet, "/conversations/search", q, nil, &out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation opens a new conversation thread for a contact.
func (c *Client) CreateConversation(ctx context.Context, contactID string) (*Conversation, error) {
	body := map[string]any{
		"locationId": c.locationID,
		"contactId":  contactID,
	}
	var out conversationEnvelope
	if err := c.call(ctx, http.MethodPost, "/conversations", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

// GetConversationMessages fetches up to limit messages for a conversation.
// Order is whatever the CRM returns; callers sort oldest-first.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var out messagesEnvelope
	if err := c.call(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage sends an outbound message to a contact.
func (c *Client) SendMessage(ctx context.Context, contactID, text string) error {
	body := map[string]any{
		"type":       "SMS",
		"locationId": c.locationID,
		"contactId":  contactID,
		"message":    text,
	}
	return c.call(ctx, http.MethodPost, "/conversations/messages", nil, body, nil)
}

// GetCalendarSlots lists open slots for a calendar in [start, end].
func (c *Client) GetCalendarSlots(ctx context.Context, calendarID string, start, end time.Time) ([]CalendarSlot, error) {
	q := url.Values{}
	q.Set("startDate", start.UTC().Format(time.RFC3339))
	q.Set("endDate", end.UTC().Format(time.RFC3339))

	var out slotsEnvelope
	if err := c.call(ctx, http.MethodGet, "/calendars/"+calendarID+"/free-slots", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// BookAppointment books a calendar slot for a contact.
func (c *Client) BookAppointment(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	body := map[string]any{
		"calendarId":        req.CalendarID,
		"locationId":        c.locationID,
		"contactId":         req.ContactID,
		"title":             req.Title,
		"appointmentStatus": "confirmed",
		"startTime":         req.StartTime.UTC().Format(time.RFC3339),
		"endTime":           req.EndTime.UTC().Format(time.RFC3339),
		"toNotify":          true,
	}
	var out bookingEnvelope
	if err := c.call(ctx, http.MethodPost, "/calendars/events/appointments", nil, body, &out); err != nil {
		return nil, err
	}
	return &BookingResult{ID: out.ID, Status: out.Status}, nil
}

// call runs one logical CRM request through the breaker and retry policy.
// The breaker sees exactly one outcome per logical call regardless of how
// many retry attempts were made.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := operationLabel(method, path)
	if err := c.breaker.Allow(); err != nil {
		c.observeOutcome(op, "breaker_open")
		return err
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			if err := c.sleep(ctx, delay); err != nil {
				c.breaker.RecordFailure()
				c.observeOutcome(op, "canceled")
				return &NetworkError{Err: err}
			}
		}

		status, err := c.doOnce(ctx, method, path, query, body, out)
		if err == nil {
			c.breaker.RecordSuccess()
			c.observeOutcome(op, "success")
			return nil
		}

		var ce *ClientError
		if isClientError(err, &ce) {
			// The host answered; only the request was wrong. Not a host
			// health signal and never retried.
			c.breaker.RecordSuccess()
			c.observeOutcome(op, "client_error")
			return err
		}

		lastErr = err
		lastStatus = status
		c.logger.Warn("crm call failed",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"status", status,
			"error", err,
		)
	}

	c.breaker.RecordFailure()
	c.observeOutcome(op, "retry_exhausted")
	return &RetryExhaustedError{
		Attempts:   c.maxRetries + 1,
		LastStatus: lastStatus,
		Err:        lastErr,
	}
}

// observeOutcome records one logical call outcome and keeps the breaker
// gauge current.
func (c *Client) observeOutcome(op, outcome string) {
	c.metrics.ObserveCall(op, outcome)
	c.metrics.SetBreakerState(string(c.breaker.Status().State))
}

// operationLabel keeps the metric cardinality bounded: method plus the
// first path segment, never ids.
func operationLabel(method, path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return method + " /" + p
}

// doOnce issues one HTTP attempt. It returns the response status when one
// was received, zero for connection-level failures.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, &ClientError{Status: 0, Body: fmt.Sprintf("marshal request: %v", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, &ClientError{Status: 0, Body: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &NetworkError{Err: err}
	}

	if _, retryable := retryableStatuses[resp.StatusCode]; retryable {
		return resp.StatusCode, fmt.Errorf("crm: status %d: %s", resp.StatusCode, truncate(respBody, 300))
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, &ClientError{Status: resp.StatusCode, Body: truncate(respBody, 300)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &ClientError{Status: resp.StatusCode, Body: fmt.Sprintf("unmarshal response: %v", err)}
		}
	}
	return resp.StatusCode, nil
}

func isClientError(err error, target **ClientError) bool {
	ce, ok := err.(*ClientError)
	if ok {
		*target = ce
	}
	return ok
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NormalizePhone strips formatting and prefixes a country code, assuming US
// numbers for bare 10-digit input.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	default:
		return "+" + d
	}
}
