package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenety/saaskit/pkg/webhook"
)

// Polar API base URLs.
const (
	PolarAPIURL        = "https://api.polar.sh/v1"
	PolarSandboxAPIURL = "https://sandbox-api.polar.sh/v1"
)

// PolarConfig holds Polar credentials.
type PolarConfig struct {
	AccessToken   string        `env:"POLAR_ACCESS_TOKEN"`
	WebhookSecret string        `env:"POLAR_WEBHOOK_SECRET"`
	UseSandbox    bool          `env:"POLAR_USE_SANDBOX" envDefault:"false"`
	APIURL        string        `env:"POLAR_API_URL"`
	Timeout       time.Duration `env:"POLAR_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether an access token is configured.
func (c PolarConfig) Enabled() bool {
	return c.AccessToken != ""
}

func (c PolarConfig) baseURL() string {
	switch {
	case c.APIURL != "":
		return strings.TrimRight(c.APIURL, "/")
	case c.UseSandbox:
		return PolarSandboxAPIURL
	}
	return PolarAPIURL
}

// PolarProvider adapts the Polar REST API to PaymentProvider.
type PolarProvider struct {
	baseURL  string
	token    string
	http     *http.Client
	verifier *webhook.Verifier
}

// PolarOption configures a PolarProvider.
type PolarOption func(*PolarProvider)

// WithPolarHTTPClient replaces the default client built from the config timeout.
func WithPolarHTTPClient(c *http.Client) PolarOption {
	return func(p *PolarProvider) {
		if c != nil {
			p.http = c
		}
	}
}

// WithPolarWebhookVerifier replaces the verifier built from the config secret.
func WithPolarWebhookVerifier(v *webhook.Verifier) PolarOption {
	return func(p *PolarProvider) {
		if v != nil {
			p.verifier = v
		}
	}
}

func NewPolarProvider(cfg PolarConfig, opts ...PolarOption) (*PolarProvider, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: POLAR_ACCESS_TOKEN is empty", ErrProviderNotConfigured)
	}

	p := &PolarProvider{
		baseURL: cfg.baseURL(),
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.WebhookSecret != "" {
		v, err := webhook.NewVerifier(cfg.WebhookSecret)
		if err != nil {
			return nil, errors.Join(ErrProviderNotConfigured, err)
		}
		p.verifier = v
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *PolarProvider) Name() Provider { return ProviderPolar }

type polarList[T any] struct {
	Items []T `json:"items"`
}

type polarCustomer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

type polarSubscription struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	CustomerID        string         `json:"customer_id"`
	ProductID         string         `json:"product_id"`
	CurrentPeriodEnd  polarTime      `json:"current_period_end"`
	CreatedAt         polarTime      `json:"created_at"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	Customer          *polarCustomer `json:"customer,omitempty"`
}

type polarCheckout struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CustomerID         string            `json:"customer_id"`
	CustomerEmail      string            `json:"customer_email"`
	SubscriptionID     string            `json:"subscription_id"`
	ProductID          string            `json:"product_id"`
	ExternalCustomerID string            `json:"external_customer_id"`
	CustomerExternalID string            `json:"customer_external_id"`
	Metadata           map[string]string `json:"metadata"`
}

// Polar checkout status that marks a paid, finished checkout.
const polarCheckoutSucceeded = "succeeded"

func (c polarCheckout) clientReference() string {
	switch {
	case c.CustomerExternalID != "":
		return c.CustomerExternalID
	case c.ExternalCustomerID != "":
		return c.ExternalCustomerID
	}
	return c.Metadata["user_id"]
}

func (s polarSubscription) snapshot() Snapshot {
	snap := Snapshot{
		Provider:          ProviderPolar,
		CustomerID:        s.CustomerID,
		SubscriptionID:    s.ID,
		PriceID:           s.ProductID,
		Status:            s.Status,
		CurrentPeriodEnd:  s.CurrentPeriodEnd.Time,
		CreatedAt:         s.CreatedAt.Time,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if snap.CustomerID == "" && s.Customer != nil {
		snap.CustomerID = s.Customer.ID
	}
	return snap
}

func (p *PolarProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	var out polarList[polarCustomer]
	q := url.Values{"email": {email}, "limit": {"1"}}
	if err := p.do(ctx, http.MethodGet, "/customers?"+q.Encode(), nil, &out, ErrCustomerNotFound); err != nil {
		return "", err
	}
	if len(out.Items) == 0 {
		return "", ErrCustomerNotFound
	}
	return out.Items[0].ID, nil
}

func (p *PolarProvider) ListActiveSubscriptions(ctx context.Context, customerID string) ([]Snapshot, error) {
	var out polarList[polarSubscription]
	q := url.Values{"customer_id": {customerID}, "active": {"true"}}
	if err := p.do(ctx, http.MethodGet, "/subscriptions?"+q.Encode(), nil, &out, ErrCustomerNotFound); err != nil {
		return nil, err
	}

	subs := make([]Snapshot, 0, len(out.Items))
	for _, s := range out.Items {
		subs = append(subs, s.snapshot())
	}
	return subs, nil
}

func (p *PolarProvider) GetSubscription(ctx context.Context, subscriptionID string) (Snapshot, error) {
	var out polarSubscription
	if err := p.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out, ErrSubscriptionNotFound); err != nil {
		return Snapshot{}, err
	}
	return out.snapshot(), nil
}

// SetCancelAtPeriodEnd schedules or revokes the cancellation of a
// subscription at the end of its current period.
func (p *PolarProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Snapshot, error) {
	body := struct {
		CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
	}{CancelAtPeriodEnd: cancel}

	var out polarSubscription
	if err := p.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(subscriptionID), body, &out, ErrSubscriptionNotFound); err != nil {
		return Snapshot{}, err
	}
	return out.snapshot(), nil
}

func (p *PolarProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var out polarCheckout
	if err := p.do(ctx, http.MethodGet, "/checkouts/"+url.PathEscape(sessionID), nil, &out, ErrCheckoutNotFound); err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{
		ID:              out.ID,
		Provider:        ProviderPolar,
		Completed:       out.Status == polarCheckoutSucceeded,
		Status:          out.Status,
		CustomerID:      out.CustomerID,
		CustomerEmail:   out.CustomerEmail,
		SubscriptionID:  out.SubscriptionID,
		PriceID:         out.ProductID,
		ClientReference: out.clientReference(),
	}, nil
}

func (p *PolarProvider) CustomerPortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	body := struct {
		CustomerID string `json:"customer_id"`
		ReturnURL  string `json:"return_url,omitempty"`
	}{CustomerID: customerID, ReturnURL: returnURL}

	var out struct {
		CustomerPortalURL string `json:"customer_portal_url"`
	}
	if err := p.do(ctx, http.MethodPost, "/customer-sessions", body, &out, ErrCustomerNotFound); err != nil {
		return "", err
	}
	return out.CustomerPortalURL, nil
}

type polarEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseWebhook verifies the Standard Webhooks headers and normalizes the event.
func (p *PolarProvider) ParseWebhook(payload []byte, header http.Header) (WebhookEvent, error) {
	if p.verifier == nil {
		return WebhookEvent{}, fmt.Errorf("%w: POLAR_WEBHOOK_SECRET is empty", ErrProviderNotConfigured)
	}
	if err := p.verifier.Verify(payload, header); err != nil {
		return WebhookEvent{}, errors.Join(ErrInvalidSignature, err)
	}

	var raw polarEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return WebhookEvent{}, errors.Join(ErrInvalidPayload, err)
	}

	evt := WebhookEvent{ID: header.Get(webhook.HeaderID), Type: raw.Type, Kind: WebhookIgnored}

	switch raw.Type {
	case "checkout.created", "checkout.updated", "checkout.succeeded":
		var c polarCheckout
		if err := json.Unmarshal(raw.Data, &c); err != nil {
			return evt, errors.Join(ErrInvalidPayload, err)
		}
		if c.Status != polarCheckoutSucceeded {
			return evt, nil
		}
		evt.Kind = WebhookCheckoutCompleted
		evt.SubscriptionID = c.SubscriptionID
		evt.CustomerID = c.CustomerID
		evt.CustomerEmail = c.CustomerEmail
		evt.ClientReference = c.clientReference()
		evt.PriceID = c.ProductID

	case "subscription.created", "subscription.updated", "subscription.active",
		"subscription.canceled", "subscription.uncanceled", "subscription.revoked":
		var s polarSubscription
		if err := json.Unmarshal(raw.Data, &s); err != nil {
			return evt, errors.Join(ErrInvalidPayload, err)
		}
		evt.Kind = WebhookSubscriptionChanged
		// subscription.canceled only schedules the end of the period; revoked ends access.
		if raw.Type == "subscription.revoked" {
			evt.Kind = WebhookSubscriptionCanceled
		}
		snap := s.snapshot()
		evt.SubscriptionID = snap.SubscriptionID
		evt.CustomerID = snap.CustomerID
		evt.PriceID = snap.PriceID
		if s.Customer != nil {
			evt.CustomerEmail = s.Customer.Email
			evt.ClientReference = s.Customer.ExternalID
		}
	}

	return evt, nil
}

// do performs one API call. A 404 maps to notFound, other failures to
// ErrProviderUnavailable.
func (p *PolarProvider) do(ctx context.Context, method, path string, in, out any, notFound error) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Join(ErrInvalidInput, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: polar %s %s", notFound, method, path)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: polar %s %s: status %d: %s", ErrProviderUnavailable, method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrProviderUnavailable, fmt.Errorf("decode polar response: %w", err))
	}
	return nil
}

// polarTime accepts RFC 3339 strings and unix seconds.
type polarTime struct {
	time.Time
}

func (t *polarTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.Unix(sec, 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("polar time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
