//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/auth"
	"github.com/reflink/platform/internal/domain"
	"github.com/reflink/platform/internal/provider"
	"github.com/reflink/platform/internal/service"
	"github.com/shopspring/decimal"
)

var noRedirectClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// GET performs an unauthenticated GET request without following redirects.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := noRedirectClient.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.send(http.MethodPost, path, body, token)
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.send(http.MethodGet, path, nil, token)
}

// AuthPATCH performs an authenticated PATCH request.
func (env *TestEnv) AuthPATCH(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.send(http.MethodPatch, path, body, token)
}

func (env *TestEnv) send(method, path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// PostWebhook sends a signed order webhook for event (completed, paid or cancelled).
func (env *TestEnv) PostWebhook(event string, payload interface{}) *http.Response {
	env.t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		env.t.Fatalf("PostWebhook: encode: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/webhooks/orders/"+event, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("PostWebhook: new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", provider.NewWebhookVerifier(TestWebhookSecret).Header(body, env.Clock.Now()))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("PostWebhook: %v", err)
	}
	return resp
}

// AdminToken generates a JWT for an admin user with the given role.
func (env *TestEnv) AdminToken(role domain.AdminRole) string {
	env.t.Helper()
	token, err := env.JWTMgr.Issue(auth.RealmAdmin, auth.Subject{ID: uuid.New(), Email: "admin@test.com", Role: role})
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// SeedAffiliate creates an affiliate with a bank and a card destination at the given rate.
func (env *TestEnv) SeedAffiliate(email, rate string) *domain.Affiliate {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := env.Services.Affiliates.CreateAffiliate(ctx, service.CreateAffiliateInput{
		Email:          email,
		Name:           "Integration Affiliate",
		Password:       "securepass123",
		CommissionRate: decimal.RequireFromString(rate),
		BankIBAN:       "TR330006100519786457841326",
		CardAccountRef: "acct_integration",
	})
	if err != nil {
		env.t.Fatalf("SeedAffiliate: %v", err)
	}
	return a
}

// SeedLink creates an active link for an affiliate.
func (env *TestEnv) SeedLink(a *domain.Affiliate, shortCode string) *domain.Link {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := env.Services.Tracking.CreateLink(ctx, service.CreateLinkInput{
		AffiliateID:    a.ID,
		DestinationURL: "https://shop.example.com/landing?utm_source=aff",
		ShortCode:      shortCode,
	})
	if err != nil {
		env.t.Fatalf("SeedLink: %v", err)
	}
	return link
}

// Click follows a short link and returns the click ID carried to the destination.
// It waits for the background click write to land.
func (env *TestEnv) Click(shortCode string) uuid.UUID {
	env.t.Helper()
	resp := env.GET("/s/" + shortCode)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		env.t.Fatalf("Click: expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		env.t.Fatalf("Click: parse location: %v", err)
	}
	id, err := uuid.Parse(loc.Query().Get(TestClickParam))
	if err != nil {
		env.t.Fatalf("Click: no click id in %s", loc)
	}
	if err := env.Services.Tracking.Wait(context.Background()); err != nil {
		env.t.Fatalf("Click: wait: %v", err)
	}
	return id
}

// ApprovedOrder attributes an order through a fresh click and approves it.
func (env *TestEnv) ApprovedOrder(shortCode, orderID string, totalAmount string) {
	env.t.Helper()
	clickID := env.Click(shortCode)

	resp := env.PostWebhook("completed", map[string]interface{}{
		"orderId":     orderID,
		"totalAmount": json.Number(totalAmount),
		"clickId":     clickID,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("ApprovedOrder: completed returned %d", resp.StatusCode)
	}

	resp = env.PostWebhook("paid", map[string]string{"orderId": orderID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("ApprovedOrder: paid returned %d", resp.StatusCode)
	}
}
