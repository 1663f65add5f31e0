// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// Subscription plans and their prices in Tanzanian shillings.
const (
	PlanDaily   = "daily"
	PlanWeekly  = "weekly"
	PlanMonthly = "monthly"
)

// PlanPrices maps plan names to TZS amounts shown in the purchase
// screen.
var PlanPrices = map[string]int{
	PlanDaily:   1500,
	PlanWeekly:  8000,
	PlanMonthly: 25000,
}

// phonePattern matches Tanzanian MSISDNs in international format
// without the plus sign, e.g. 255712345678.
var phonePattern = regexp.MustCompile(`^255\d{9}$`)

// ValidatePhone checks a payment phone number.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("phone number must match 255XXXXXXXXX")
	}
	return nil
}

// OrderResponse is the /create-subscription-order response.
type OrderResponse struct {
	PaymentURL string `json:"payment_url"`
	OrderID    string `json:"order_id"`
}

// Payment is one entry of a user's payment history.
type Payment struct {
	ID        string    `json:"id"`
	Plan      string    `json:"plan"`
	Amount    int       `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSubscriptionOrder starts a mobile-money payment for plan and
// returns the payment URL the user completes it at.
func (c *Client) CreateSubscriptionOrder(ctx context.Context, plan, phone string) (*OrderResponse, error) {
	if _, ok := PlanPrices[plan]; !ok {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}

	body := map[string]string{"plan": plan, "phone": phone}
	var order OrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/create-subscription-order", body, &order); err != nil {
		return nil, err
	}
	if order.PaymentURL == "" {
		return nil, fmt.Errorf("%w: order response missing payment_url", ErrProtocol)
	}
	return &order, nil
}

// Payments fetches the user's payment history.
func (c *Client) Payments(ctx context.Context, username string) ([]Payment, error) {
	var payments []Payment
	path := "/users/" + url.PathEscape(username) + "/payments"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}
