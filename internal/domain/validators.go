package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	emailRegex     = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	currencyRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
	shortCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)
)

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidateShortCode checks the short code alphabet and length.
func ValidateShortCode(code string) error {
	if !shortCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid short code: %q", code)
	}
	return nil
}

// ValidateDestinationURL requires an absolute http(s) URL.
func ValidateDestinationURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid destination url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("destination url must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("destination url must have a host")
	}
	return nil
}

// ValidateOrderID rejects empty or oversized order identifiers.
func ValidateOrderID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("orderId is required")
	}
	if len(orderID) > 128 {
		return fmt.Errorf("orderId exceeds 128 characters")
	}
	return nil
}
