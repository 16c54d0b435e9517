package utils

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
)

// VerificationResult is the deliverability check outcome for one address
type VerificationResult struct {
	Email        string `json:"email"`
	Deliverable  bool   `json:"deliverable"`
	Reason       string `json:"reason,omitempty"`
	IsDisposable bool   `json:"is_disposable"`
	HasMX        bool   `json:"has_mx"`
	DomainAge    string `json:"domain_age,omitempty"`
	WHOIS        string `json:"whois,omitempty"`
}

// Well-known disposable domains. The pipeline rejects these before a
// prospect ever reaches the send queue.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"throwaway.email":   true,
	"yopmail.com":       true,
	"sharklasers.com":   true,
	"trashmail.com":     true,
	"getnada.com":       true,
	"maildrop.cc":       true,
}

// VerifyEmailAddress runs syntax, disposable, MX and WHOIS checks.
// It never opens an SMTP conversation; mailbox-level probes get cold
// senders blocklisted.
func VerifyEmailAddress(email string) (*VerificationResult, error) {
	result := &VerificationResult{Email: email}

	if err := checkmail.ValidateFormat(email); err != nil {
		result.Reason = "invalid format"
		return result, nil
	}

	domain := ExtractDomain(email)
	if domain == "" {
		result.Reason = "missing domain"
		return result, nil
	}

	if disposableDomains[domain] {
		result.IsDisposable = true
		result.Reason = "disposable domain"
		return result, nil
	}

	mx, err := lookupMX(domain)
	if err != nil || len(mx) == 0 {
		result.Reason = "no MX records"
		return result, nil
	}
	result.HasMX = true

	if err := checkmail.ValidateHost(domain); err != nil {
		result.Reason = fmt.Sprintf("host validation failed: %v", err)
		return result, nil
	}

	// WHOIS enrichment is best effort
	if info, err := whois.Whois(domain); err == nil {
		result.WHOIS = info
		result.DomainAge = extractCreationDate(info)
	}

	result.Deliverable = true
	return result, nil
}

func ExtractDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func lookupMX(domain string) ([]*net.MX, error) {
	type mxResult struct {
		records []*net.MX
		err     error
	}
	ch := make(chan mxResult, 1)
	go func() {
		records, err := net.LookupMX(domain)
		ch <- mxResult{records, err}
	}()
	select {
	case res := <-ch:
		return res.records, res.err
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("MX lookup for %s timed out", domain)
	}
}

// extractCreationDate pulls the creation date line out of raw WHOIS text
func extractCreationDate(info string) string {
	for _, line := range strings.Split(info, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "creation date:") || strings.Contains(lower, "created:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
