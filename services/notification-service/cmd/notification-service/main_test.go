package main

import "testing"

func TestNewSMSSenderSelectsProvider(t *testing.T) {
	if got := newSMSSender("", "", "").ProviderID(); got != "sms-noop" {
		t.Fatalf("empty provider -> %s", got)
	}
	if got := newSMSSender("NOOP", "", "").ProviderID(); got != "sms-noop" {
		t.Fatalf("noop provider -> %s", got)
	}
	if got := newSMSSender("webhook", "http://sms.local", "").ProviderID(); got != "sms-webhook" {
		t.Fatalf("webhook provider -> %s", got)
	}
}
