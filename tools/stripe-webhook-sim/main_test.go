package main

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildEventJSONCompleted(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	raw, err := buildEventJSON("evt_1", "checkout.session.completed", "cs_1", start, booking{
		CoachID:  "coach-1",
		ClientID: "client-1",
		Start:    start,
		Duration: 45,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var evt struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string            `json:"id"`
				PaymentStatus string            `json:"payment_status"`
				Metadata      map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj := evt.Data.Object
	if obj.ID != "cs_1" || obj.PaymentStatus != "paid" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if obj.Metadata["scheduled_date"] != "2026-03-02T15:00:00Z" || obj.Metadata["duration_minutes"] != "45" {
		t.Fatalf("unexpected metadata: %v", obj.Metadata)
	}
	if _, ok := obj.Metadata["client_email"]; ok {
		t.Fatalf("empty email should be omitted")
	}
}

func TestBuildEventJSONRejectsUnknownType(t *testing.T) {
	if _, err := buildEventJSON("evt_1", "invoice.paid", "cs_1", time.Now(), booking{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildSubscriptionEventJSON(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	raw, err := buildSubscriptionEventJSON("evt_2", "customer.subscription.deleted", now, subscription{
		ID:       "sub_1",
		ClientID: "client-1",
		Tier:     "human_basic",
		Status:   "active",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var evt struct {
		Data struct {
			Object struct {
				Status     string            `json:"status"`
				CanceledAt int64             `json:"canceled_at"`
				Metadata   map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj := evt.Data.Object
	if obj.Status != "canceled" || obj.CanceledAt != now.Unix() {
		t.Fatalf("deleted event should be canceled: %+v", obj)
	}
	if obj.Metadata["tier"] != "human_basic" || obj.Metadata["client_id"] != "client-1" {
		t.Fatalf("unexpected metadata: %v", obj.Metadata)
	}
	if _, ok := obj.Metadata["coach_id"]; ok {
		t.Fatalf("empty coach_id should be omitted")
	}
	if _, err := buildSubscriptionEventJSON("evt_3", "checkout.session.completed", now, subscription{}); err == nil {
		t.Fatalf("expected error for non-subscription event")
	}
}
