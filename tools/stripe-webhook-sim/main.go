// Command stripe-webhook-sim signs a fake Stripe event and posts it to the
// scheduling or billing webhook so paid bookings and subscriptions can be
// exercised without Stripe.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

type booking struct {
	CoachID       string
	ClientID      string
	SessionTypeID string
	Start         time.Time
	Duration      int
	ClientEmail   string
	AmountCents   int64
}

func main() {
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	var (
		baseURL     = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "gateway base url")
		evtType     = flag.String("type", getenv("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		coachID     = flag.String("coach-id", getenv("COACH_ID", ""), "coach_id metadata")
		clientID    = flag.String("client-id", getenv("CLIENT_ID", ""), "client_id metadata")
		sessionType = flag.String("session-type-id", getenv("SESSION_TYPE_ID", ""), "session_type_id metadata")
		start       = flag.String("start", getenv("SCHEDULED_DATE", tomorrow.Format(time.RFC3339)), "session start, RFC3339")
		duration    = flag.Int("duration", 60, "duration in minutes")
		email       = flag.String("client-email", getenv("CLIENT_EMAIL", ""), "client_email metadata")
		amount      = flag.Int64("amount", 10000, "amount_total in cents")
		sessionID   = flag.String("checkout-id", "", "checkout session id (random when empty)")
		secret      = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		target      = flag.String("target", getenv("SIM_TARGET", "scheduling"), "scheduling or billing")
		tier        = flag.String("tier", getenv("TIER", "ai_basic"), "subscription tier (billing)")
		subStatus   = flag.String("status", "active", "subscription status (billing)")
		subID       = flag.String("subscription-id", "", "stripe subscription id (random when empty, billing)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())

	var (
		payload []byte
		path    string
		ref     string
		err     error
	)
	switch *target {
	case "scheduling":
		if strings.TrimSpace(*coachID) == "" || strings.TrimSpace(*clientID) == "" {
			fatal("COACH_ID and CLIENT_ID are required")
		}
		startAt, perr := time.Parse(time.RFC3339, *start)
		if perr != nil {
			fatal("start must be RFC3339: " + perr.Error())
		}
		if *sessionID == "" {
			*sessionID = fmt.Sprintf("cs_test_%d", now.UnixNano())
		}
		ref = *sessionID
		path = "/api/v1/scheduling/webhooks/stripe"
		payload, err = buildEventJSON(eventID, *evtType, *sessionID, now, booking{
			CoachID:       *coachID,
			ClientID:      *clientID,
			SessionTypeID: *sessionType,
			Start:         startAt,
			Duration:      *duration,
			ClientEmail:   *email,
			AmountCents:   *amount,
		})
	case "billing":
		if strings.TrimSpace(*clientID) == "" {
			fatal("CLIENT_ID is required")
		}
		if *subID == "" {
			*subID = fmt.Sprintf("sub_test_%d", now.UnixNano())
		}
		ref = *subID
		path = "/api/v1/billing/webhooks/stripe"
		typ := *evtType
		if typ == "checkout.session.completed" {
			typ = "customer.subscription.updated"
		}
		payload, err = buildSubscriptionEventJSON(eventID, typ, now, subscription{
			ID:       *subID,
			ClientID: *clientID,
			CoachID:  *coachID,
			Tier:     *tier,
			Status:   *subStatus,
		})
	default:
		fatal("target must be scheduling or billing")
	}
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d event=%s ref=%s\n%s\n", resp.StatusCode, eventID, ref, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType, checkoutID string, t time.Time, b booking) ([]byte, error) {
	var status, paymentStatus string
	switch eventType {
	case "checkout.session.completed":
		status, paymentStatus = "complete", "paid"
	case "checkout.session.expired":
		status, paymentStatus = "expired", "unpaid"
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	metadata := map[string]string{
		"coach_id":         b.CoachID,
		"client_id":        b.ClientID,
		"session_type_id":  b.SessionTypeID,
		"scheduled_date":   b.Start.UTC().Format(time.RFC3339),
		"duration_minutes": strconv.Itoa(b.Duration),
	}
	if b.ClientEmail != "" {
		metadata["client_email"] = b.ClientEmail
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":             checkoutID,
				"object":         "checkout.session",
				"mode":           "payment",
				"status":         status,
				"payment_status": paymentStatus,
				"amount_total":   b.AmountCents,
				"currency":       "usd",
				"metadata":       metadata,
			},
		},
	})
}

type subscription struct {
	ID       string
	ClientID string
	CoachID  string
	Tier     string
	Status   string
}

// buildSubscriptionEventJSON renders a customer.subscription.* event whose
// current period starts at t and runs for thirty days.
func buildSubscriptionEventJSON(eventID, eventType string, t time.Time, s subscription) ([]byte, error) {
	switch eventType {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	status := s.Status
	if eventType == "customer.subscription.deleted" {
		status = "canceled"
	}
	metadata := map[string]string{
		"client_id": s.ClientID,
		"tier":      s.Tier,
	}
	if s.CoachID != "" {
		metadata["coach_id"] = s.CoachID
	}
	obj := map[string]any{
		"id":                   s.ID,
		"object":               "subscription",
		"status":               status,
		"customer":             "cus_test_" + s.ClientID,
		"current_period_start": t.Unix(),
		"current_period_end":   t.Add(30 * 24 * time.Hour).Unix(),
		"cancel_at_period_end": false,
		"metadata":             metadata,
	}
	if status == "canceled" {
		obj["canceled_at"] = t.Unix()
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": obj},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
