package handlers

import (
	"net/http"

	"github.com/purposefullive/coaching-platform/libs/httpx"
)

const prefix = "/api/v1/scheduling"

// Register mounts every scheduling route on mux.
func Register(mux *http.ServeMux, slots *SlotHandler, sessions *SessionHandler, calendar *CalendarHandler, pay *PaymentHandler) {
	mux.Handle(prefix+"/slots", httpx.MethodHandlers{http.MethodGet: slots.Slots})
	mux.Handle(prefix+"/weekly", httpx.MethodHandlers{http.MethodGet: slots.Weekly})
	mux.Handle(prefix+"/check", httpx.MethodHandlers{http.MethodGet: slots.Check})

	mux.Handle(prefix+"/availability", httpx.MethodHandlers{
		http.MethodGet:    calendar.ListAvailability,
		http.MethodPut:    calendar.PutAvailability,
		http.MethodDelete: calendar.DeleteAvailability,
	})
	mux.Handle(prefix+"/availability/active", httpx.MethodHandlers{http.MethodPost: calendar.ToggleAvailability})
	mux.Handle(prefix+"/availability/seed", httpx.MethodHandlers{http.MethodPost: calendar.SeedAvailability})
	mux.Handle(prefix+"/exceptions", httpx.MethodHandlers{
		http.MethodGet:    calendar.ListExceptions,
		http.MethodPost:   calendar.CreateException,
		http.MethodDelete: calendar.DeleteException,
	})
	mux.Handle(prefix+"/session-types", httpx.MethodHandlers{
		http.MethodGet:  calendar.ListSessionTypes,
		http.MethodPost: calendar.CreateSessionType,
	})
	mux.Handle(prefix+"/session-types/active", httpx.MethodHandlers{http.MethodPost: calendar.ToggleSessionType})

	mux.Handle(prefix+"/sessions", httpx.MethodHandlers{
		http.MethodGet:  sessions.ListCoach,
		http.MethodPost: sessions.Book,
	})
	mux.Handle(prefix+"/sessions/get", httpx.MethodHandlers{http.MethodGet: sessions.Get})
	mux.Handle(prefix+"/sessions/client", httpx.MethodHandlers{http.MethodGet: sessions.ListClient})
	mux.Handle(prefix+"/sessions/reschedule", httpx.MethodHandlers{http.MethodPost: sessions.Reschedule})
	mux.Handle(prefix+"/sessions/cancel", httpx.MethodHandlers{http.MethodPost: sessions.Cancel})
	mux.Handle(prefix+"/sessions/status", httpx.MethodHandlers{http.MethodPost: sessions.Status})
	mux.Handle(prefix+"/sessions/files", httpx.MethodHandlers{
		http.MethodGet:  sessions.Files,
		http.MethodPost: sessions.Upload,
	})

	mux.Handle(prefix+"/checkout", httpx.MethodHandlers{http.MethodPost: pay.Checkout})
	mux.Handle(prefix+"/webhooks/stripe", httpx.MethodHandlers{http.MethodPost: pay.StripeWebhook})
}
