package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteMapsCodeToStatus(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{BadRequest, http.StatusBadRequest},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		Write(rec, New(tc.code, "boom"))
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.code, tc.status, rec.Code)
		}
		var got body
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Error.Code != tc.code || got.Error.Message != "boom" {
			t.Fatalf("unexpected body: %+v", got)
		}
	}
}

func TestWriteHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var got body
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Error.Message != "internal server error" {
		t.Fatalf("leaked message: %q", got.Error.Message)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := New(BadRequest, "this time slot is no longer available")
	wrapped := fmt.Errorf("book: %w", base)
	if !IsCode(wrapped, BadRequest) {
		t.Fatal("expected BadRequest through wrapping")
	}
	if IsCode(wrapped, NotFound) {
		t.Fatal("unexpected NotFound")
	}
}
