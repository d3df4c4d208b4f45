package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func TestHealthAlwaysOK(t *testing.T) {
	app := newTestApp(&fakeImageService{}, newMemoryRepo())

	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Fatalf("status field = %v, want ok", got)
	}
}

func TestReadyReflectsDatabaseState(t *testing.T) {
	app := newTestApp(&fakeImageService{}, newMemoryRepo())
	app.DB = fakePinger{}

	rec := httptest.NewRecorder()
	app.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	app.DB = fakePinger{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	app.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := decodeBody(t, rec)["status"]; got != "unavailable" {
		t.Fatalf("status field = %v, want unavailable", got)
	}
}

func TestReadyWithoutDatabaseIsReady(t *testing.T) {
	app := newTestApp(&fakeImageService{}, newMemoryRepo())

	rec := httptest.NewRecorder()
	app.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
