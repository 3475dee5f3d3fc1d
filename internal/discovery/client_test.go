package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("capability"); got != "gov.rfp.bidder" {
			t.Errorf("capability = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"agents": [
			{"identity": "did:agent:bidder1", "endpoint": "http://bidder1/bid", "capabilities": ["gov.rfp.bidder"]}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	agents, err := c.Discover(context.Background(), "gov.rfp.bidder")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(agents) != 1 || agents[0].Identity != "did:agent:bidder1" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestDiscoverWithoutIndexURL(t *testing.T) {
	c := NewClient("")
	_, err := c.Discover(context.Background(), "gov.rfp.bidder")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestDiscoverIndexError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Discover(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestDiscoverRequiresCapability(t *testing.T) {
	c := NewClient("http://unused")
	if _, err := c.Discover(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty capability")
	}
}

func TestDiscoverContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"agents": []}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL)
	if _, err := c.Discover(ctx, "x"); err == nil {
		t.Fatal("expected context deadline error")
	}
}
