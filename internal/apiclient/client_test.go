package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"repoferry/internal/platform"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New("test", baseURL, nil, zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Tests never really sleep.
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestFetchAllPagination(t *testing.T) {
	t.Run("stops when a page is short, not merely empty", func(t *testing.T) {
		var pages []int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if per := r.URL.Query().Get("per_page"); per != "3" {
				t.Errorf("Expected per_page=3, got %q", per)
			}
			pages = append(pages, page)
			switch page {
			case 1:
				fmt.Fprint(w, `[{"id":1},{"id":2},{"id":3}]`)
			case 2:
				fmt.Fprint(w, `[{"id":4}]`)
			default:
				t.Errorf("Unexpected page request: %d", page)
				fmt.Fprint(w, `[]`)
			}
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithPageSize(3))
		items, err := c.FetchAll(context.Background(), "projects", nil)
		if err != nil {
			t.Fatalf("FetchAll failed: %v", err)
		}
		if len(items) != 4 {
			t.Fatalf("Expected 4 items, got %d", len(items))
		}
		if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
			t.Fatalf("Expected pages [1 2], got %v", pages)
		}
	})

	t.Run("a full page triggers one further request", func(t *testing.T) {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests == 1 {
				fmt.Fprint(w, `[{"id":1},{"id":2}]`)
				return
			}
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithPageSize(2))
		items, err := c.FetchAll(context.Background(), "projects", nil)
		if err != nil {
			t.Fatalf("FetchAll failed: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("Expected 2 items, got %d", len(items))
		}
		if requests != 2 {
			t.Fatalf("Expected exactly 2 requests, got %d", requests)
		}
	})

	t.Run("non-array body is an invalid request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":"not a list"}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL)
		if _, err := c.FetchAll(context.Background(), "projects", nil); !platform.IsKind(err, platform.KindInvalidRequest) {
			t.Fatalf("Expected invalid request error, got %v", err)
		}
	})
}

func TestDoRetryPolicy(t *testing.T) {
	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithRetryPolicy(3, time.Millisecond))
		raw, err := c.FetchOne(context.Background(), "thing", nil)
		if err != nil {
			t.Fatalf("FetchOne failed: %v", err)
		}
		var payload struct {
			OK bool `json:"ok"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil || !payload.OK {
			t.Fatalf("Unexpected body %s (err %v)", raw, err)
		}
		if requests != 3 {
			t.Fatalf("Expected 3 requests, got %d", requests)
		}
	})

	t.Run("exhausted retries surface a transient error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithRetryPolicy(2, time.Millisecond))
		_, err := c.FetchOne(context.Background(), "thing", nil)
		if !platform.IsKind(err, platform.KindTransient) {
			t.Fatalf("Expected transient error, got %v", err)
		}
	})

	t.Run("429 waits for reset without consuming retries", func(t *testing.T) {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests <= 4 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `{}`)
		}))
		defer server.Close()

		// maxRetries 2 would fail after 2 transient attempts; four 429s must
		// still recover because rate waits use a separate, larger budget.
		c := newTestClient(t, server.URL, WithRetryPolicy(2, time.Millisecond))
		if _, err := c.FetchOne(context.Background(), "thing", nil); err != nil {
			t.Fatalf("FetchOne failed: %v", err)
		}
		if requests != 5 {
			t.Fatalf("Expected 5 requests, got %d", requests)
		}
	})

	t.Run("4xx responses are classified and not retried", func(t *testing.T) {
		cases := []struct {
			status int
			kind   platform.Kind
		}{
			{http.StatusUnauthorized, platform.KindAuthentication},
			{http.StatusForbidden, platform.KindAuthorization},
			{http.StatusNotFound, platform.KindNotFound},
			{http.StatusConflict, platform.KindAlreadyExists},
			{http.StatusUnprocessableEntity, platform.KindInvalidRequest},
		}
		for _, tc := range cases {
			var requests int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests++
				w.WriteHeader(tc.status)
			}))
			c := newTestClient(t, server.URL)
			_, err := c.FetchOne(context.Background(), "thing", nil)
			server.Close()
			if !platform.IsKind(err, tc.kind) {
				t.Fatalf("Status %d: expected kind %s, got %v", tc.status, tc.kind, err)
			}
			if requests != 1 {
				t.Fatalf("Status %d: expected a single request, got %d", tc.status, requests)
			}
		}
	})
}

func TestRoundTripPreservesEncodedSegments(t *testing.T) {
	var gotURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.FetchOne(context.Background(), "projects/group%2Fproject", nil); err != nil {
		t.Fatalf("FetchOne failed: %v", err)
	}
	if gotURI != "/projects/group%2Fproject" {
		t.Fatalf("Expected encoded segment to survive, got %q", gotURI)
	}
}

func TestMutateSendsJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Decode body: %v", err)
		}
		if body["name"] != "demo" {
			t.Errorf("Expected name=demo, got %v", body["name"])
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":7}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	raw, err := c.Mutate(context.Background(), http.MethodPost, "projects", map[string]string{"name": "demo"})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if string(raw) != `{"id":7}` {
		t.Fatalf("Unexpected body %s", raw)
	}
}
