package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"repoferry/internal/platform"
)

func newTestConnector(t *testing.T, org string, handler http.Handler) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(context.Background(), "token", zaptest.NewLogger(t), Options{
		BaseURL:      server.URL,
		Organization: org,
		VerifyTLS:    true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(context.Background(), " ", nil, Options{}); !platform.IsKind(err, platform.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestOwner(t *testing.T) {
	t.Run("configured organization wins", func(t *testing.T) {
		c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("Unexpected request %s", r.URL.Path)
		}))

		owner, err := c.Owner(context.Background())
		if err != nil {
			t.Fatalf("Owner failed: %v", err)
		}
		if owner != "acme" {
			t.Fatalf("Expected acme, got %q", owner)
		}
	})

	t.Run("authenticated user resolved once", func(t *testing.T) {
		var calls int
		c := newTestConnector(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/user" {
				t.Errorf("Unexpected path %q", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
				t.Errorf("Expected bearer auth, got %q", auth)
			}
			calls++
			fmt.Fprint(w, `{"login":"octocat"}`)
		}))

		for i := 0; i < 2; i++ {
			owner, err := c.Owner(context.Background())
			if err != nil {
				t.Fatalf("Owner failed: %v", err)
			}
			if owner != "octocat" {
				t.Fatalf("Expected octocat, got %q", owner)
			}
		}
		if calls != 1 {
			t.Fatalf("Expected a single /user call, got %d", calls)
		}
	})

	t.Run("rejected credential is an authentication failure", func(t *testing.T) {
		c := newTestConnector(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

		if _, err := c.Owner(context.Background()); !platform.IsKind(err, platform.KindAuthentication) {
			t.Fatalf("Expected authentication failure, got %v", err)
		}
	})
}

func TestCreateRepository(t *testing.T) {
	t.Run("org endpoint when an organization is configured", func(t *testing.T) {
		c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/orgs/acme/repos" {
				t.Errorf("Unexpected path %q", r.URL.Path)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("Decode body: %v", err)
			}
			if body["private"] != true {
				t.Errorf("Expected private=true, got %v", body["private"])
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"name":"svc","full_name":"acme/svc","owner":{"login":"acme"},"private":true,"html_url":"https://github.example/acme/svc"}`)
		}))

		repo, err := c.CreateRepository(context.Background(), platform.RepoSpec{Name: "svc", Visibility: platform.VisibilityPrivate})
		if err != nil {
			t.Fatalf("CreateRepository failed: %v", err)
		}
		if repo.FullName != "acme/svc" || repo.Visibility != platform.VisibilityPrivate {
			t.Fatalf("Unexpected repo %+v", repo)
		}
	})

	t.Run("user endpoint without an organization", func(t *testing.T) {
		c := newTestConnector(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/user/repos" {
				t.Errorf("Unexpected path %q", r.URL.Path)
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"name":"svc","full_name":"octocat/svc","owner":{"login":"octocat"}}`)
		}))

		if _, err := c.CreateRepository(context.Background(), platform.RepoSpec{Name: "svc"}); err != nil {
			t.Fatalf("CreateRepository failed: %v", err)
		}
	})

	t.Run("422 name exists maps to already exists", func(t *testing.T) {
		c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Repository creation failed.","errors":[{"message":"name already exists on this account"}]}`)
		}))

		_, err := c.CreateRepository(context.Background(), platform.RepoSpec{Name: "dup"})
		if !platform.IsKind(err, platform.KindAlreadyExists) {
			t.Fatalf("Expected already exists, got %v", err)
		}
	})
}

func TestAttachTopic(t *testing.T) {
	var putBody map[string]any
	c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/svc/topics" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"names":["existing"]}`)
		case http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&putBody); err != nil {
				t.Errorf("Decode body: %v", err)
			}
			fmt.Fprint(w, `{"names":["existing","gitlab-platform"]}`)
		}
	}))

	if err := c.AttachTopic(context.Background(), "svc", "gitlab-platform"); err != nil {
		t.Fatalf("AttachTopic failed: %v", err)
	}
	names, _ := putBody["names"].([]any)
	if len(names) != 2 || names[0] != "existing" || names[1] != "gitlab-platform" {
		t.Fatalf("Unexpected names %v", putBody["names"])
	}

	// A second attach with the topic already present must not PUT again.
	putBody = nil
	c2 := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Unexpected %s request", r.Method)
		}
		fmt.Fprint(w, `{"names":["gitlab-platform"]}`)
	}))
	if err := c2.AttachTopic(context.Background(), "svc", "gitlab-platform"); err != nil {
		t.Fatalf("AttachTopic failed: %v", err)
	}
}

func TestCompareRefs(t *testing.T) {
	c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/svc/compare/base123...head456" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"ahead_by": 2,
			"behind_by": 1,
			"commits": [
				{"sha":"c1","commit":{"message":"first\n\nbody","author":{"name":"rivka"}}},
				{"sha":"c2","commit":{"message":"second","author":{"name":"amir"}}}
			]
		}`)
	}))

	comparison, err := c.CompareRefs(context.Background(), "svc", "base123", "head456")
	if err != nil {
		t.Fatalf("CompareRefs failed: %v", err)
	}
	if comparison.AheadBy != 2 || comparison.BehindBy != 1 {
		t.Fatalf("Expected 2/1, got %d/%d", comparison.AheadBy, comparison.BehindBy)
	}
	if comparison.Commits[0].Title != "first" {
		t.Fatalf("Expected first line only, got %q", comparison.Commits[0].Title)
	}
}

func TestListBranches(t *testing.T) {
	c := newTestConnector(t, "acme", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/svc/branches" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `[{"name":"main","commit":{"sha":"abc"}},{"name":"dev","commit":{"sha":"def"}}]`)
	}))

	refs, err := c.ListBranches(context.Background(), "svc")
	if err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if len(refs) != 2 || refs[0].CommitID != "abc" {
		t.Fatalf("Unexpected refs %+v", refs)
	}
}

func TestGrantTeamRequiresOrganization(t *testing.T) {
	c := newTestConnector(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"octocat"}`)
	}))

	if err := c.GrantTeam(context.Background(), "svc", "platform", "push"); !platform.IsKind(err, platform.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestResolveProjectRequiresName(t *testing.T) {
	c := newTestConnector(t, "acme", http.NotFoundHandler())
	if _, err := c.ResolveProject(context.Background(), platform.ProjectRef{ID: 3}); !platform.IsKind(err, platform.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}
