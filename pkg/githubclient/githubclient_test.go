// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package githubclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-github/v56/github"
)

func newTestClient(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh, err := NewFromHTTPClient(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("NewFromHTTPClient: %v", err)
	}
	return gh
}

func TestListBranches_FollowsLinkPagination(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/o/r/branches", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v3/repos/o/r/branches?page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[{"name": "main"}, {"name": "dev"}]`)
		case "2":
			fmt.Fprint(w, `[{"name": "feature-x"}]`)
		default:
			http.Error(w, "no such page", http.StatusNotFound)
		}
	})

	gh := newTestClient(t, mux)
	branches, err := gh.ListBranches(context.Background(), "o", "r")
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 3 {
		t.Fatalf("branches = %d, want 3 across two pages", len(branches))
	}
	if branches[2].GetName() != "feature-x" {
		t.Errorf("last branch = %q, want feature-x from page 2", branches[2].GetName())
	}
}

func TestListPullRequestFiles_StopsAtMaxFiles(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/o/r/pulls/1/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Every page links to the next one; the client must stop on its own.
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v3/repos/o/r/pulls/1/files?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[`)
		for i := 0; i < 100; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"filename": "file-%s-%d.go"}`, r.URL.Query().Get("page"), i)
		}
		fmt.Fprint(w, `]`)
	})

	gh := newTestClient(t, mux)
	files, err := gh.ListPullRequestFiles(context.Background(), "o", "r", 1, 150)
	if err != nil {
		t.Fatalf("ListPullRequestFiles: %v", err)
	}
	if len(files) != 150 {
		t.Errorf("files = %d, want bounded at 150", len(files))
	}
}

func TestGetRepository_NotFound(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/o/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	})

	gh := newTestClient(t, mux)
	if _, err := gh.GetRepository(context.Background(), "o", "missing"); !errors.Is(err, ErrRepoNotFoundOnGitHub) {
		t.Errorf("err = %v, want ErrRepoNotFoundOnGitHub", err)
	}
}

func TestGetIssue_Unauthorized(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/o/r/issues/1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	})

	gh := newTestClient(t, mux)
	if _, err := gh.GetIssue(context.Background(), "o", "r", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	tenSeconds := 10 * time.Second

	cases := []struct {
		name   string
		err    error
		want   time.Duration
		wantOK bool
		approx bool
	}{
		{
			name:   "abuse_with_retry_after",
			err:    &github.AbuseRateLimitError{RetryAfter: &tenSeconds},
			want:   tenSeconds,
			wantOK: true,
		},
		{
			name:   "abuse_without_hint_defaults",
			err:    &github.AbuseRateLimitError{},
			want:   defaultRetryAfter,
			wantOK: true,
		},
		{
			name: "primary_limit_uses_reset",
			err: &github.RateLimitError{
				Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(5 * time.Minute)}},
			},
			want:   5 * time.Minute,
			wantOK: true,
			approx: true,
		},
		{
			name:   "plain_error_is_not_rate_limited",
			err:    errors.New("boom"),
			wantOK: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := RetryAfter(tc.err)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if tc.approx {
				if got <= 0 || got > tc.want {
					t.Errorf("retryAfter = %v, want in (0, %v]", got, tc.want)
				}
				return
			}
			if got != tc.want {
				t.Errorf("retryAfter = %v, want %v", got, tc.want)
			}
		})
	}
}
