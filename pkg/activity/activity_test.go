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

package activity

import (
	"strings"
	"testing"

	"github.com/google/go-github/v56/github"
)

func sender() *github.User {
	return &github.User{
		ID:        github.Int64(1001),
		Login:     github.String("testuser"),
		AvatarURL: github.String("https://example.com/a.png"),
	}
}

func TestMapEvent(t *testing.T) {
	t.Parallel()

	longBody := strings.Repeat("x", 300)

	cases := []struct {
		name      string
		eventName string
		action    string
		evt       any
		wantNil   bool
		wantType  string
		wantTitle string
		wantDesc  string
		wantNum   *int
	}{
		{
			name:      "issue_opened_with_preview",
			eventName: "issues", action: "opened",
			evt: &github.IssuesEvent{
				Issue: &github.Issue{
					Number: github.Int(1), Title: github.String("Test issue"),
					Body: github.String(longBody),
				},
				Sender: sender(),
			},
			wantType:  "issue.opened",
			wantTitle: "Test issue",
			wantDesc:  strings.Repeat("x", 200),
			wantNum:   github.Int(1),
		},
		{
			name:      "issue_closed_no_preview",
			eventName: "issues", action: "closed",
			evt: &github.IssuesEvent{
				Issue:  &github.Issue{Number: github.Int(1), Title: github.String("T"), Body: github.String("body")},
				Sender: sender(),
			},
			wantType: "issue.closed",
			wantTitle: "T",
			wantNum:   github.Int(1),
		},
		{
			name:      "pr_opened",
			eventName: "pull_request", action: "opened",
			evt: &github.PullRequestEvent{
				PullRequest: &github.PullRequest{Number: github.Int(2), Title: github.String("PR"), Body: github.String("b")},
				Sender:      sender(),
			},
			wantType:  "pr.opened",
			wantTitle: "PR",
			wantDesc:  "b",
			wantNum:   github.Int(2),
		},
		{
			name:      "comment_on_issue",
			eventName: "issue_comment", action: "created",
			evt: &github.IssueCommentEvent{
				Issue:   &github.Issue{Number: github.Int(3), Title: github.String("I")},
				Comment: &github.IssueComment{Body: github.String("nice")},
				Sender:  sender(),
			},
			wantType: "issue_comment.created",
			wantTitle: "I",
			wantDesc:  "nice",
			wantNum:   github.Int(3),
		},
		{
			name:      "comment_on_pr",
			eventName: "issue_comment", action: "created",
			evt: &github.IssueCommentEvent{
				Issue: &github.Issue{
					Number:           github.Int(4),
					Title:            github.String("P"),
					PullRequestLinks: &github.PullRequestLinks{},
				},
				Comment: &github.IssueComment{Body: github.String("lgtm")},
				Sender:  sender(),
			},
			wantType: "pr_comment.created",
			wantTitle: "P",
			wantDesc:  "lgtm",
			wantNum:   github.Int(4),
		},
		{
			name:      "push",
			eventName: "push", action: "",
			evt: &github.PushEvent{
				Ref: github.String("refs/heads/main"),
				Commits: []*github.HeadCommit{
					{Message: github.String("feat: init\n\nbody")},
					{Message: github.String("fix")},
				},
				Sender: sender(),
			},
			wantType:  "push",
			wantTitle: "Pushed 2 commits to main",
			wantDesc:  "feat: init",
		},
		{
			name:      "push_tag_ignored",
			eventName: "push", action: "",
			evt: &github.PushEvent{
				Ref:    github.String("refs/tags/v1.0.0"),
				Sender: sender(),
			},
			wantNil: true,
		},
		{
			name:      "review_submitted",
			eventName: "pull_request_review", action: "submitted",
			evt: &github.PullRequestReviewEvent{
				Review:      &github.PullRequestReview{State: github.String("APPROVED")},
				PullRequest: &github.PullRequest{Number: github.Int(5), Title: github.String("R")},
				Sender:      sender(),
			},
			wantType: "pr_review.approved",
			wantTitle: "R",
			wantNum:   github.Int(5),
		},
		{
			name:      "check_run_completed",
			eventName: "check_run", action: "completed",
			evt: &github.CheckRunEvent{
				CheckRun: &github.CheckRun{Name: github.String("build"), Conclusion: github.String("failure")},
				Sender:   sender(),
			},
			wantType: "check_run.failure",
			wantTitle: "build",
		},
		{
			name:      "check_run_created_ignored",
			eventName: "check_run", action: "created",
			evt: &github.CheckRunEvent{
				CheckRun: &github.CheckRun{Name: github.String("build")},
				Sender:   sender(),
			},
			wantNil: true,
		},
		{
			name:      "branch_created",
			eventName: "create", action: "",
			evt: &github.CreateEvent{
				Ref: github.String("feature-x"), RefType: github.String("branch"),
				Sender: sender(),
			},
			wantType:  "branch.created",
			wantTitle: "Created branch feature-x",
		},
		{
			name:      "branch_deleted",
			eventName: "delete", action: "",
			evt: &github.DeleteEvent{
				Ref: github.String("feature-x"), RefType: github.String("branch"),
				Sender: sender(),
			},
			wantType:  "branch.deleted",
			wantTitle: "Deleted branch feature-x",
		},
		{
			name:      "tag_create_ignored",
			eventName: "create", action: "",
			evt: &github.CreateEvent{
				Ref: github.String("v1.0.0"), RefType: github.String("tag"),
				Sender: sender(),
			},
			wantNil: true,
		},
		{
			name:      "unmapped_event",
			eventName: "watch", action: "started",
			evt:     nil,
			wantNil: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := MapEvent(tc.eventName, tc.action, tc.evt)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("MapEvent = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("MapEvent = nil, want entry")
			}
			if got.ActivityType != tc.wantType {
				t.Errorf("type = %q, want %q", got.ActivityType, tc.wantType)
			}
			if got.Title != tc.wantTitle {
				t.Errorf("title = %q, want %q", got.Title, tc.wantTitle)
			}
			if got.Description != tc.wantDesc {
				t.Errorf("description = %q, want %q", got.Description, tc.wantDesc)
			}
			if tc.wantNum == nil {
				if got.EntityNumber != nil {
					t.Errorf("entityNumber = %v, want nil", got.EntityNumber)
				}
			} else if got.EntityNumber == nil || *got.EntityNumber != *tc.wantNum {
				t.Errorf("entityNumber = %v, want %d", got.EntityNumber, *tc.wantNum)
			}
			if got.ActorLogin != "testuser" {
				t.Errorf("actor = %q, want testuser", got.ActorLogin)
			}
		})
	}
}
