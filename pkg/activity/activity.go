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

// Package activity maps processed webhook events onto activity feed
// entries.
package activity

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v56/github"
)

// previewLimit caps body/comment previews in the feed.
const previewLimit = 200

// Info is the feed-entry shape derived from one event. A nil Info means the
// event produces no feed entry.
type Info struct {
	ActivityType   string
	Title          string
	Description    string
	ActorLogin     string
	ActorAvatarURL string
	EntityNumber   *int
}

// MapEvent derives the feed entry for a parsed event, or nil when the event
// kind has no mapping.
func MapEvent(eventName, action string, evt any) *Info {
	switch e := evt.(type) {
	case *github.IssuesEvent:
		return mapIssues(action, e)
	case *github.PullRequestEvent:
		return mapPullRequest(action, e)
	case *github.IssueCommentEvent:
		return mapIssueComment(action, e)
	case *github.PushEvent:
		return mapPush(e)
	case *github.PullRequestReviewEvent:
		return mapReview(e)
	case *github.CheckRunEvent:
		return mapCheckRun(action, e)
	case *github.CreateEvent:
		return mapCreate(e)
	case *github.DeleteEvent:
		return mapDelete(e)
	default:
		return nil
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit])
}

func actor(sender *github.User) (string, string) {
	if sender == nil {
		return "", ""
	}
	return sender.GetLogin(), sender.GetAvatarURL()
}

func mapIssues(action string, e *github.IssuesEvent) *Info {
	issue := e.GetIssue()
	if issue == nil {
		return nil
	}
	login, avatar := actor(e.GetSender())
	n := issue.GetNumber()
	info := &Info{
		ActivityType:   "issue." + action,
		Title:          issue.GetTitle(),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
		EntityNumber:   &n,
	}
	if action == "opened" {
		info.Description = preview(issue.GetBody())
	}
	return info
}

func mapPullRequest(action string, e *github.PullRequestEvent) *Info {
	pr := e.GetPullRequest()
	if pr == nil {
		return nil
	}
	login, avatar := actor(e.GetSender())
	n := pr.GetNumber()
	info := &Info{
		ActivityType:   "pr." + action,
		Title:          pr.GetTitle(),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
		EntityNumber:   &n,
	}
	if action == "opened" {
		info.Description = preview(pr.GetBody())
	}
	return info
}

func mapIssueComment(action string, e *github.IssueCommentEvent) *Info {
	issue := e.GetIssue()
	if issue == nil {
		return nil
	}
	kind := "issue_comment."
	if issue.PullRequestLinks != nil {
		kind = "pr_comment."
	}
	login, avatar := actor(e.GetSender())
	n := issue.GetNumber()
	return &Info{
		ActivityType:   kind + action,
		Title:          issue.GetTitle(),
		Description:    preview(e.GetComment().GetBody()),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
		EntityNumber:   &n,
	}
}

func mapPush(e *github.PushEvent) *Info {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") || e.GetDeleted() {
		return nil
	}
	branch := strings.TrimPrefix(ref, "refs/heads/")
	var headline string
	if len(e.Commits) > 0 {
		headline, _, _ = strings.Cut(e.Commits[0].GetMessage(), "\n")
	}
	login, avatar := actor(e.GetSender())
	return &Info{
		ActivityType:   "push",
		Title:          fmt.Sprintf("Pushed %d commits to %s", len(e.Commits), branch),
		Description:    headline,
		ActorLogin:     login,
		ActorAvatarURL: avatar,
	}
}

func mapReview(e *github.PullRequestReviewEvent) *Info {
	review := e.GetReview()
	pr := e.GetPullRequest()
	if review == nil || pr == nil {
		return nil
	}
	login, avatar := actor(e.GetSender())
	n := pr.GetNumber()
	return &Info{
		ActivityType:   "pr_review." + strings.ToLower(review.GetState()),
		Title:          pr.GetTitle(),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
		EntityNumber:   &n,
	}
}

func mapCheckRun(action string, e *github.CheckRunEvent) *Info {
	if action != "completed" {
		return nil
	}
	cr := e.GetCheckRun()
	if cr == nil || cr.GetConclusion() == "" {
		return nil
	}
	login, avatar := actor(e.GetSender())
	return &Info{
		ActivityType:   "check_run." + cr.GetConclusion(),
		Title:          cr.GetName(),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
	}
}

func mapCreate(e *github.CreateEvent) *Info {
	if e.GetRefType() != "branch" {
		return nil
	}
	login, avatar := actor(e.GetSender())
	return &Info{
		ActivityType:   "branch.created",
		Title:          fmt.Sprintf("Created branch %s", e.GetRef()),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
	}
}

func mapDelete(e *github.DeleteEvent) *Info {
	if e.GetRefType() != "branch" {
		return nil
	}
	login, avatar := actor(e.GetSender())
	return &Info{
		ActivityType:   "branch.deleted",
		Title:          fmt.Sprintf("Deleted branch %s", e.GetRef()),
		ActorLogin:     login,
		ActorAvatarURL: avatar,
	}
}
