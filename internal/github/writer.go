package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"build-orchestrator/internal/entity"
)

// Writer implements the owner's Writer port. Every call is safe to repeat
// after a crash: existing refs and pull requests count as success and file
// writes are upserts.
type Writer struct {
	client *Client
}

func NewWriter(client *Client) *Writer {
	return &Writer{client: client}
}

func repoPath(repo entity.RepoRef) string {
	return "/repos/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name)
}

// escapePath escapes each segment of a slash separated path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type gitRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (w *Writer) CreateBranch(ctx context.Context, repo entity.RepoRef, branch string) entity.WriteResult {
	var base gitRef
	if err := w.client.do(ctx, http.MethodGet, repoPath(repo)+"/git/ref/heads/"+escapePath(repo.BaseBranch), nil, &base); err != nil {
		return entity.WriteFailed(fmt.Errorf("read base branch %s: %w", repo.BaseBranch, err))
	}

	body := map[string]string{"ref": "refs/heads/" + branch, "sha": base.Object.SHA}
	err := w.client.do(ctx, http.MethodPost, repoPath(repo)+"/git/refs", body, nil)
	if err != nil && !IsAlreadyExists(err) {
		return entity.WriteFailed(err)
	}
	return entity.WriteOK()
}

type contentsFile struct {
	SHA string `json:"sha"`
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putContentsResponse struct {
	Content struct {
		HTMLURL string `json:"html_url"`
	} `json:"content"`
}

func (w *Writer) WriteFile(ctx context.Context, repo entity.RepoRef, branch string, item entity.WorkItem, message string) entity.WriteResult {
	path := repoPath(repo) + "/contents/" + escapePath(item.Path)

	var existing contentsFile
	err := w.client.do(ctx, http.MethodGet, path+"?ref="+url.QueryEscape(branch), nil, &existing)
	if err != nil && !IsNotFound(err) {
		return entity.WriteFailed(fmt.Errorf("read %s: %w", item.Path, err))
	}

	req := putContentsRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(item.Content)),
		Branch:  branch,
		SHA:     existing.SHA,
	}
	var out putContentsResponse
	if err := w.client.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return entity.WriteFailed(err)
	}
	return entity.WriteResult{OK: true, URL: out.Content.HTMLURL}
}

type pullRequest struct {
	HTMLURL string `json:"html_url"`
}

func (w *Writer) OpenResult(ctx context.Context, repo entity.RepoRef, branch string, plan *entity.WorkPlan) entity.WriteResult {
	body := map[string]string{
		"title": plan.Title,
		"head":  branch,
		"base":  repo.BaseBranch,
		"body":  pullBody(plan),
	}

	var pr pullRequest
	err := w.client.do(ctx, http.MethodPost, repoPath(repo)+"/pulls", body, &pr)
	if err == nil {
		return entity.WriteResult{OK: true, URL: pr.HTMLURL}
	}
	if !IsAlreadyExists(err) {
		return entity.WriteFailed(err)
	}

	var open []pullRequest
	q := url.Values{"head": {repo.Owner + ":" + branch}, "state": {"open"}}
	if err := w.client.do(ctx, http.MethodGet, repoPath(repo)+"/pulls?"+q.Encode(), nil, &open); err != nil {
		return entity.WriteFailed(fmt.Errorf("find existing pull request: %w", err))
	}
	if len(open) == 0 {
		return entity.WriteFailed(fmt.Errorf("pull request for %s reported as existing but not found", branch))
	}
	return entity.WriteResult{OK: true, URL: open[0].HTMLURL}
}

func pullBody(plan *entity.WorkPlan) string {
	var b strings.Builder
	if plan.Summary != "" {
		b.WriteString(plan.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("Files:\n")
	for _, it := range plan.Items {
		fmt.Fprintf(&b, "- `%s`", it.Path)
		if it.Description != "" {
			b.WriteString(": " + firstLine(it.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
