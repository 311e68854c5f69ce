// Package planner turns a build spec written in markdown into a WorkPlan.
//
// Spec format:
//
//	# Title
//	Summary paragraphs.
//	## `path/to/file.go`
//	Description paragraphs.
//	```go
//	placeholder content
//	```
//
// Every heading whose whole text is a code span starts a work item. Any other
// heading ends the current item.
package planner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"build-orchestrator/internal/entity"
)

var ErrNoWorkItems = errors.New("spec has no file headings")

type Markdown struct {
	md goldmark.Markdown
}

func New() *Markdown {
	return &Markdown{md: goldmark.New()}
}

// Plan parses job.SpecMarkdown. Warnings describe items the plan accepted
// but the author probably did not intend.
func (m *Markdown) Plan(ctx context.Context, job entity.BuildJob) (*entity.WorkPlan, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	source := []byte(job.SpecMarkdown)
	doc := m.md.Parser().Parse(text.NewReader(source))

	plan := &entity.WorkPlan{Branch: job.BranchName()}
	var (
		warnings []string
		summary  []string
		desc     []string
		current  *entity.WorkItem
		hasCode  bool
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.Join(desc, "\n\n")
		if !hasCode {
			warnings = append(warnings, fmt.Sprintf("no placeholder content for %s", current.Path))
		}
		plan.Items = append(plan.Items, *current)
		current, desc, hasCode = nil, nil, false
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if p, ok := headingPath(n, source); ok {
				flush()
				clean, err := cleanPath(p)
				if err != nil {
					return nil, nil, err
				}
				current = &entity.WorkItem{Path: clean}
				continue
			}
			flush()
			if n.Level == 1 && plan.Title == "" {
				plan.Title = plainText(n, source)
			}

		case *ast.Paragraph:
			para := plainText(n, source)
			switch {
			case current != nil:
				desc = append(desc, para)
			case len(plan.Items) == 0:
				summary = append(summary, para)
			}

		case *ast.FencedCodeBlock:
			if current != nil && !hasCode {
				current.Content = blockText(n, source)
				hasCode = true
			}
		}
	}
	flush()

	if len(plan.Items) == 0 {
		return nil, nil, ErrNoWorkItems
	}
	if plan.Title == "" {
		plan.Title = "Build " + job.SpecID
		warnings = append(warnings, "spec has no title heading")
	}
	plan.Summary = strings.Join(summary, "\n\n")

	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}
	return plan, warnings, nil
}

// headingPath reports the path of a heading made of a single code span.
func headingPath(h *ast.Heading, source []byte) (string, bool) {
	if h.ChildCount() != 1 {
		return "", false
	}
	cs, ok := h.FirstChild().(*ast.CodeSpan)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(plainText(cs, source)), true
}

func cleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty file heading")
	}
	clean := path.Clean(p)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the repository", p)
	}
	return clean, nil
}

func plainText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
			if t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func blockText(n *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
