package safety

import (
	"path"
	"strings"
)

var DefaultProtectedBranches = []string{
	"main", "master", "develop", "production", "staging", "release/*", "hotfix/*",
}

// CheckBranchSafety rejects names that are not valid git branch names or that
// would collide with a protected branch. It uses DefaultProtectedBranches.
func CheckBranchSafety(branch string) Verdict {
	return checkBranch(branch, DefaultProtectedBranches)
}

func checkBranch(branch string, protected []string) Verdict {
	if strings.TrimSpace(branch) == "" {
		return deny("branch name is empty")
	}
	if reason := refNameProblem(branch); reason != "" {
		return deny("branch %q is not a valid ref name: %s", branch, reason)
	}

	name := strings.ToLower(branch)
	for _, p := range protected {
		p = strings.ToLower(p)
		if name == p {
			return deny("branch %q is protected", branch)
		}
		if ok, _ := path.Match(p, name); ok {
			return deny("branch %q matches protected pattern %q", branch, p)
		}
		// git cannot hold both "main" and "main/x".
		if !strings.ContainsAny(p, "*?[") && strings.HasPrefix(name, p+"/") {
			return deny("branch %q would collide with protected branch %q", branch, p)
		}
	}
	return allow()
}

// refNameProblem follows the rules of git check-ref-format for branch names.
func refNameProblem(name string) string {
	switch {
	case name == "@" || strings.EqualFold(name, "HEAD"):
		return "reserved name"
	case strings.HasPrefix(name, "refs/"):
		return "must not be a full ref"
	case strings.HasPrefix(name, "-"):
		return "must not start with '-'"
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return "must not start or end with '/'"
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock"):
		return "must not end with '.' or '.lock'"
	case strings.Contains(name, ".."), strings.Contains(name, "//"), strings.Contains(name, "@{"):
		return "contains a forbidden sequence"
	case strings.ContainsAny(name, " ~^:?*[\\"):
		return "contains a forbidden character"
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "contains a control character"
		}
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return "path component starts with '.'"
		}
	}
	return ""
}
