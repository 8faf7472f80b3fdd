// Package delivery decides how an access token reaches the caller once
// the code exchange has succeeded: an HTTP redirect to the return
// target, an interim page that navigates there client-side, or a JSON
// body when there is no target at all.
package delivery

import (
	"net/url"
	"strings"
)

// Kind is the delivery mode of an Instruction.
type Kind int

const (
	// KindJSON returns {"token": ...} to the caller.
	KindJSON Kind = iota
	// KindRedirect answers with 302 Location: URL.
	KindRedirect
	// KindPage renders the interim page that navigates to URL.
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return "redirect"
	case KindPage:
		return "page"
	default:
		return "json"
	}
}

// Instruction is the boundary-independent result of a successful
// callback. URL is set for redirect and page, Token for JSON.
type Instruction struct {
	Kind  Kind
	URL   string
	Token string
}

// TargetClass groups return targets by scheme.
type TargetClass int

const (
	TargetNone TargetClass = iota
	TargetWeb
	TargetCustom
)

// AgentClass groups user agents.
type AgentClass int

const (
	AgentDesktop AgentClass = iota
	AgentMobile
)

// ClassifyTarget returns TargetWeb for http and https targets,
// TargetNone for an empty target and TargetCustom otherwise.
func ClassifyTarget(target string) TargetClass {
	if target == "" {
		return TargetNone
	}

	u, err := url.Parse(target)
	if err != nil {
		return TargetCustom
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return TargetWeb
	default:
		return TargetCustom
	}
}

// BuildURL appends token as the "token" query parameter of target.
// Existing query parameters are preserved.
func BuildURL(target, token string) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}

	return target + sep + "token=" + url.QueryEscape(token)
}
