package delivery

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMobileMarkers are the user agent fragments that mark a mobile
// browser or in-app webview.
var DefaultMobileMarkers = []string{"Mobile", "iPhone", "iPad", "Android"}

// Table maps (target class, agent class) to a delivery kind for targets
// that are present. A missing target always yields JSON.
type Table struct {
	CustomMobile  Kind
	CustomDesktop Kind
	WebMobile     Kind
	WebDesktop    Kind

	MobileMarkers []string
}

// DefaultTable redirects whenever that is safe and falls back to the
// interim page for custom schemes opened from a desktop browser.
func DefaultTable() Table {
	return Table{
		CustomMobile:  KindRedirect,
		CustomDesktop: KindPage,
		WebMobile:     KindRedirect,
		WebDesktop:    KindRedirect,
		MobileMarkers: DefaultMobileMarkers,
	}
}

// Forced returns a table that always uses kind for present targets.
func Forced(kind Kind) Table {
	t := DefaultTable()
	t.CustomMobile = kind
	t.CustomDesktop = kind
	t.WebMobile = kind
	t.WebDesktop = kind

	return t
}

// Lookup returns the cell for a present target.
func (t Table) Lookup(target TargetClass, agent AgentClass) Kind {
	switch {
	case target == TargetNone:
		return KindJSON
	case target == TargetCustom && agent == AgentMobile:
		return t.CustomMobile
	case target == TargetCustom:
		return t.CustomDesktop
	case agent == AgentMobile:
		return t.WebMobile
	default:
		return t.WebDesktop
	}
}

// ClassifyAgent reports AgentMobile when userAgent contains any of the
// table's mobile markers.
func (t Table) ClassifyAgent(userAgent string) AgentClass {
	for _, m := range t.MobileMarkers {
		if m != "" && strings.Contains(userAgent, m) {
			return AgentMobile
		}
	}

	return AgentDesktop
}

// ParseKind parses a delivery kind for a present target. Only
// "redirect" and "page" are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "redirect":
		return KindRedirect, nil
	case "page":
		return KindPage, nil
	default:
		return KindJSON, fmt.Errorf("unknown delivery mode %q (expected redirect or page)", s)
	}
}

type rulesRow struct {
	Mobile  string `yaml:"mobile"`
	Desktop string `yaml:"desktop"`
}

// rulesFile is the YAML layout of DELIVERY_RULES_FILE:
//
//	mobile_markers: [Mobile, Android]
//	custom:
//	  mobile: redirect
//	  desktop: page
//	web:
//	  mobile: redirect
//	  desktop: redirect
//
// Omitted cells keep their default.
type rulesFile struct {
	MobileMarkers []string `yaml:"mobile_markers"`
	Custom        rulesRow `yaml:"custom"`
	Web           rulesRow `yaml:"web"`
}

// LoadRules reads a YAML rules file on top of DefaultTable.
func LoadRules(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading delivery rules: %w", err)
	}

	return ParseRules(data)
}

// ParseRules parses YAML rules on top of DefaultTable.
func ParseRules(data []byte) (Table, error) {
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return Table{}, fmt.Errorf("parsing delivery rules: %w", err)
	}

	t := DefaultTable()

	cells := []struct {
		name string
		raw  string
		dst  *Kind
	}{
		{"custom.mobile", rf.Custom.Mobile, &t.CustomMobile},
		{"custom.desktop", rf.Custom.Desktop, &t.CustomDesktop},
		{"web.mobile", rf.Web.Mobile, &t.WebMobile},
		{"web.desktop", rf.Web.Desktop, &t.WebDesktop},
	}

	for _, c := range cells {
		if c.raw == "" {
			continue
		}

		k, err := ParseKind(c.raw)
		if err != nil {
			return Table{}, fmt.Errorf("delivery rules %s: %w", c.name, err)
		}

		*c.dst = k
	}

	if len(rf.MobileMarkers) > 0 {
		t.MobileMarkers = rf.MobileMarkers
	}

	return t, nil
}
