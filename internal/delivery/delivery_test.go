package delivery

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	androidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// --- BuildURL ---

func TestBuildURL(t *testing.T) {
	tests := []struct {
		target string
		token  string
		want   string
	}{
		{"customapp://auth", "abc", "customapp://auth?token=abc"},
		{"vyve://auth", "a/b+c", "vyve://auth?token=a%2Fb%2Bc"},
		{"https://example.com/done?x=1", "tok", "https://example.com/done?x=1&token=tok"},
		{"customapp://auth", "", "customapp://auth?token="},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildURL(tt.target, tt.token))
		})
	}
}

func TestBuildURL_BaseIsTarget(t *testing.T) {
	target := "customapp://auth/path?keep=me"
	got := BuildURL(target, "secret token")

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "secret token", u.Query().Get("token"))
	assert.Equal(t, "me", u.Query().Get("keep"))
	assert.True(t, strings.HasPrefix(got, target))
}

// --- classification ---

func TestClassifyTarget(t *testing.T) {
	assert.Equal(t, TargetNone, ClassifyTarget(""))
	assert.Equal(t, TargetWeb, ClassifyTarget("https://example.com"))
	assert.Equal(t, TargetWeb, ClassifyTarget("HTTP://example.com"))
	assert.Equal(t, TargetCustom, ClassifyTarget("customapp://auth"))
	assert.Equal(t, TargetCustom, ClassifyTarget("exp+app://x"))
}

func TestClassifyAgent(t *testing.T) {
	tbl := DefaultTable()
	assert.Equal(t, AgentMobile, tbl.ClassifyAgent(iPhoneUA))
	assert.Equal(t, AgentMobile, tbl.ClassifyAgent(androidUA))
	assert.Equal(t, AgentMobile, tbl.ClassifyAgent("Mozilla/5.0 (iPad; CPU OS 17_0)"))
	assert.Equal(t, AgentDesktop, tbl.ClassifyAgent(desktopUA))
	assert.Equal(t, AgentDesktop, tbl.ClassifyAgent(""))
}

// --- Resolve ---

func TestResolve_CustomSchemeMobileRedirects(t *testing.T) {
	r := NewResolver(DefaultTable())
	got := r.Resolve("customapp://auth", "tok123", iPhoneUA)

	assert.Equal(t, KindRedirect, got.Kind)
	assert.Equal(t, "customapp://auth?token=tok123", got.URL)
}

func TestResolve_CustomSchemeDesktopRendersPage(t *testing.T) {
	r := NewResolver(DefaultTable())
	got := r.Resolve("customapp://auth", "tok123", desktopUA)

	assert.Equal(t, KindPage, got.Kind)
	assert.Equal(t, "customapp://auth?token=tok123", got.URL)
}

func TestResolve_WebTargetRedirects(t *testing.T) {
	r := NewResolver(DefaultTable())

	for _, ua := range []string{iPhoneUA, desktopUA} {
		got := r.Resolve("https://app.example.com/cb", "tok", ua)
		assert.Equal(t, KindRedirect, got.Kind)
		assert.Equal(t, "https://app.example.com/cb?token=tok", got.URL)
	}
}

func TestResolve_NoTargetReturnsJSON(t *testing.T) {
	r := NewResolver(Forced(KindPage))

	for _, ua := range []string{iPhoneUA, desktopUA, ""} {
		got := r.Resolve("", "tok", ua)
		assert.Equal(t, KindJSON, got.Kind)
		assert.Equal(t, "tok", got.Token)
		assert.Empty(t, got.URL)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewResolver(DefaultTable())

	inputs := []struct{ target, ua string }{
		{"customapp://auth", iPhoneUA},
		{"customapp://auth", desktopUA},
		{"https://x.example", desktopUA},
		{"", desktopUA},
	}

	for _, in := range inputs {
		first := r.Resolve(in.target, "tok", in.ua)
		second := r.Resolve(in.target, "tok", in.ua)
		assert.Equal(t, first, second)
	}
}

func TestResolve_ForcedModes(t *testing.T) {
	redirect := NewResolver(Forced(KindRedirect))
	assert.Equal(t, KindRedirect, redirect.Resolve("customapp://auth", "t", desktopUA).Kind)

	page := NewResolver(Forced(KindPage))
	assert.Equal(t, KindPage, page.Resolve("customapp://auth", "t", iPhoneUA).Kind)
	assert.Equal(t, KindPage, page.Resolve("https://x.example", "t", iPhoneUA).Kind)
}

func TestNewResolver_DefaultsMarkers(t *testing.T) {
	tbl := DefaultTable()
	tbl.MobileMarkers = nil

	r := NewResolver(tbl)
	assert.Equal(t, KindRedirect, r.Resolve("customapp://auth", "t", iPhoneUA).Kind)
}

// --- rules ---

func TestParseRules_OverridesCells(t *testing.T) {
	tbl, err := ParseRules([]byte(`
mobile_markers: [Pixel]
custom:
  desktop: redirect
web:
  desktop: page
`))
	require.NoError(t, err)

	assert.Equal(t, KindRedirect, tbl.CustomMobile)
	assert.Equal(t, KindRedirect, tbl.CustomDesktop)
	assert.Equal(t, KindRedirect, tbl.WebMobile)
	assert.Equal(t, KindPage, tbl.WebDesktop)
	assert.Equal(t, []string{"Pixel"}, tbl.MobileMarkers)

	assert.Equal(t, AgentMobile, tbl.ClassifyAgent(androidUA))
	assert.Equal(t, AgentDesktop, tbl.ClassifyAgent(iPhoneUA))
}

func TestParseRules_EmptyKeepsDefaults(t *testing.T) {
	tbl, err := ParseRules([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultTable(), tbl)
}

func TestParseRules_RejectsJSONCell(t *testing.T) {
	_, err := ParseRules([]byte("custom:\n  mobile: json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom.mobile")
}

func TestParseRules_InvalidYAML(t *testing.T) {
	_, err := ParseRules([]byte("custom: [unterminated"))
	assert.Error(t, err)
}

func TestLoadRules_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("custom:\n  desktop: redirect\n"), 0o600))

	tbl, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, tbl.CustomDesktop)
}

func TestLoadRules_Missing(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Page ")
	require.NoError(t, err)
	assert.Equal(t, KindPage, k)

	_, err = ParseKind("banner")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "json", KindJSON.String())
	assert.Equal(t, "redirect", KindRedirect.String())
	assert.Equal(t, "page", KindPage.String())
}

// --- page ---

func TestRenderPage_ContainsTargetInScriptAndLink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, "customapp://auth?token=tok123"))

	body := buf.String()
	script := body[strings.Index(body, "<script>"):]

	assert.Contains(t, script, `"customapp://auth?token=tok123"`)
	assert.Contains(t, script, "setTimeout")
	assert.Contains(t, script, "2000")
	assert.Contains(t, body, `href="customapp://auth?token=tok123"`)
}

func TestRenderPage_EscapesMarkup(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, `customapp://auth?x=</script><script>alert(1)</script>`))

	body := buf.String()
	assert.Equal(t, 1, strings.Count(body, "<script>"), "injected script tags must be escaped")
	assert.NotContains(t, body, "alert(1)</script>")
}
