package delivery

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

// RedirectDelayMillis is how long the interim page waits before its
// second navigation attempt.
const RedirectDelayMillis = 2000

// interimPage navigates to the target immediately and once more after
// a short delay, with a manual link for browsers that block both.
var interimPage = template.Must(template.New("interim").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pulse Coach</title>
<style>
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #fc4c02;
    color: #fff;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
    margin: 0;
    text-align: center;
  }
  .card { max-width: 380px; padding: 2rem; }
  h1 { font-size: 1.5rem; margin-bottom: 0.5rem; }
  p.hint { font-size: 0.9rem; opacity: 0.8; margin-top: 2rem; }
  a { color: #fff; }
</style>
</head>
<body>
<div class="card">
  <h1>Connected to Strava</h1>
  <p>Returning you to the app&hellip;</p>
  <p class="hint">If nothing happens, <a id="fallback" href="{{.Href}}">open the app</a>.</p>
</div>
<script>
  var target = {{.Script}};
  window.location.href = target;
  setTimeout(function() { window.location.href = target; }, {{.DelayMillis}});
</script>
</body>
</html>
`))

type pageData struct {
	Href        template.URL
	Script      template.JS
	DelayMillis int
}

// RenderPage writes the interim page for url. url must already have
// passed return-target validation: it is trusted as a link target even
// when its scheme is not http or https.
func RenderPage(w io.Writer, url string) error {
	literal, err := json.Marshal(url)
	if err != nil {
		return fmt.Errorf("encoding page target: %w", err)
	}

	data := pageData{
		Href:        template.URL(url),
		Script:      template.JS(literal),
		DelayMillis: RedirectDelayMillis,
	}

	if err := interimPage.Execute(w, data); err != nil {
		return fmt.Errorf("rendering interim page: %w", err)
	}

	return nil
}
