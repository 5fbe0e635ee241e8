package loopback

import "html/template"

// forwardPage moves the fragment into the query so the server can read it.
var forwardPage = template.Must(template.New("forward").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Signing in</title></head>
<body>
<p>Signing in&hellip;</p>
<script>
  var fragment = window.location.hash.replace(/^#/, "");
  window.location.replace({{.RelayPath}} + (fragment ? "?" + fragment : ""));
</script>
<noscript>JavaScript is required to finish signing in.</noscript>
</body></html>
`))

var closePage = template.Must(template.New("close").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p>{{.Message}}</p>
<script>window.close();</script>
</body></html>
`))

var landingPage = template.Must(template.New("landing").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>walletfront</title></head>
<body><p>{{.Message}}</p></body></html>
`))

type pageData struct {
	Title     string
	Message   string
	RelayPath string
}
