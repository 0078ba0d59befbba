package preview

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
)

// PageData is everything the panel page template needs.
type PageData struct {
	// Title shown in the header and browser tab, usually the template
	// file name.
	Title string

	// DOT is the raw graph description read from the artifact. It is
	// embedded as a JSON-encoded string literal with every delimiter that
	// could terminate the script block (backticks, angle brackets) escaped,
	// so nothing in the payload can break out of the page.
	DOT string

	// EventsPath is the SSE endpoint the page subscribes to for refresh
	// pushes.
	EventsPath string
}

// pageData is PageData with the DOT payload already encoded for the JS
// context and the load handler prebuilt as a whole attribute. The handler
// carries a host-generated path; building the attribute in Go keeps the
// template's JS escaper from rewriting the slashes in it.
type pageData struct {
	Title  string
	DOT    template.JS
	OnLoad template.HTMLAttr
}

// Graph layout and rendering happen in the browser via third-party libraries
// loaded from a CDN; no graph algorithm is implemented locally.
const (
	datastarCDN   = "https://cdn.jsdelivr.net/gh/starfederation/datastar@v1.0.0/bundles/datastar.js"
	vizCDN        = "https://cdn.jsdelivr.net/npm/@viz-js/viz@3.2.4/lib/viz-standalone.js"
	svgPanZoomCDN = "https://cdn.jsdelivr.net/npm/svg-pan-zoom@3.6.2/dist/svg-pan-zoom.min.js"
)

var pageTmpl = template.Must(template.New("panel").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - cfnview</title>
<script type="module" src="` + datastarCDN + `"></script>
<script src="` + vizCDN + `"></script>
<script src="` + svgPanZoomCDN + `"></script>
<style>
  html, body { height: 100%; margin: 0; font-family: system-ui, sans-serif; }
  header { padding: 0.5rem 1rem; background: #232f3e; color: #fff; font-size: 0.9rem; }
  #graph { height: calc(100% - 2.4rem); }
  #graph svg { width: 100%; height: 100%; }
  .render-error { padding: 1rem; color: #b00020; white-space: pre-wrap; }
</style>
</head>
<body {{.OnLoad}}>
<header>{{.Title}} - resource dependency graph</header>
<div id="graph"></div>
<script>
  const dotSource = {{.DOT}};
  Viz.instance().then(function (viz) {
    const svg = viz.renderSVGElement(dotSource);
    document.getElementById("graph").replaceChildren(svg);
    svgPanZoom(svg, { controlIconsEnabled: true, fit: true, center: true });
  }).catch(function (err) {
    const pre = document.createElement("pre");
    pre.className = "render-error";
    pre.textContent = "Failed to render graph: " + err;
    document.getElementById("graph").replaceChildren(pre);
  });
</script>
</body>
</html>
`))

// jsStringLiteral encodes s as a double-quoted JavaScript string literal.
// json.Marshal already escapes angle brackets and ampersands; backticks are
// escaped on top so the emitted page contains no delimiter characters from
// the payload at all.
func jsStringLiteral(s string) (template.JS, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding graph source: %w", err)
	}
	return template.JS(strings.ReplaceAll(string(b), "`", "\\u0060")), nil
}

// RenderPage produces the self-contained markup for a preview panel.
func RenderPage(data PageData) (string, error) {
	dot, err := jsStringLiteral(data.DOT)
	if err != nil {
		return "", err
	}
	onLoad := fmt.Sprintf("data-on-load=\"@get('%s')\"", data.EventsPath)
	var sb strings.Builder
	err = pageTmpl.Execute(&sb, pageData{
		Title:  data.Title,
		DOT:    dot,
		OnLoad: template.HTMLAttr(onLoad),
	})
	if err != nil {
		return "", fmt.Errorf("rendering panel page: %w", err)
	}
	return sb.String(), nil
}
