// Package shell renders the web-admin dashboard shell: a menu toggle, a
// search box with two icon buttons, and an empty sidebar.
package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	g "maragu.dev/gomponents"
	"maragu.dev/gomponents/html"
)

const (
	DefaultTitle      = "STOCKSENSEX"
	DefaultLang       = "es"
	DefaultStylesheet = "css/style.css"
	DefaultIconFont   = "https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.1/css/all.min.css"
)

var ErrInvalidDocument = errors.New("invalid document")

var livePathRegex = regexp.MustCompile(`^/[a-zA-Z0-9_\-/]*$`)

// Labels holds every visible and accessible string of the shell.
type Labels struct {
	OpenMenu          string
	SearchPlaceholder string
	SearchInput       string
	SearchButton      string
	SettingsButton    string
	SidebarHeading    string
}

func DefaultLabels() Labels {
	return Labels{
		OpenMenu:          "Abrir menú",
		SearchPlaceholder: "Buscar...",
		SearchInput:       "Buscar",
		SearchButton:      "Buscar",
		SettingsButton:    "Configuración",
		SidebarHeading:    "Agregue sus archivos",
	}
}

type Document struct {
	Title      string
	Lang       string
	Stylesheet string
	// IconFont is the external icon stylesheet. Empty omits the link.
	IconFont string
	Labels   Labels
	// LiveReload is the websocket path the page listens on for reloads.
	// Empty disables the reload script.
	LiveReload string
}

// New returns the document with the default title, stylesheet, icon font and labels.
func New() Document {
	return Document{
		Title:      DefaultTitle,
		Lang:       DefaultLang,
		Stylesheet: DefaultStylesheet,
		IconFont:   DefaultIconFont,
		Labels:     DefaultLabels(),
	}
}

// Validate checks resource references and labels.
func (d Document) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidDocument)
	}
	if strings.TrimSpace(d.Lang) == "" {
		return fmt.Errorf("%w: empty lang", ErrInvalidDocument)
	}
	if err := validateStylesheet(d.Stylesheet); err != nil {
		return err
	}
	if d.IconFont != "" {
		u, err := url.Parse(d.IconFont)
		if err != nil {
			return fmt.Errorf("%w: icon font: %v", ErrInvalidDocument, err)
		}
		if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("%w: icon font must be an absolute http(s) URL: %q", ErrInvalidDocument, d.IconFont)
		}
	}
	if d.LiveReload != "" && !livePathRegex.MatchString(d.LiveReload) {
		return fmt.Errorf("%w: live reload path %q", ErrInvalidDocument, d.LiveReload)
	}

	l := d.Labels
	for _, f := range []struct{ name, value string }{
		{"open menu", l.OpenMenu},
		{"search placeholder", l.SearchPlaceholder},
		{"search input", l.SearchInput},
		{"search button", l.SearchButton},
		{"settings button", l.SettingsButton},
		{"sidebar heading", l.SidebarHeading},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: empty %s label", ErrInvalidDocument, f.name)
		}
	}
	if l.SearchButton == l.SettingsButton {
		return fmt.Errorf("%w: search and settings buttons share label %q", ErrInvalidDocument, l.SearchButton)
	}
	return nil
}

func validateStylesheet(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty stylesheet path", ErrInvalidDocument)
	}
	u, err := url.Parse(p)
	if err != nil {
		return fmt.Errorf("%w: stylesheet: %v", ErrInvalidDocument, err)
	}
	if u.Scheme != "" || u.Host != "" || strings.HasPrefix(p, "//") {
		return fmt.Errorf("%w: stylesheet must be a local path: %q", ErrInvalidDocument, p)
	}
	clean := path.Clean(p)
	if strings.HasPrefix(p, "/") || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: stylesheet must be a relative path inside the site: %q", ErrInvalidDocument, p)
	}
	return nil
}

// Node builds the complete page.
func (d Document) Node() g.Node {
	return html.Doctype(
		html.HTML(
			html.Lang(d.Lang),
			html.Head(
				html.Meta(html.Charset("UTF-8")),
				html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1.0")),
				html.TitleEl(g.Text(d.Title)),
				html.Link(html.Rel("stylesheet"), html.Href(d.Stylesheet)),
				g.If(d.IconFont != "", html.Link(html.Rel("stylesheet"), html.Href(d.IconFont))),
			),
			html.Body(
				MenuToggle(d.Labels),
				html.Main(
					html.Class("content"),
					SearchBox(d.Labels),
					Sidebar(d.Labels),
				),
				g.If(d.LiveReload != "", liveReloadScript(d.LiveReload)),
			),
		),
	)
}

// MenuToggle is region A: the hamburger button.
func MenuToggle(l Labels) g.Node {
	return html.Div(
		html.Class("menu-toggle"),
		html.Button(
			html.Type("button"),
			html.Class("btn-hamburguesa"),
			html.Aria("label", l.OpenMenu),
			icon("fa-bars"),
		),
	)
}

// SearchBox is region B: a text input followed by the search and settings buttons.
func SearchBox(l Labels) g.Node {
	return html.Div(
		html.Class("search-box"),
		html.Input(
			html.Type("text"),
			html.Placeholder(l.SearchPlaceholder),
			html.Aria("label", l.SearchInput),
		),
		iconButton(l.SearchButton, "fa-magnifying-glass"),
		iconButton(l.SettingsButton, "fa-gear"),
	)
}

// Sidebar is region C. It only carries the heading.
func Sidebar(l Labels) g.Node {
	return html.Div(
		html.ID("sidebar"),
		html.H2(g.Text(l.SidebarHeading)),
	)
}

func iconButton(label, glyph string) g.Node {
	return html.Button(
		html.Type("button"),
		html.Class("icon-button"),
		html.Aria("label", label),
		icon(glyph),
	)
}

func icon(glyph string) g.Node {
	return html.I(html.Class("fa-solid " + glyph))
}

func liveReloadScript(wsPath string) g.Node {
	return html.Script(g.Raw(`(function(){var p=location.protocol==="https:"?"wss://":"ws://";` +
		`var ws=new WebSocket(p+location.host+` + strconv.Quote(wsPath) + `);` +
		`ws.onmessage=function(e){if(e.data==="reload"){location.reload();}};})();`))
}

// Render validates the document and writes it to w.
func (d Document) Render(w io.Writer) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := d.Node().Render(w); err != nil {
		return fmt.Errorf("render shell: %w", err)
	}
	return nil
}

func (d Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
