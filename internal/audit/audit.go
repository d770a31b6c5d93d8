// Package audit inspects a rendered dashboard shell and checks its
// structural and accessibility contract.
package audit

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Button struct {
	Label string
	Class string
}

type Stylesheet struct {
	Href     string
	External bool
}

// Report is what Inspect found in a document.
type Report struct {
	MenuToggles     []Button
	SearchInputs    int
	SearchButtons   []Button
	SidebarHeadings []string
	Stylesheets     []Stylesheet
}

type Options struct {
	// RequireIconFont fails the check when no external stylesheet is linked.
	RequireIconFont bool
	// SidebarHeading is the expected heading text. Empty skips the comparison.
	SidebarHeading string
}

// Inspect parses r and records the shell regions it finds.
func Inspect(r io.Reader) (*Report, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	rep := &Report{}
	var walk func(n *html.Node, region string)
	walk = func(n *html.Node, region string) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "menu-toggle"):
				region = "menu"
			case hasClass(n, "search-box"):
				region = "search"
			case attr(n, "id") == "sidebar":
				region = "sidebar"
			}

			switch n.DataAtom {
			case atom.Link:
				if strings.EqualFold(attr(n, "rel"), "stylesheet") {
					href := attr(n, "href")
					rep.Stylesheets = append(rep.Stylesheets, Stylesheet{Href: href, External: isExternal(href)})
				}
			case atom.Button:
				b := Button{Label: strings.TrimSpace(attr(n, "aria-label")), Class: attr(n, "class")}
				switch region {
				case "menu":
					rep.MenuToggles = append(rep.MenuToggles, b)
				case "search":
					rep.SearchButtons = append(rep.SearchButtons, b)
				}
			case atom.Input:
				t := strings.ToLower(strings.TrimSpace(attr(n, "type")))
				if region == "search" && (t == "" || t == "text" || t == "search") {
					rep.SearchInputs++
				}
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				if region == "sidebar" {
					rep.SidebarHeadings = append(rep.SidebarHeadings, strings.TrimSpace(text(n)))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, region)
		}
	}
	walk(doc, "")

	return rep, nil
}

// Verify returns every contract violation joined into one error, or nil.
func (r *Report) Verify(opts Options) error {
	var errs []error

	if len(r.MenuToggles) != 1 {
		errs = append(errs, fmt.Errorf("menu toggle: want 1 button, found %d", len(r.MenuToggles)))
	} else if r.MenuToggles[0].Label == "" {
		errs = append(errs, errors.New("menu toggle: missing accessible label"))
	}

	if r.SearchInputs != 1 {
		errs = append(errs, fmt.Errorf("search box: want 1 text input, found %d", r.SearchInputs))
	}
	if len(r.SearchButtons) != 2 {
		errs = append(errs, fmt.Errorf("search box: want 2 icon buttons, found %d", len(r.SearchButtons)))
	} else {
		a, b := r.SearchButtons[0].Label, r.SearchButtons[1].Label
		if a == "" || b == "" {
			errs = append(errs, errors.New("search box: icon button missing accessible label"))
		} else if a == b {
			errs = append(errs, fmt.Errorf("search box: icon buttons share label %q", a))
		}
	}

	if len(r.SidebarHeadings) != 1 {
		errs = append(errs, fmt.Errorf("sidebar: want 1 heading, found %d", len(r.SidebarHeadings)))
	} else if opts.SidebarHeading != "" && r.SidebarHeadings[0] != opts.SidebarHeading {
		errs = append(errs, fmt.Errorf("sidebar: heading %q, want %q", r.SidebarHeadings[0], opts.SidebarHeading))
	}

	var local, external int
	for _, s := range r.Stylesheets {
		if err := checkHref(s); err != nil {
			errs = append(errs, err)
		}
		if s.External {
			external++
		} else {
			local++
		}
	}
	if local != 1 {
		errs = append(errs, fmt.Errorf("stylesheets: want 1 local, found %d", local))
	}
	if external > 1 || (opts.RequireIconFont && external != 1) {
		errs = append(errs, fmt.Errorf("stylesheets: want 1 external icon font, found %d", external))
	}

	return errors.Join(errs...)
}

func checkHref(s Stylesheet) error {
	u, err := url.Parse(s.Href)
	if err != nil || s.Href == "" {
		return fmt.Errorf("stylesheet %q: malformed reference", s.Href)
	}
	if s.External && (u.Scheme != "https" && u.Scheme != "http" || u.Host == "") {
		return fmt.Errorf("stylesheet %q: external reference must be an http(s) URL", s.Href)
	}
	return nil
}

func isExternal(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Scheme != "" || u.Host != ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}
