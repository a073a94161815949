// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package augment enriches composed message bodies with an "Additional
// Details" block carrying GPS coordinates and notes.
//
// Existing map-search links in the HTML are stripped before the block is
// added, so a template placeholder never survives next to the generated
// link. The block itself is not detected on re-entry: applying Apply to
// an already augmented body adds a second block. Augmenter guards against
// that with ComposedMessage.Augmented.
package augment

import (
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/justlegal/serve-mailer/internal/models"
)

// MapSearchBase is the prefix of every map-search link this package
// generates or strips.
const MapSearchBase = "https://www.google.com/maps/search/"

const mapOpenTag = `(?is)<a\b[^>]*?\bhref\s*=\s*["']?\s*https?://(?:www\.)?google\.com/maps/search/[^>]*>`

var (
	// mapLinkPattern matches a whole anchor element whose href points at a
	// map-search URL, whatever its query parameters. The anchor text may
	// not contain another <a> or </a> tag, so an unclosed map anchor never
	// swallows content up to a later link's closing tag.
	mapLinkPattern = regexp.MustCompile(mapOpenTag + `(?:[^<]|<(?:[^/a]|/(?:[^a]|a[^\s>])|a[^\s>]))*?</a\s*>`)

	// mapOpenTagPattern matches a map-search opening tag left without a
	// closing tag; only the tag itself is removed.
	mapOpenTagPattern = regexp.MustCompile(mapOpenTag)

	closingBodyPattern = regexp.MustCompile(`(?i)</body\s*>`)
)

// Options tune rendering.
type Options struct {
	// EscapeHTML escapes coordinates and notes before writing them into
	// the HTML block. Plain-text rendering is never escaped.
	EscapeHTML bool
}

// Details is the optional content of the block.
type Details struct {
	Coordinates string
	Notes       string
}

func (d Details) empty() bool {
	return strings.TrimSpace(d.Coordinates) == "" && strings.TrimSpace(d.Notes) == ""
}

// Augmenter applies Apply to a working message exactly once.
type Augmenter struct {
	opts Options
}

// New creates an Augmenter.
func New(opts Options) *Augmenter {
	return &Augmenter{opts: opts}
}

// Augment rewrites msg's bodies in place. A message already marked as
// augmented is left untouched.
func (a *Augmenter) Augment(msg *models.ComposedMessage, d Details) {
	if msg.Augmented {
		slog.Warn("message already augmented, skipping details block", "subject", msg.Subject)
		return
	}
	msg.HTML, msg.Text = Apply(msg.HTML, msg.Text, d, a.opts)
	msg.Augmented = true
}

// Apply strips map-search anchors from htmlBody and appends the details
// block to each non-empty body. It never fails.
func Apply(htmlBody, textBody string, d Details, opts Options) (string, string) {
	htmlBody = StripMapLinks(htmlBody)
	if d.empty() {
		return htmlBody, textBody
	}

	if htmlBody != "" {
		htmlBody = injectHTML(htmlBody, renderHTML(d, opts))
	}
	if textBody != "" {
		textBody = textBody + "\n\n" + renderText(d)
	}
	return htmlBody, textBody
}

// StripMapLinks removes every anchor element linking to a map search. An
// unclosed map anchor loses only its opening tag; the text after it stays.
func StripMapLinks(htmlBody string) string {
	if !strings.Contains(strings.ToLower(htmlBody), "/maps/search/") {
		return htmlBody
	}
	htmlBody = mapLinkPattern.ReplaceAllString(htmlBody, "")
	return mapOpenTagPattern.ReplaceAllString(htmlBody, "")
}

// MapSearchURL builds a map-search link for a lat/lon pair.
func MapSearchURL(lat, lon string) string {
	return MapSearchBase + "?api=1&query=" + url.QueryEscape(lat) + "," + url.QueryEscape(lon)
}

// injectHTML places block right before the last closing body tag, or at
// the end of the document when there is none.
func injectHTML(doc, block string) string {
	locs := closingBodyPattern.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		return doc + block
	}
	at := locs[len(locs)-1][0]
	return doc[:at] + block + doc[at:]
}

func renderHTML(d Details, opts Options) string {
	esc := func(s string) string {
		if opts.EscapeHTML {
			return html.EscapeString(s)
		}
		return s
	}

	var b strings.Builder
	b.WriteString(`<div style="margin-top:20px;padding:15px;border:1px solid #ddd;border-radius:5px;">`)
	b.WriteString(`<h3 style="margin-top:0;">Additional Details</h3>`)

	if raw := strings.TrimSpace(d.Coordinates); raw != "" {
		c := models.ParseCoordinates(raw)
		if c.Parsed {
			fmt.Fprintf(&b, `<p>GPS Coordinates: %s (<a href="%s" target="_blank">View on Google Maps</a>)</p>`,
				esc(c.Raw), html.EscapeString(MapSearchURL(c.Lat, c.Lon)))
			fmt.Fprintf(&b, `<p>Latitude: %s<br>Longitude: %s</p>`,
				esc(c.Lat), esc(c.Lon))
		} else {
			fmt.Fprintf(&b, `<p>GPS Coordinates: %s</p>`, esc(c.Raw))
		}
	}

	if notes := strings.TrimSpace(d.Notes); notes != "" {
		fmt.Fprintf(&b, `<p>Notes: %s</p>`, esc(d.Notes))
	}

	b.WriteString(`</div>`)
	return b.String()
}

func renderText(d Details) string {
	lines := []string{"Additional Details"}

	if raw := strings.TrimSpace(d.Coordinates); raw != "" {
		c := models.ParseCoordinates(raw)
		lines = append(lines, "GPS Coordinates: "+c.Raw)
		if c.Parsed {
			lines = append(lines,
				"Map: "+MapSearchURL(c.Lat, c.Lon),
				"Latitude: "+c.Lat,
				"Longitude: "+c.Lon,
			)
		}
	}

	if strings.TrimSpace(d.Notes) != "" {
		lines = append(lines, "Notes: "+d.Notes)
	}

	return strings.Join(lines, "\n")
}
