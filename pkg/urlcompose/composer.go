// Package urlcompose builds delivery URLs for the external asset-transformation service.
package urlcompose

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/aretw0/glimpse/pkg/domain"
)

// Params are the transformation inputs of a delivery URL. Zero means undefined.
type Params struct {
	Width   int
	Height  int
	Quality int
	Format  domain.NegotiatedFormat
	// Forced marks a format chosen by the request rather than by negotiation.
	Forced bool
}

// Composer appends transformation parameters to first-party asset URLs.
type Composer struct {
	// HostOrigin is the hosting application's origin, with or without scheme
	// (e.g. "example.com" or "https://example.com").
	HostOrigin string

	// FormatName is the value of the format parameter for the next-gen encoding.
	FormatName string
}

// New creates a Composer for the given hosting origin.
func New(hostOrigin string) *Composer {
	return &Composer{HostOrigin: hostOrigin, FormatName: domain.DefaultFormatParamTag}
}

// ForRequest maps a request and its negotiated format to composer params.
func ForRequest(req domain.ImageRequest, format domain.NegotiatedFormat) Params {
	return Params{
		Width:   req.Width,
		Height:  req.Height,
		Quality: req.Quality,
		Format:  format,
		Forced:  req.Format == domain.ForceNextGen,
	}
}

// Compose returns the delivery URL for sourceURL.
// Cross-origin sources are returned unchanged, as they are not assumed to honor the
// transformation query contract.
func (c *Composer) Compose(sourceURL string, p Params) string {
	if c.isCrossOrigin(sourceURL) {
		return sourceURL
	}

	var pairs []string
	add := func(key, value string) {
		pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}
	if p.Width > 0 {
		add(domain.ParamWidth, strconv.Itoa(p.Width))
	}
	if p.Height > 0 {
		add(domain.ParamHeight, strconv.Itoa(p.Height))
	}
	if p.Format == domain.FormatNextGen || p.Forced {
		if p.Quality > 0 {
			add(domain.ParamQuality, strconv.Itoa(p.Quality))
		}
		add(domain.ParamFormat, c.formatValue(p))
	}
	if len(pairs) == 0 {
		return sourceURL
	}

	base, fragment, hasFragment := strings.Cut(sourceURL, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	out := base + sep + strings.Join(pairs, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

func (c *Composer) formatValue(p Params) string {
	if p.Format != domain.FormatNextGen {
		return p.Format.String()
	}
	if c.FormatName == "" {
		return domain.DefaultFormatParamTag
	}
	return c.FormatName
}

// isCrossOrigin reports whether an absolute source lives outside the hosting origin.
// Subdomains of the host (e.g. a cdn. host) share its transformation contract.
// When HostOrigin carries a scheme, the source must also match its scheme and
// effective port; a bare host origin compares hostnames only.
func (c *Composer) isCrossOrigin(sourceURL string) bool {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		// Relative (or unparseable) sources are served by the hosting application.
		return false
	}
	o := parseOrigin(c.HostOrigin)
	if o.host == "" {
		return true
	}

	host := strings.ToLower(u.Hostname())
	if host != o.host && !strings.HasSuffix(host, "."+o.host) {
		return true
	}
	if o.scheme == "" {
		return false
	}

	// Scheme-relative sources inherit the hosting scheme.
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = o.scheme
	}
	return scheme != o.scheme || effectivePort(scheme, u.Port()) != o.port
}

type origin struct {
	scheme string
	host   string
	port   string
}

func parseOrigin(raw string) origin {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil {
			scheme := strings.ToLower(u.Scheme)
			return origin{
				scheme: scheme,
				host:   strings.ToLower(u.Hostname()),
				port:   effectivePort(scheme, u.Port()),
			}
		}
	}
	host, _, _ := strings.Cut(raw, "/")
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return origin{host: strings.ToLower(host)}
}

func effectivePort(scheme, port string) string {
	if port != "" {
		return port
	}
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
