package canonical

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// URL types.
const (
	TypeSite   = "site"
	TypeSocial = "social"
)

// Social providers recognized by ExtractSocialProvider.
const (
	ProviderInstagram      = "instagram"
	ProviderFacebook       = "facebook"
	ProviderTikTok         = "tiktok"
	ProviderTwitter        = "twitter"
	ProviderLinkedIn       = "linkedin"
	ProviderYouTube        = "youtube"
	ProviderPinterest      = "pinterest"
	ProviderThreads        = "threads"
	ProviderGoogleBusiness = "google_business"
	ProviderYelp           = "yelp"
)

// hostProviders match on the full host, before the registrable domain is derived.
var hostProviders = map[string]string{
	"business.google.com": ProviderGoogleBusiness,
	"maps.app.goo.gl":     ProviderGoogleBusiness,
	"g.page":              ProviderGoogleBusiness,
}

var domainProviders = map[string]string{
	"instagram.com": ProviderInstagram,
	"instagr.am":    ProviderInstagram,
	"facebook.com":  ProviderFacebook,
	"fb.com":        ProviderFacebook,
	"fb.me":         ProviderFacebook,
	"tiktok.com":    ProviderTikTok,
	"twitter.com":   ProviderTwitter,
	"x.com":         ProviderTwitter,
	"linkedin.com":  ProviderLinkedIn,
	"youtube.com":   ProviderYouTube,
	"youtu.be":      ProviderYouTube,
	"pinterest.com": ProviderPinterest,
	"pin.it":        ProviderPinterest,
	"threads.net":   ProviderThreads,
	"yelp.com":      ProviderYelp,
}

// brandProviders cover country-code variants such as pinterest.de or yelp.co.uk.
var brandProviders = map[string]string{
	"pinterest": ProviderPinterest,
	"yelp":      ProviderYelp,
	"facebook":  ProviderFacebook,
}

// DetectURLType classifies rawURL as a social profile or a plain site.
// Invalid URLs are reported as sites; callers validate separately.
func DetectURLType(rawURL string) string {
	if ExtractSocialProvider(rawURL) != "" {
		return TypeSocial
	}
	return TypeSite
}

// ExtractSocialProvider returns the provider name for social profile URLs, or
// an empty string when the host is not a known social network.
func ExtractSocialProvider(rawURL string) string {
	res := Canonicalize(rawURL)
	if !res.IsValid {
		return ""
	}
	return providerForHost(res.Host)
}

func providerForHost(host string) string {
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	if p, ok := hostProviders[host]; ok {
		return p
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registrable = host
	}
	if p, ok := domainProviders[registrable]; ok {
		return p
	}
	brand, _, _ := strings.Cut(registrable, ".")
	if p, ok := brandProviders[brand]; ok {
		return p
	}
	return ""
}
