package library

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform labels.
const (
	PlatformYouTube       = "youtube"
	PlatformBilibili      = "bilibili"
	PlatformVimeo         = "vimeo"
	PlatformTwitter       = "twitter"
	PlatformTikTok        = "tiktok"
	PlatformInstagram     = "instagram"
	PlatformFacebook      = "facebook"
	PlatformTwitch        = "twitch"
	PlatformApplePodcasts = "apple_podcasts"
	PlatformSpotify       = "spotify"
	PlatformSoundCloud    = "soundcloud"
	PlatformXiaoyuzhou    = "xiaoyuzhou"
	PlatformXimalaya      = "ximalaya"
	PlatformPodcast       = "podcast"
	PlatformOther         = "other"
)

type platformRule struct {
	pattern *regexp.Regexp
	label   string
}

func hostRule(label string, hosts ...string) platformRule {
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = regexp.QuoteMeta(h)
	}
	return platformRule{
		pattern: regexp.MustCompile(`(^|\.)(` + strings.Join(quoted, "|") + `)$`),
		label:   label,
	}
}

// platformRules is evaluated in order against the URL host; first match wins.
var platformRules = []platformRule{
	hostRule(PlatformYouTube, "youtube.com", "youtu.be", "youtube-nocookie.com"),
	hostRule(PlatformBilibili, "bilibili.com", "b23.tv"),
	hostRule(PlatformVimeo, "vimeo.com"),
	hostRule(PlatformTwitter, "twitter.com", "x.com"),
	hostRule(PlatformTikTok, "tiktok.com"),
	hostRule(PlatformInstagram, "instagram.com"),
	hostRule(PlatformFacebook, "facebook.com", "fb.watch"),
	hostRule(PlatformTwitch, "twitch.tv"),
	hostRule(PlatformApplePodcasts, "podcasts.apple.com"),
	hostRule(PlatformSpotify, "spotify.com", "spotify.link"),
	hostRule(PlatformSoundCloud, "soundcloud.com"),
	hostRule(PlatformXiaoyuzhou, "xiaoyuzhoufm.com"),
	hostRule(PlatformXimalaya, "ximalaya.com"),
	hostRule(PlatformPodcast,
		"anchor.fm",
		"podbean.com",
		"buzzsprout.com",
		"libsyn.com",
		"simplecast.com",
		"transistor.fm",
		"captivate.fm",
		"megaphone.fm",
		"podcasts.google.com",
		"pca.st",
		"overcast.fm",
		"castbox.fm",
		"podomatic.com",
		"spreaker.com",
		"acast.com",
		"omny.fm",
		"art19.com",
		"redcircle.com",
		"audioboom.com",
		"pinecast.com",
		"fireside.fm",
		"rss.com",
		"lizhi.fm",
		"qingting.fm",
	),
}

var podcastKeywords = []string{"podcast", "feed", "rss", ".mp3", "episode"}

// ClassifyPlatform maps a source URL to a platform label.
func ClassifyPlatform(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return PlatformOther
	}
	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if host != "" {
		for _, rule := range platformRules {
			if rule.pattern.MatchString(host) {
				return rule.label
			}
		}
	}
	lower := strings.ToLower(raw)
	for _, kw := range podcastKeywords {
		if strings.Contains(lower, kw) {
			return PlatformPodcast
		}
	}
	return PlatformOther
}
