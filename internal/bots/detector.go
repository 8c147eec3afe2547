// Package bots classifies User-Agent strings of automated clients.
package bots

import (
	"fmt"
	"regexp"
)

// DefaultPatterns cover search crawlers, link unfurlers and the performance
// tools that audit pages. Matching is case-insensitive.
var DefaultPatterns = []string{
	`googlebot`,
	`adsbot-google`,
	`mediapartners-google`,
	`google-inspectiontool`,
	`bingbot`,
	`bingpreview`,
	`yandex(bot|images)`,
	`baiduspider`,
	`duckduckbot`,
	`slurp`,
	`applebot`,
	`petalbot`,
	`ahrefsbot`,
	`semrushbot`,
	`facebookexternalhit`,
	`facebot`,
	`twitterbot`,
	`linkedinbot`,
	`slackbot`,
	`discordbot`,
	`telegrambot`,
	`whatsapp`,
	`chrome-lighthouse`,
	`lighthouse`,
	`google page speed`,
	`pagespeed`,
	`\bptst\b`,
	`gtmetrix`,
	`pingdom`,
	`headlesschrome`,
	`phantomjs`,
	`\b(crawler|spider)\b`,
}

// Detector matches User-Agents against a list of regular expressions.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles DefaultPatterns plus extra.
func NewDetector(extra ...string) (*Detector, error) {
	d := &Detector{}
	for _, pattern := range append(append([]string{}, DefaultPatterns...), extra...) {
		regex, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid bot pattern '%s': %w", pattern, err)
		}
		d.patterns = append(d.patterns, regex)
	}
	return d, nil
}

// IsBot reports whether userAgent matches any pattern. An empty User-Agent
// is not a bot.
func (d *Detector) IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	for _, regex := range d.patterns {
		if regex.MatchString(userAgent) {
			return true
		}
	}
	return false
}
