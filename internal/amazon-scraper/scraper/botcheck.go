package scraper

import (
	"fmt"
	"strings"
)

// challengeMarkers are literal fragments of Amazon's automated-traffic pages.
var challengeMarkers = []string{
	"enter the characters you see below",
	"sorry, we just need to make sure you're not a robot",
	"to discuss automated access to amazon data",
	"/errors/validatecaptcha",
	"captchacharacters",
	"<title>robot check</title>",
	"klicke auf die schaltfläche unten",
	"geben sie die zeichen unten ein",
}

// DetectBotChallenge returns ErrBotDetected when html is a challenge page.
func DetectBotChallenge(html string) error {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: page contains %q", ErrBotDetected, marker)
		}
	}
	return nil
}
