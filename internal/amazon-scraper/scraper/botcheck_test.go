package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBotChallenge(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		blocked bool
	}{
		{"captcha form", `<form action="/errors/validateCaptcha"><input id="captchacharacters"></form>`, true},
		{"prompt text", `<h4>Enter the characters you see below</h4>`, true},
		{"robot check title", `<html><head><title>Robot Check</title></head></html>`, true},
		{"automated access notice", `<p>To discuss automated access to Amazon data please contact api-services-support@amazon.com.</p>`, true},
		{"german continue shopping", `<p>Klicke auf die Schaltfläche unten, um mit dem Einkaufen fortzufahren</p>`, true},
		{"product page", productPageFixture, false},
		{"robot vacuum listing", `<span id="productTitle">Robot Vacuum Cleaner, not a toy</span>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DetectBotChallenge(tt.html)
			if tt.blocked {
				assert.ErrorIs(t, err, ErrBotDetected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
