package dispatch

import (
	"math/rand"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// pickContent selects the message body for one recipient: a uniformly random
// variant when variants exist, the single content string otherwise.
func pickContent(t Template) string {
	if len(t.Variants) > 0 {
		return t.Variants[rand.Intn(len(t.Variants))]
	}
	return t.Content
}

// renderTemplate substitutes {{name}} and {{phone}} from the recipient and
// any other {{key}} token from its attributes. Tokens with no matching
// attribute stay literal in the output.
func renderTemplate(content string, r Recipient) string {
	return tokenRe.ReplaceAllStringFunc(content, func(tok string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(tok, "{{"), "}}")
		switch key {
		case "name":
			return r.Name
		case "phone":
			return r.Phone
		}
		if v, ok := r.Attrs[key]; ok {
			return v
		}
		return tok
	})
}
