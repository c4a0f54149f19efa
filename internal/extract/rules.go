package extract

import (
	"regexp"
	"strings"
)

// codeRules are tried in order; the first rule that matches anywhere wins.
var codeRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)验证码[：:]\s*?(\d{4,6})`),
	regexp.MustCompile(`(?i)verification code[：:]\s*?(\d{4,6})`),
	regexp.MustCompile(`(?i)code[：:]\s*?["']*(\d{4,6})`),
	regexp.MustCompile(`(?i)[\s>](\d{6})[\s<]`),
	regexp.MustCompile(`(?i)<b[^>]*>(\d{4,6})</b>`),
	regexp.MustCompile(`(?i)<label[^>]*>(\d{4,6})</label>`),
}

// linkRejects are matched against the lower-cased href.
var linkRejects = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp",
	"wf/open",
	"unsubscribe",
	"privacy",
	"help",
	"#",
	"javascript:",
}

var (
	anchor   = regexp.MustCompile(`<a[^>]*?href=['"]([^'"]+)['"][^>]*>(.*?)</a>`)
	innerTag = regexp.MustCompile(`<[^>]+>`)
)

func findCode(content string) (string, bool) {
	for _, re := range codeRules {
		if m := re.FindStringSubmatch(content); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func findLink(content string) (href, text string, ok bool) {
	for _, m := range anchor.FindAllStringSubmatch(content, -1) {
		href = m[1]
		if rejected(href) {
			continue
		}
		text = strings.TrimSpace(innerTag.ReplaceAllString(m[2], ""))
		if text == "" {
			continue
		}
		return href, text, true
	}
	return "", "", false
}

func rejected(href string) bool {
	lower := strings.ToLower(href)
	for _, s := range linkRejects {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
