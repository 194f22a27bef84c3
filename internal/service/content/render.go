package content

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

const (
	randomMin = 1
	randomMax = 1000
)

var (
	randomToken      = regexp.MustCompile(`\{random_number\}`)
	randomRangeToken = regexp.MustCompile(`\{random_number:(-?\d+):(-?\d+)\}`)
)

// Render substitutes the post variables in text. chatID and title are only
// substituted when non-empty. Every random token draws its own number; a
// range token whose bounds are out of order is left untouched.
//
//	{date} {time} {datetime} {chat_id} {chat_title}
//	{random_number} {random_number:MIN:MAX}
func (p *Provider) Render(text, chatID, title string) string {
	now := p.now().In(p.cfg.Location)
	date := now.Format(p.cfg.DateFormat)
	clock := now.Format(p.cfg.TimeFormat)

	text = strings.ReplaceAll(text, "{date}", date)
	text = strings.ReplaceAll(text, "{time}", clock)
	text = strings.ReplaceAll(text, "{datetime}", date+" "+clock)
	if chatID != "" {
		text = strings.ReplaceAll(text, "{chat_id}", chatID)
	}
	if title != "" {
		text = strings.ReplaceAll(text, "{chat_title}", title)
	}

	text = randomToken.ReplaceAllStringFunc(text, func(string) string {
		return strconv.Itoa(p.random(randomMin, randomMax))
	})
	text = randomRangeToken.ReplaceAllStringFunc(text, func(token string) string {
		m := randomRangeToken.FindStringSubmatch(token)
		low, errLo := strconv.Atoi(m[1])
		high, errHi := strconv.Atoi(m[2])
		if errLo != nil || errHi != nil || low > high {
			return token
		}
		return strconv.Itoa(p.random(low, high))
	})
	return text
}

// ValidateTemplate rejects random range tokens that Render would leave
// unsubstituted: bounds that do not fit an int or are out of order.
func ValidateTemplate(text string) error {
	for _, m := range randomRangeToken.FindAllStringSubmatch(text, -1) {
		low, errLo := strconv.Atoi(m[1])
		high, errHi := strconv.Atoi(m[2])
		if errLo != nil || errHi != nil {
			return fmt.Errorf("%s: bounds out of range", m[0])
		}
		if low > high {
			return fmt.Errorf("%s: minimum exceeds maximum", m[0])
		}
	}
	return nil
}

// randomInRange returns a uniform integer in [low, high]. The width is
// computed in uint64 so ranges spanning the whole int range do not overflow.
func randomInRange(low, high int) int {
	span := uint64(high) - uint64(low)
	if span == math.MaxUint64 {
		return int(rand.Uint64())
	}
	return int(uint64(low) + rand.Uint64N(span+1))
}
