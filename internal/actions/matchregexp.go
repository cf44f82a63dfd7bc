package actions

import "regexp"

// matchRegexp wraps a compiled regexp. Unlike the original's
// std::regex_match (which requires matching the whole string, forcing
// it to pad the phrase with leading/trailing "(.*)"), Go's MatchString
// already reports a match anywhere in the line, so no padding is
// needed here.
type matchRegexp struct {
	re *regexp.Regexp
}

func newMatchRegexp(phrase string) (matchRegexp, error) {
	re, err := regexp.Compile(phrase)
	if err != nil {
		return matchRegexp{}, err
	}
	return matchRegexp{re: re}, nil
}

func (m matchRegexp) MatchString(s string) bool {
	if m.re == nil {
		return false
	}
	return m.re.MatchString(s)
}
