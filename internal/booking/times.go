package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	frTimeRe = regexp.MustCompile(`^(\d{1,2})\s*h\s*(\d{2})?$`)
	colonRe  = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})$`)
	ampmRe   = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s*m\.?$`)
	bareRe   = regexp.MustCompile(`^(\d{1,2})$`)
)

// ResolveTime parses "14h", "14h30", "14:30", "2pm", "2:30 pm", "midi" or
// "noon" into hour and minute.
func ResolveTime(input string) (hour, minute int, err error) {
	s := normalize(input)
	for _, prefix := range []string{"a ", "vers ", "at ", "around "} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, " heures")
	s = strings.TrimSuffix(s, " heure")

	switch s {
	case "midi", "noon", "12h", "midday":
		return 12, 0, nil
	case "minuit", "midnight":
		return 0, 0, nil
	case "midi et demi", "midi trente":
		return 12, 30, nil
	}

	var h, m int
	switch {
	case ampmRe.MatchString(s):
		g := ampmRe.FindStringSubmatch(s)
		h, _ = strconv.Atoi(g[1])
		if g[2] != "" {
			m, _ = strconv.Atoi(g[2])
		}
		if h < 1 || h > 12 {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownTime, input)
		}
		if g[3] == "p" && h != 12 {
			h += 12
		}
		if g[3] == "a" && h == 12 {
			h = 0
		}
	case frTimeRe.MatchString(s):
		g := frTimeRe.FindStringSubmatch(s)
		h, _ = strconv.Atoi(g[1])
		if g[2] != "" {
			m, _ = strconv.Atoi(g[2])
		}
	case colonRe.MatchString(s):
		g := colonRe.FindStringSubmatch(s)
		h, _ = strconv.Atoi(g[1])
		m, _ = strconv.Atoi(g[2])
	case bareRe.MatchString(s):
		h, _ = strconv.Atoi(s)
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownTime, input)
	}

	if h > 23 || m > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownTime, input)
	}
	return h, m, nil
}

// At combines a resolved day with a clock time.
func At(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

var (
	frDays   = []string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frMonths = []string{"", "janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// FormatDate renders a day the way the agent reads it out.
func FormatDate(t time.Time, lang string) string {
	if isFrench(lang) {
		return fmt.Sprintf("%s %d %s", frDays[t.Weekday()], t.Day(), frMonths[t.Month()])
	}
	return t.Format("Monday, January 2")
}

// FormatTime renders a clock time: "14h30" in French, "2:30 PM" in English.
func FormatTime(t time.Time, lang string) string {
	if isFrench(lang) {
		if t.Minute() == 0 {
			return fmt.Sprintf("%dh", t.Hour())
		}
		return fmt.Sprintf("%dh%02d", t.Hour(), t.Minute())
	}
	return t.Format("3:04 PM")
}

func isFrench(lang string) bool {
	return lang == "" || strings.HasPrefix(strings.ToLower(lang), "fr")
}
