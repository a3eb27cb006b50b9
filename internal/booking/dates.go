// Package booking turns spoken dates and times ("demain à 14h30", "next
// friday 2pm") into concrete slots and finds free appointment slots.
package booking

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownDate = errors.New("unrecognised date")
	ErrUnknownTime = errors.New("unrecognised time")
)

var weekdays = map[string]time.Weekday{
	"dimanche": time.Sunday, "lundi": time.Monday, "mardi": time.Tuesday, "mercredi": time.Wednesday,
	"jeudi": time.Thursday, "vendredi": time.Friday, "samedi": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var months = map[string]time.Month{
	"janvier": time.January, "fevrier": time.February, "mars": time.March, "avril": time.April,
	"mai": time.May, "juin": time.June, "juillet": time.July, "aout": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November, "decembre": time.December,
	"january": time.January, "february": time.February, "march": time.March, "april": time.April,
	"may": time.May, "june": time.June, "july": time.July, "august": time.August,
	"september": time.September, "october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September, "sept": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var numberWords = map[string]int{
	"un": 1, "une": 1, "deux": 2, "trois": 3, "quatre": 4, "cinq": 5, "six": 6, "sept": 7,
	"huit": 8, "neuf": 9, "dix": 10, "quinze": 15,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10, "fifteen": 15,
}

var (
	isoDateRe     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	numericDateRe = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})(?:[/.\-](\d{2,4}))?$`)
	inDaysRe      = regexp.MustCompile(`^(?:dans|in)\s+(\w+)\s+(jours?|days?|semaines?|weeks?)$`)
	dayOfMonthRe  = regexp.MustCompile(`^(\d{1,2})(?:er|st|nd|rd|th)?$`)
	dayMonthRe    = regexp.MustCompile(`^(\d{1,2})(?:er|st|nd|rd|th)?\s+([a-z]+)\.?(?:\s+(\d{4}))?$`)
	monthDayRe    = regexp.MustCompile(`^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
)

var accentReplacer = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a", "ä", "a",
	"î", "i", "ï", "i", "ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u", "ç", "c",
	"’", "'", "`", "'",
)

func normalize(s string) string {
	s = accentReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Join(strings.Fields(s), " ")
}

// ResolveDate interprets a French or English date relative to now and
// returns midnight of that day in now's location. Dates that already passed
// roll forward: a weekday to its next occurrence, a day and month to the next
// year where it exists. A leading weekday ("vendredi 23 octobre") must agree
// with the date, and a trailing time ("mardi 12h") is ignored.
func ResolveDate(input string, now time.Time) (time.Time, error) {
	s := normalize(input)
	for _, prefix := range []string{"le ", "pour ", "on ", "the ", "for "} {
		s = strings.TrimPrefix(s, prefix)
	}
	today := midnight(now)

	if d, ok := resolveDate(s, today); ok {
		return d, nil
	}
	if rest, ok := stripTime(s); ok {
		if d, ok := resolveDate(rest, today); ok {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownDate, input)
}

func resolveDate(s string, today time.Time) (time.Time, bool) {
	switch s {
	case "aujourd'hui", "aujourdhui", "aujourd hui", "today", "ce jour":
		return today, true
	case "demain", "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "apres-demain", "apres demain", "apresdemain", "day after tomorrow", "the day after tomorrow":
		return today.AddDate(0, 0, 2), true
	}

	if m := inDaysRe.FindStringSubmatch(s); m != nil {
		n, ok := parseCount(m[1])
		if !ok {
			return time.Time{}, false
		}
		if strings.HasPrefix(m[2], "semaine") || strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return today.AddDate(0, 0, n), true
	}

	if d, ok := resolveWeekday(s, today); ok {
		return d, true
	}

	if wd, rest, ok := splitWeekday(s); ok {
		d, ok := resolveExplicit(rest, today, true)
		if !ok || d.Weekday() != wd {
			return time.Time{}, false
		}
		return d, true
	}
	return resolveExplicit(s, today, false)
}

// resolveExplicit handles calendar dates. A bare day of month is only
// accepted after a weekday, which then disambiguates it.
func resolveExplicit(s string, today time.Time, dayOnly bool) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return buildDate(y, time.Month(mo), d, today.Location())
	}
	if m := numericDateRe.FindStringSubmatch(s); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		return resolveDayMonth(d, time.Month(mo), m[3], today)
	}
	if m := dayMonthRe.FindStringSubmatch(s); m != nil {
		if mo, ok := months[m[2]]; ok {
			d, _ := strconv.Atoi(m[1])
			return resolveDayMonth(d, mo, m[3], today)
		}
	}
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		if mo, ok := months[m[1]]; ok {
			d, _ := strconv.Atoi(m[2])
			return resolveDayMonth(d, mo, m[3], today)
		}
	}
	if m := dayOfMonthRe.FindStringSubmatch(s); m != nil && dayOnly {
		d, _ := strconv.Atoi(m[1])
		for i := 0; i < 2; i++ {
			first := time.Date(today.Year(), today.Month()+time.Month(i), 1, 0, 0, 0, 0, today.Location())
			if c, ok := buildDate(first.Year(), first.Month(), d, today.Location()); ok && !c.Before(today) {
				return c, true
			}
		}
	}
	return time.Time{}, false
}

// resolveWeekday handles "lundi", "lundi prochain", "next monday", "ce lundi".
// A bare weekday may be today; "prochain"/"next" always means a later day.
func resolveWeekday(s string, today time.Time) (time.Time, bool) {
	words := strings.Fields(s)
	var (
		wd     time.Weekday
		found  bool
		strict bool
	)
	for _, w := range words {
		switch w {
		case "prochain", "prochaine", "next":
			strict = true
		case "ce", "cette", "this", "coming":
		default:
			d, ok := weekdays[w]
			if !ok || found {
				return time.Time{}, false
			}
			wd, found = d, true
		}
	}
	if !found {
		return time.Time{}, false
	}
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 && strict {
		delta = 7
	}
	return today.AddDate(0, 0, delta), true
}

// splitWeekday separates a leading weekday from the rest of the phrase.
func splitWeekday(s string) (time.Weekday, string, bool) {
	first, rest, ok := strings.Cut(s, " ")
	if !ok {
		return 0, "", false
	}
	wd, ok := weekdays[first]
	return wd, rest, ok
}

// stripTime drops a trailing clock time: "mardi 12h", "demain a 14h30",
// "friday at 2 pm".
func stripTime(s string) (string, bool) {
	for _, sep := range []string{" a ", " at ", " vers ", " around "} {
		if i := strings.LastIndex(s, sep); i > 0 {
			if _, _, err := ResolveTime(s[i+1:]); err == nil {
				return s[:i], true
			}
		}
	}
	words := strings.Fields(s)
	for n := 1; n <= 3 && n < len(words); n++ {
		if _, _, err := ResolveTime(strings.Join(words[len(words)-n:], " ")); err == nil {
			return strings.Join(words[:len(words)-n], " "), true
		}
	}
	return "", false
}

// maxYearsAhead covers 29 February, which can be four years away.
const maxYearsAhead = 4

func resolveDayMonth(day int, month time.Month, yearStr string, today time.Time) (time.Time, bool) {
	if yearStr != "" {
		y, _ := strconv.Atoi(yearStr)
		if y < 100 {
			y += 2000
		}
		return buildDate(y, month, day, today.Location())
	}
	for y := today.Year(); y <= today.Year()+maxYearsAhead; y++ {
		d, ok := buildDate(y, month, day, today.Location())
		if !ok {
			if month < time.January || month > time.December || day < 1 || day > 29 {
				return time.Time{}, false
			}
			continue
		}
		if !d.Before(today) {
			return d, true
		}
	}
	return time.Time{}, false
}

func buildDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	// time.Date normalises 31/02 to March; reject it instead
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func parseCount(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 365 {
		return n, true
	}
	n, ok := numberWords[s]
	return n, ok
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
