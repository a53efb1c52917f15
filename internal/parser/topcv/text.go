package topcv

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

var (
	bulletPrefix   = regexp.MustCompile(`^[•\-*+✓✔→⇒»◆◇◈○●◎◉▪▫□■★☆]+\s*`)
	numberedPrefix = regexp.MustCompile(`^(?:\d+[.)]|\(\d+\)|[ivxIVX]+\.|\([ivxIVX]+\))\s+`)
	locationPrefix = regexp.MustCompile(`^-\s*([^:]+):\s*`)

	salaryRange  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*(triệu|tr|trieu|million|usd|vnd|đồng|dong)`)
	salarySingle = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(triệu|tr|trieu|million|usd|vnd|đồng|dong)`)
)

// cleanListFormatting rewrites bullet and numbered list markers at the start
// of each line to "- " and squeezes blank lines.
func cleanListFormatting(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		switch {
		case bulletPrefix.MatchString(line):
			line = "- " + bulletPrefix.ReplaceAllString(line, "")
		case numberedPrefix.MatchString(line):
			line = "- " + numberedPrefix.ReplaceAllString(line, "")
		}
		out = append(out, strings.ReplaceAll(line, "● ", "- "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// cleanLocationText turns "- Hà Nội: Tầng 5, ..." lines into "Hà Nội Tầng 5, ...".
func cleanLocationText(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = locationPrefix.ReplaceAllString(strings.TrimSpace(line), "$1 ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// applySalary derives the numeric range, currency, and negotiable flag from
// rec.Salary. Dots are thousands separators, as on the site.
func applySalary(rec *crawler.JobRecord) {
	lower := strings.ToLower(rec.Salary)
	if strings.Contains(lower, "thỏa thuận") || strings.Contains(lower, "thoả thuận") {
		rec.SalaryNegotiable = true
	}
	if m := salaryRange.FindStringSubmatch(lower); m != nil {
		minVal, errMin := parseAmount(m[1])
		maxVal, errMax := parseAmount(m[2])
		if errMin == nil && errMax == nil {
			rec.SalaryMin = &minVal
			rec.SalaryMax = &maxVal
			rec.SalaryCurrency = m[3]
		}
		return
	}
	if m := salarySingle.FindStringSubmatch(lower); m != nil {
		if v, err := parseAmount(m[1]); err == nil {
			minVal, maxVal := v, v
			rec.SalaryMin = &minVal
			rec.SalaryMax = &maxVal
			rec.SalaryCurrency = m[2]
		}
	}
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ".", ""), 64)
}
