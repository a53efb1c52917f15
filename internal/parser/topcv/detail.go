package topcv

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

type template string

const (
	templatePremium  template = "premium"
	templateStandard template = "standard"
	templateBrand    template = "brand"
	templateFallback template = "fallback"
)

var (
	datePattern         = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)
	deadlineLabel       = regexp.MustCompile(`Hạn nộp hồ sơ:\s*(\d{2}/\d{2}/\d{4})`)
	deadlineKeyword     = regexp.MustCompile(`(?i)hạn nộp|deadline`)
	errNoContent        = fmt.Errorf("%w: no job content", crawler.ErrParse)
	fallbackHeadingTags = []string{"h1", "h2", "h3", "h4"}
)

// field names a JobRecord section a heading maps onto.
type field int

const (
	fieldNone field = iota
	fieldDescription
	fieldRequirements
	fieldBenefits
	fieldWorkLocation
	fieldSalary
	fieldDeadline
)

// sectionRules maps lower-cased heading keywords to fields, in priority order.
type sectionRule struct {
	keywords []string
	field    field
}

var (
	premiumRules = []sectionRule{
		{[]string{"mô tả công việc"}, fieldDescription},
		{[]string{"yêu cầu"}, fieldRequirements},
		{[]string{"quyền lợi"}, fieldBenefits},
		{[]string{"địa điểm"}, fieldWorkLocation},
		{[]string{"thu nhập", "lương"}, fieldSalary},
	}
	standardRules = []sectionRule{
		{[]string{"mô tả công việc"}, fieldDescription},
		{[]string{"yêu cầu"}, fieldRequirements},
		{[]string{"quyền lợi"}, fieldBenefits},
		{[]string{"địa điểm làm việc"}, fieldWorkLocation},
		{[]string{"hạn nộp"}, fieldDeadline},
		{[]string{"thu nhập", "lương"}, fieldSalary},
	}
	brandRules = []sectionRule{
		{[]string{"mô tả"}, fieldDescription},
		{[]string{"yêu cầu"}, fieldRequirements},
		{[]string{"quyền lợi", "phúc lợi"}, fieldBenefits},
		{[]string{"địa điểm"}, fieldWorkLocation},
		{[]string{"lương", "thu nhập"}, fieldSalary},
	}
	fallbackRules = []sectionRule{
		{[]string{"mô tả", "nhiệm vụ"}, fieldDescription},
		{[]string{"yêu cầu"}, fieldRequirements},
		{[]string{"quyền lợi", "phúc lợi", "chế độ"}, fieldBenefits},
		{[]string{"địa điểm", "nơi làm việc"}, fieldWorkLocation},
		{[]string{"lương", "thu nhập"}, fieldSalary},
	}
)

func classify(heading string, rules []sectionRule) field {
	heading = strings.ToLower(heading)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(heading, kw) {
				return rule.field
			}
		}
	}
	return fieldNone
}

// ParseDetail builds a JobRecord from a detail page, starting from the
// listing summary carried in ref.
func (p *Parser) ParseDetail(content []byte, ref crawler.ItemReference) (crawler.JobRecord, error) {
	if ref.ID == "" {
		return crawler.JobRecord{}, fmt.Errorf("%w: item reference has no id", crawler.ErrParse)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return crawler.JobRecord{}, errNoContent
	}
	doc, err := newDocument(content)
	if err != nil {
		return crawler.JobRecord{}, err
	}

	rec := crawler.JobRecord{
		ID:         ref.ID,
		Title:      ref.Title,
		Company:    ref.Company,
		Location:   ref.Location,
		Salary:     ref.Salary,
		Experience: ref.Experience,
		PostedDate: ref.PostedDate,
		URL:        ref.DetailURL,
	}
	if rec.Title == "" {
		rec.Title = text(doc.Find(".job-detail__info--title, h1").First())
	}

	var salaryText string
	switch detectTemplate(doc) {
	case templatePremium:
		salaryText = parseSections(doc.Find(".premium-job-description__box"),
			".premium-job-description__box--title", ".premium-job-description__box--content", premiumRules, &rec)
	case templateStandard:
		salaryText = parseSections(doc.Find(".job-description__item"),
			"h3", ".job-description__item--content", standardRules, &rec)
	case templateBrand:
		sections := doc.Find(".brand-job-detail-section")
		if sections.Length() == 0 {
			sections = doc.Find(".box-info-job")
		}
		salaryText = parseSections(sections, "h2, h3, .title", ".content, .desc, .detail", brandRules, &rec)
		if rec.Deadline == "" {
			rec.Deadline = firstDate(doc.Find(".detail-deadline, .deadline-text, .job-deadline"))
		}
	default:
		salaryText = parseFallback(doc, &rec)
	}

	if m := deadlineLabel.FindStringSubmatch(text(doc.Find(".job-detail__information-detail--actions-label").First())); m != nil {
		rec.Deadline = m[1]
	}
	if rec.Salary == "" {
		rec.Salary = salaryText
	}
	applySalary(&rec)

	rec.WorkLocation = cleanLocationText(rec.WorkLocation)
	rec.Description = cleanListFormatting(rec.Description)
	rec.Requirements = cleanListFormatting(rec.Requirements)
	rec.Benefits = cleanListFormatting(rec.Benefits)

	if rec.Title == "" && rec.Description == "" && rec.Requirements == "" {
		return crawler.JobRecord{}, errNoContent
	}
	return rec, nil
}

func detectTemplate(doc *goquery.Document) template {
	switch {
	case doc.Find(".premium-job-description__box").Length() > 0:
		return templatePremium
	case doc.Find(".job-description__item").Length() > 0:
		return templateStandard
	case doc.Find(".brand-job-detail").Length() > 0:
		return templateBrand
	default:
		return templateFallback
	}
}

// parseSections fills rec from heading/content pairs and returns the text of
// the salary section, if any.
func parseSections(sections *goquery.Selection, headingSel, contentSel string, rules []sectionRule, rec *crawler.JobRecord) string {
	var salary string
	sections.Each(func(_ int, section *goquery.Selection) {
		heading := section.Find(headingSel).First()
		content := section.Find(contentSel).First()
		if heading.Length() == 0 || content.Length() == 0 {
			return
		}
		f := classify(text(heading), rules)
		if f == fieldSalary {
			if salary == "" {
				salary = contentText(content)
			}
			return
		}
		assign(rec, f, contentText(content))
	})
	return salary
}

func parseFallback(doc *goquery.Document, rec *crawler.JobRecord) string {
	var salary string
	for _, tag := range fallbackHeadingTags {
		doc.Find(tag).Each(func(_ int, heading *goquery.Selection) {
			content := contentAfterHeading(heading)
			if content == nil {
				return
			}
			f := classify(text(heading), fallbackRules)
			if f == fieldSalary {
				salary = contentText(content)
				return
			}
			assign(rec, f, contentText(content))
		})
	}

	if rec.Deadline == "" {
		doc.Find("body *").Contents().EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if goquery.NodeName(node) != "#text" || !deadlineKeyword.MatchString(node.Text()) {
				return true
			}
			// The date often sits next to the label rather than inside it.
			el := node.Parent()
			for depth := 0; depth < 2 && el.Length() > 0; depth++ {
				if m := datePattern.FindStringSubmatch(text(el)); m != nil {
					rec.Deadline = m[1]
					return false
				}
				el = el.Parent()
			}
			return true
		})
	}
	return salary
}

func assign(rec *crawler.JobRecord, f field, value string) {
	switch f {
	case fieldDescription:
		rec.Description = value
	case fieldRequirements:
		rec.Requirements = value
	case fieldBenefits:
		rec.Benefits = value
	case fieldWorkLocation:
		rec.WorkLocation = value
	case fieldDeadline:
		rec.Deadline = value
	}
}

// contentAfterHeading returns the first following sibling with text, looking
// past the heading's parent when the heading is wrapped.
func contentAfterHeading(heading *goquery.Selection) *goquery.Selection {
	for _, candidates := range []*goquery.Selection{heading.NextAll(), heading.Parent().NextAll()} {
		var found *goquery.Selection
		candidates.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text(s) != "" {
				found = s
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// contentText renders list items as "- item" lines and anything else as
// plain text.
func contentText(content *goquery.Selection) string {
	items := content.Find("li")
	if items.Length() == 0 {
		return text(content)
	}
	lines := make([]string, 0, items.Length())
	items.Each(func(_ int, li *goquery.Selection) {
		if t := text(li); t != "" {
			lines = append(lines, "- "+t)
		}
	})
	return strings.Join(lines, "\n")
}

func firstDate(s *goquery.Selection) string {
	var date string
	s.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if m := datePattern.FindStringSubmatch(text(el)); m != nil {
			date = m[1]
			return false
		}
		return true
	})
	return date
}
