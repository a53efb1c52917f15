package topcv

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// fullPageSize is the number of items on a full listing page. A page that
// full is assumed to have a successor even without pagination markup.
const fullPageSize = 20

const defaultSalary = "Thỏa thuận"

var (
	pageParamPattern    = regexp.MustCompile(`page=(\d+)`)
	paginateTextPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
)

// ParseListing extracts item references from a search results page. A page
// without result cards yields an empty ListingPage.
func (p *Parser) ParseListing(content []byte, page int) (crawler.ListingPage, error) {
	doc, err := newDocument(content)
	if err != nil {
		return crawler.ListingPage{}, err
	}

	cards := doc.Find(".job-item-search-result")
	var items []crawler.ItemReference
	var idErr error
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		link := card.Find(".title a").First()
		if link.Length() == 0 {
			return true
		}
		href, _ := link.Attr("href")
		detailURL := p.resolve(href)
		if detailURL == "" {
			return true
		}
		id, err := p.ItemID(detailURL)
		if err != nil {
			idErr = err
			return false
		}
		items = append(items, crawler.ItemReference{
			ID:         id,
			DetailURL:  detailURL,
			Title:      text(link),
			Company:    text(card.Find(".company-name").First()),
			Location:   text(card.Find(".address").First()),
			Salary:     listingSalary(card.Find(".title-salary").First()),
			Experience: text(card.Find(".exp").First()),
			PostedDate: postedDate(card.Find(".label-update").First()),
		})
		return true
	})
	if idErr != nil {
		return crawler.ListingPage{}, idErr
	}
	if len(items) == 0 {
		return crawler.ListingPage{}, nil
	}
	return crawler.ListingPage{
		Items:   items,
		HasMore: hasMorePages(doc, page, cards.Length()),
	}, nil
}

func listingSalary(s *goquery.Selection) string {
	if s.Length() == 0 {
		return defaultSalary
	}
	return strings.TrimLeftFunc(text(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func postedDate(s *goquery.Selection) string {
	return strings.TrimSpace(strings.TrimPrefix(text(s), "Đăng"))
}

// hasMorePages looks for any sign of a page after current: a rel=next link,
// a page link pointing past current, "N / M" paginate text, a next arrow in
// the pagination box, or a full page of results.
func hasMorePages(doc *goquery.Document, current, cardCount int) bool {
	if doc.Find(`a[rel="next"]`).Length() > 0 {
		return true
	}

	found := false
	doc.Find(`a[data-href*="page="]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("data-href")
		if m := pageParamPattern.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > current {
				found = true
				return false
			}
		}
		return true
	})
	if found {
		return true
	}

	if m := paginateTextPattern.FindStringSubmatch(text(doc.Find("#job-listing-paginate-text").First())); m != nil {
		cur, errCur := strconv.Atoi(m[1])
		total, errTotal := strconv.Atoi(m[2])
		if errCur == nil && errTotal == nil && cur < total {
			return true
		}
	}

	doc.Find(".box-pagination a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		label, _ := s.Attr("aria-label")
		if rel == "next" || strings.Contains(s.Text(), "›") || strings.Contains(label, "Next") {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}

	return cardCount >= fullPageSize
}
