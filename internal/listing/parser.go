// Package listing parses the department board's listing and detail pages.
package listing

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

const (
	noticeSelector     = "td._artclTdTitle a.artclLinkView"
	attachmentSelector = `dl.artclForm dd.artclInsert li a[href*="/download.do"]`
	pinnedClassPrefix  = "headline"
)

var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".hwp":  {},
	".hwpx": {},
	".docx": {},
	".ppt":  {},
	".pptx": {},
}

// Supported reports whether the attachment's extension can be converted.
func Supported(fileName string) bool {
	_, ok := supportedExtensions[strings.ToLower(path.Ext(strings.TrimSpace(fileName)))]
	return ok
}

// Query selects one page of the board's search results.
type Query struct {
	Keyword     string
	CategorySeq string
	Page        int
}

// Form builds the listing POST form for q.
func Form(q Query) map[string]string {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return map[string]string{
		"srchColumn": "sj",
		"srchWrd":    q.Keyword,
		"bbsClSeq":   q.CategorySeq,
		"page":       strconv.Itoa(page),
		"isViewMine": "false",
	}
}

// Notices parses a listing page into its non-pinned notices.
// The returned sequence can be ranged over any number of times.
func Notices(page []byte, baseURL string) (iter.Seq[scholarship.NoticeLink], error) {
	doc, base, err := parse(page, baseURL)
	if err != nil {
		return nil, err
	}
	return func(yield func(scholarship.NoticeLink) bool) {
		links := doc.Find(noticeSelector)
		for i := range links.Length() {
			a := links.Eq(i)
			if isPinned(a.Closest("tr")) {
				continue
			}
			href, ok := resolve(base, a)
			if !ok {
				continue
			}
			if !yield(scholarship.NoticeLink{Title: cleanText(a.Text()), URL: href}) {
				return
			}
		}
	}, nil
}

// Attachments parses a notice detail page into its supported attachments.
// Unsupported extensions are dropped here so they are never downloaded.
func Attachments(page []byte, pageURL string) (iter.Seq[scholarship.AttachmentLink], error) {
	doc, base, err := parse(page, pageURL)
	if err != nil {
		return nil, err
	}
	return func(yield func(scholarship.AttachmentLink) bool) {
		links := doc.Find(attachmentSelector)
		for i := range links.Length() {
			a := links.Eq(i)
			name := cleanText(a.Text())
			if !Supported(name) {
				continue
			}
			href, ok := resolve(base, a)
			if !ok {
				continue
			}
			if !yield(scholarship.AttachmentLink{FileName: name, URL: href}) {
				return
			}
		}
	}, nil
}

func parse(page []byte, rawURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, base, nil
}

func isPinned(row *goquery.Selection) bool {
	class, ok := row.Attr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, pinnedClassPrefix) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, a *goquery.Selection) (string, bool) {
	href, ok := a.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
