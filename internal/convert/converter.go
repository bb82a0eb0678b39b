// Package convert sends attachment bytes to a document-parse service and turns
// the returned element HTML into sanitised HTML and plain text.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/fetch"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Placeholders stored when the parser returns no content segments.
const (
	EmptyHTML = "<p>(empty document)</p>"
	EmptyText = "(empty document)"
)

var (
	// ErrConversionTimeout means the parser did not answer within the read timeout.
	ErrConversionTimeout = errors.New("conversion timed out")
	// ErrConversionRejected means the parser answered with an error or an unreadable body.
	ErrConversionRejected = errors.New("conversion rejected")
	// ErrUnsupportedFormat means the downloaded bytes are not a document at all,
	// typically an HTML error page served in place of the file.
	ErrUnsupportedFormat = errors.New("unsupported attachment format")
)

// Config controls the document-parse client.
type Config struct {
	URL            string
	APIKey         string
	Model          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Retry          fetch.RetryPolicy
}

// Converter implements scholarship.Converter against a document-parse endpoint.
type Converter struct {
	cfg    Config
	client *http.Client
	policy *bluemonday.Policy
	logger *zap.Logger
}

var _ scholarship.Converter = (*Converter)(nil)

// New builds a Converter. Zero timeouts fall back to 10s connect and 180s read.
func New(cfg Config, logger *zap.Logger) *Converter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 180 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "document-parse"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("convert")
	if cfg.Retry.Notify == nil {
		cfg.Retry.Notify = func(err error, wait time.Duration) {
			logger.Warn("retrying conversion", zap.Error(err), zap.Duration("wait", wait))
		}
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Converter{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		policy: bluemonday.UGCPolicy(),
		logger: logger,
	}
}

type parseResponse struct {
	Elements []struct {
		Content *struct {
			HTML *string `json:"html"`
		} `json:"content"`
	} `json:"elements"`
}

// Convert uploads raw and assembles the returned segments.
func (c *Converter) Convert(ctx context.Context, fileName string, raw []byte) (scholarship.ConvertResult, error) {
	if err := checkFormat(raw); err != nil {
		return scholarship.ConvertResult{}, fmt.Errorf("%s: %w", fileName, err)
	}
	body, contentType, err := multipartBody(fileName, ContentType(fileName, raw), c.cfg.Model, raw)
	if err != nil {
		return scholarship.ConvertResult{}, err
	}

	var payload []byte
	err = c.cfg.Retry.Do(ctx, func() error {
		var postErr error
		payload, postErr = c.post(ctx, body, contentType)
		return postErr
	})
	switch {
	case errors.Is(err, fetch.ErrReadTimeout):
		return scholarship.ConvertResult{}, fmt.Errorf("%w: %w", ErrConversionTimeout, err)
	case errors.Is(err, fetch.ErrClient), errors.Is(err, fetch.ErrTransientServer):
		return scholarship.ConvertResult{}, fmt.Errorf("%w: %w", ErrConversionRejected, err)
	case err != nil:
		return scholarship.ConvertResult{}, fmt.Errorf("convert %s: %w", fileName, err)
	}

	var parsed parseResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return scholarship.ConvertResult{}, fmt.Errorf("%w: decode response: %w", ErrConversionRejected, err)
	}
	segments := make([]string, 0, len(parsed.Elements))
	for _, el := range parsed.Elements {
		if el.Content == nil || el.Content.HTML == nil {
			continue
		}
		segments = append(segments, *el.Content.HTML)
	}
	return c.assemble(segments), nil
}

func (c *Converter) post(ctx context.Context, body []byte, contentType string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout+c.cfg.ReadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fetch.Classify(c.cfg.URL, 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	data, readErr := io.ReadAll(resp.Body)
	if classified := fetch.Classify(c.cfg.URL, resp.StatusCode, readErr); classified != nil {
		return nil, classified
	}
	return data, nil
}

func (c *Converter) assemble(segments []string) scholarship.ConvertResult {
	if len(segments) == 0 {
		return scholarship.ConvertResult{HTML: EmptyHTML, Text: EmptyText}
	}
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := segmentText(seg); t != "" {
			texts = append(texts, t)
		}
	}
	result := scholarship.ConvertResult{
		HTML: c.policy.Sanitize(strings.Join(segments, "\n")),
		Text: strings.Join(texts, "\n"),
	}
	if strings.TrimSpace(result.HTML) == "" {
		result.HTML = EmptyHTML
	}
	if result.Text == "" {
		result.Text = EmptyText
	}
	return result
}

// segmentText joins the text nodes of one HTML segment with single spaces.
func segmentText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var parts []string
	collectText(doc.Selection, &parts)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "#text":
			if t := strings.TrimSpace(node.Text()); t != "" {
				*parts = append(*parts, t)
			}
		case "script", "style", "#comment":
		default:
			collectText(node, parts)
		}
	})
}

func checkFormat(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty download", ErrUnsupportedFormat)
	}
	detected := mimetype.Detect(raw)
	if detected.Is("text/html") || detected.Is("text/plain") {
		return fmt.Errorf("%w: downloaded %s", ErrUnsupportedFormat, detected.String())
	}
	return nil
}

func multipartBody(fileName, fileType, model string, raw []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, fileName))
	header.Set("Content-Type", fileType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create document part: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return nil, "", fmt.Errorf("write document part: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
