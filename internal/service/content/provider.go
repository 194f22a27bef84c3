// Package content resolves the text and image of the next post and renders
// per-destination variables into it.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
)

type Source string

const (
	SourceTemplate Source = "template"
	SourceFile     Source = "file"
	SourceFallback Source = "fallback"
)

const (
	DefaultFallbackText = "Automatic post"
	DefaultDateFormat   = "02.01.2006"
	DefaultTimeFormat   = "15:04:05"

	previewLength = 100
)

// Post is a resolved post body. ImagePath is empty when there is no image.
type Post struct {
	Text      string
	ImagePath string
	Source    Source
}

// Info summarizes the current post for the dashboard.
type Info struct {
	TextLength  int    `json:"text_length"`
	HasImage    bool   `json:"has_image"`
	TextPreview string `json:"text_preview"`
	Source      Source `json:"source"`
}

// TemplateSource provides the active content template.
type TemplateSource interface {
	GetActiveTemplate(ctx context.Context) (*models.ContentTemplate, error)
}

type Config struct {
	TextFile     string
	ImageFile    string
	FallbackText string
	DateFormat   string
	TimeFormat   string
	Location     *time.Location
}

// Provider caches the static post files and prefers the active template
// over them. It is safe for concurrent use.
type Provider struct {
	cfg       Config
	templates TemplateSource
	logger    *zap.Logger

	mu        sync.RWMutex
	text      string
	imagePath string

	now    func() time.Time
	random func(low, high int) int
}

func NewProvider(cfg Config, templates TemplateSource, logger *zap.Logger) *Provider {
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = DefaultDateFormat
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = DefaultTimeFormat
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	p := &Provider{
		cfg:       cfg,
		templates: templates,
		logger:    logger.Named("content"),
		now:       time.Now,
		random:    randomInRange,
	}
	if err := p.Reload(); err != nil {
		p.logger.Warn("Failed to load post content", zap.Error(err))
	}
	return p
}

// Reload re-reads the static text and checks for the image. A missing file
// is not an error; it simply leaves that part empty.
func (p *Provider) Reload() error {
	text, err := readText(p.cfg.TextFile)
	if err != nil {
		p.mu.Lock()
		p.text = ""
		p.mu.Unlock()
		return err
	}
	image := ""
	if fileExists(p.cfg.ImageFile) {
		image = p.cfg.ImageFile
	}

	p.mu.Lock()
	p.text = text
	p.imagePath = image
	p.mu.Unlock()

	p.logger.Info("Post content loaded",
		zap.String("text_file", p.cfg.TextFile),
		zap.Int("text_length", len([]rune(text))),
		zap.Bool("has_image", image != ""))
	return nil
}

// Resolve returns the post to publish. It never fails: without a template
// and without static text the fallback text is returned with no image.
func (p *Provider) Resolve(ctx context.Context) Post {
	p.mu.RLock()
	text, image := p.text, p.imagePath
	p.mu.RUnlock()

	if p.templates != nil {
		tpl, err := p.templates.GetActiveTemplate(ctx)
		switch {
		case err == nil && strings.TrimSpace(tpl.Content) != "":
			return Post{Text: tpl.Content, ImagePath: image, Source: SourceTemplate}
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			p.logger.Warn("Failed to load active template, using file content", zap.Error(err))
		}
	}

	if text != "" {
		return Post{Text: text, ImagePath: image, Source: SourceFile}
	}
	return Post{Text: p.cfg.FallbackText, Source: SourceFallback}
}

// Info describes the post Resolve would currently return.
func (p *Provider) Info(ctx context.Context) Info {
	post := p.Resolve(ctx)
	return Info{
		TextLength:  len([]rune(post.Text)),
		HasImage:    post.ImagePath != "",
		TextPreview: preview(post.Text),
		Source:      post.Source,
	}
}

// Preview renders the current post without destination variables.
func (p *Provider) Preview(ctx context.Context) Post {
	post := p.Resolve(ctx)
	post.Text = p.Render(post.Text, "", "")
	return post
}

func readText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read post text %s: %w", path, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
