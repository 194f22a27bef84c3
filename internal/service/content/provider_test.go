package content

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
)

type fakeTemplates struct {
	tpl *models.ContentTemplate
	err error
}

func (f *fakeTemplates) GetActiveTemplate(context.Context) (*models.ContentTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.tpl == nil {
		return nil, repository.ErrNotFound
	}
	return f.tpl, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestProvider(t *testing.T, templates TemplateSource) (*Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p := NewProvider(Config{
		TextFile:  filepath.Join(dir, "post.txt"),
		ImageFile: filepath.Join(dir, "image.jpg"),
		Location:  time.UTC,
	}, templates, zap.NewNop())
	return p, dir
}

func TestResolvePrecedence(t *testing.T) {
	templates := &fakeTemplates{}
	p, dir := newTestProvider(t, templates)
	ctx := context.Background()

	post := p.Resolve(ctx)
	if post.Source != SourceFallback || post.Text != DefaultFallbackText || post.ImagePath != "" {
		t.Fatalf("empty provider resolved %+v", post)
	}

	writeFile(t, filepath.Join(dir, "post.txt"), "  file text \n")
	writeFile(t, filepath.Join(dir, "image.jpg"), "jpeg")
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	post = p.Resolve(ctx)
	if post.Source != SourceFile || post.Text != "file text" {
		t.Fatalf("file content resolved %+v", post)
	}
	if post.ImagePath != filepath.Join(dir, "image.jpg") {
		t.Errorf("image = %q", post.ImagePath)
	}

	templates.tpl = &models.ContentTemplate{Content: "template text", IsActive: true}
	post = p.Resolve(ctx)
	if post.Source != SourceTemplate || post.Text != "template text" {
		t.Fatalf("template resolved %+v", post)
	}
	if post.ImagePath == "" {
		t.Error("template post lost the image")
	}

	templates.tpl = &models.ContentTemplate{Content: "   ", IsActive: true}
	if post := p.Resolve(ctx); post.Source != SourceFile {
		t.Errorf("blank template should fall through, got %+v", post)
	}

	templates.tpl = nil
	templates.err = errors.New("db down")
	if post := p.Resolve(ctx); post.Source != SourceFile {
		t.Errorf("template error should fall through, got %+v", post)
	}
}

func TestInfo(t *testing.T) {
	long := strings.Repeat("я", 150)
	p, _ := newTestProvider(t, &fakeTemplates{tpl: &models.ContentTemplate{Content: long}})

	info := p.Info(context.Background())
	if info.TextLength != 150 {
		t.Errorf("text length = %d, want 150", info.TextLength)
	}
	if info.HasImage {
		t.Error("has_image without an image file")
	}
	if want := strings.Repeat("я", 100) + "..."; info.TextPreview != want {
		t.Errorf("preview = %q", info.TextPreview)
	}
	if info.Source != SourceTemplate {
		t.Errorf("source = %q", info.Source)
	}
}

func TestRender(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	p.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) }
	draws := 0
	p.random = func(low, high int) int {
		draws++
		return high
	}

	tests := []struct {
		name   string
		text   string
		chatID string
		title  string
		want   string
	}{
		{"date and time", "{date} {time}", "", "", "05.03.2024 14:07:09"},
		{"datetime", "{datetime}", "", "", "05.03.2024 14:07:09"},
		{"destination", "Hello {chat_title} ({chat_id})", "-100", "Test", "Hello Test (-100)"},
		{"no destination", "Hello {chat_title}", "", "", "Hello {chat_title}"},
		{"fixed range", "Hello {chat_title}, ref {random_number:10:10}", "1", "Test", "Hello Test, ref 10"},
		{"default range", "{random_number}", "", "", "1000"},
		{"reversed range", "{random_number:9:1}", "", "", "{random_number:9:1}"},
		{"malformed range", "{random_number:a:b}", "", "", "{random_number:a:b}"},
		{"negative range", "{random_number:-5:-1}", "", "", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Render(tt.text, tt.chatID, tt.title); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	draws = 0
	p.Render("{random_number} {random_number} {random_number:1:2}", "", "")
	if draws != 3 {
		t.Errorf("draws = %d, want one per token", draws)
	}
}

func TestRenderRandomBounds(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	for i := 0; i < 200; i++ {
		n, err := strconv.Atoi(p.Render("{random_number:3:7}", "", ""))
		if err != nil {
			t.Fatalf("not a number: %v", err)
		}
		if n < 3 || n > 7 {
			t.Fatalf("draw %d out of [3,7]", n)
		}
		n, _ = strconv.Atoi(p.Render("{random_number}", "", ""))
		if n < 1 || n > 1000 {
			t.Fatalf("draw %d out of [1,1000]", n)
		}
	}

	extremes := []struct {
		low, high int
	}{
		{math.MinInt, math.MaxInt},
		{math.MinInt, 0},
		{-1, math.MaxInt},
		{math.MaxInt, math.MaxInt},
		{math.MinInt, math.MinInt},
	}
	for _, tt := range extremes {
		token := fmt.Sprintf("{random_number:%d:%d}", tt.low, tt.high)
		for i := 0; i < 50; i++ {
			n, err := strconv.Atoi(p.Render(token, "", ""))
			if err != nil {
				t.Fatalf("%s: not a number: %v", token, err)
			}
			if n < tt.low || n > tt.high {
				t.Fatalf("%s: draw %d out of range", token, n)
			}
		}
	}
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"no tokens", "Hello {chat_title}", false},
		{"plain range", "ref {random_number:10:20}", false},
		{"full int range", "ref {random_number:-9223372036854775808:9223372036854775807}", false},
		{"reversed", "ref {random_number:5:1}", true},
		{"too large", "ref {random_number:1:99999999999999999999}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTemplate(%q) = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}

func TestPreviewLeavesDestinationTokens(t *testing.T) {
	p, _ := newTestProvider(t, &fakeTemplates{tpl: &models.ContentTemplate{Content: "to {chat_title}"}})
	post := p.Preview(context.Background())
	if post.Text != "to {chat_title}" {
		t.Errorf("preview = %q", post.Text)
	}
}

func TestWatchReloads(t *testing.T) {
	p, dir := newTestProvider(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "post.txt"), "fresh")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Resolve(ctx).Text == "fresh" {
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("post was not reloaded after file change")
}
