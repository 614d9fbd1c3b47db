package metadata

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/cardshelf/internal/card"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/security"
)

// 取り込み件数の既定値と上限
const (
	DefaultImportLimit = 20
	MaxImportLimit     = 100
)

// LibraryAdder はURLをライブラリに追加する。card.Serviceが実装する。
type LibraryAdder interface {
	AddURLToLibrary(ctx context.Context, in card.AddURLToLibraryInput) (*card.AddURLToLibraryResult, error)
}

// ImportInput はフィード取り込みの入力。
type ImportInput struct {
	CuratorID     model.CuratorID
	FeedURL       string
	Limit         int
	CollectionIDs []model.CollectionID
}

// ImportResult はフィード取り込みの結果。
type ImportResult struct {
	FeedTitle string
	CardIDs   []model.CardID
	// Skipped はリンクがない、またはURLとして不正だったため取り込まなかった記事の数。
	Skipped int
}

// FeedImporter はRSS/Atomフィードの記事をURLカードとしてライブラリに取り込む。
type FeedImporter struct {
	client      *http.Client
	validator   URLValidator
	sanitizer   security.TextSanitizer
	maxBodySize int64
	library     LibraryAdder
	logger      *slog.Logger
}

// NewFeedImporter はFeedImporterを生成する。
func NewFeedImporter(client *http.Client, library LibraryAdder, opts ...Option) *FeedImporter {
	o := buildOptions(opts)
	return &FeedImporter{
		client:      client,
		validator:   o.validator,
		sanitizer:   o.sanitizer,
		maxBodySize: o.maxBodySize,
		library:     library,
		logger:      o.logger,
	}
}

// Import はフィードを取得し、フィードに現れる順にLimit件までの記事をライブラリに追加する。
// 記事ごとに別の作業単位で追加するため、途中で失敗した場合もそれまでの追加は残る。
// タイトルか概要がある記事はそれをカードのメタデータとして使い、記事ページを取得しない。
func (imp *FeedImporter) Import(ctx context.Context, in ImportInput) (*ImportResult, error) {
	start := time.Now()

	if in.CuratorID.IsZero() {
		return nil, model.NewInvalidCuratorIDError("")
	}
	feedURL, err := model.NewURL(in.FeedURL)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultImportLimit
	}
	if limit > MaxImportLimit {
		limit = MaxImportLimit
	}

	body, err := get(ctx, imp.client, imp.validator, feedURL.String(),
		"application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.1",
		imp.maxBodySize, func(string) bool { return true })
	if err != nil {
		imp.logger.WarnContext(ctx, "フィードの取得に失敗しました",
			slog.String("feed_url", feedURL.String()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFeedFetchFailedError(err.Error())
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, model.NewFeedFetchFailedError("RSS/Atomとして解析できません")
	}

	result := &ImportResult{FeedTitle: imp.sanitize(parsed.Title)}
	siteName := result.FeedTitle
	for _, item := range parsed.Items {
		if len(result.CardIDs) >= limit {
			break
		}
		link := entryLink(item)
		if link == "" {
			result.Skipped++
			continue
		}

		res, err := imp.library.AddURLToLibrary(ctx, card.AddURLToLibraryInput{
			CuratorID:     in.CuratorID,
			URL:           link,
			CollectionIDs: in.CollectionIDs,
			Metadata:      imp.entryMetadata(item, siteName),
		})
		if err != nil {
			if model.IsValidation(err) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		result.CardIDs = append(result.CardIDs, res.URLCardID)
	}

	imp.logger.InfoContext(ctx, "フィードを取り込みました",
		slog.String("curator_id", in.CuratorID.String()),
		slog.String("feed_url", feedURL.String()),
		slog.Int("imported", len(result.CardIDs)),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// entryLink は記事のURLを返す。リンクがなくGUIDがURL形式の場合はGUIDを使う。
func entryLink(item *gofeed.Item) string {
	if item == nil {
		return ""
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

// entryMetadata は記事からカードのメタデータを組み立てる。タイトルも概要もなければnilを返す。
func (imp *FeedImporter) entryMetadata(item *gofeed.Item, siteName string) *model.URLMetadata {
	md := model.URLMetadata{
		Title:       imp.sanitize(item.Title),
		Description: imp.sanitize(item.Description),
		SiteName:    siteName,
		Type:        "article",
		RetrievedAt: time.Now().UTC(),
	}
	if item.Author != nil {
		md.Author = imp.sanitize(item.Author.Name)
	}
	if md.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		md.Author = imp.sanitize(item.Authors[0].Name)
	}
	if item.Image != nil {
		md.ImageURL = resolveURL(item.Link, item.Image.URL)
	}
	if md.Title == "" && md.Description == "" {
		return nil
	}
	return &md
}

func (imp *FeedImporter) sanitize(s string) string {
	if imp.sanitizer == nil {
		return strings.TrimSpace(s)
	}
	return imp.sanitizer.SanitizeText(s)
}
