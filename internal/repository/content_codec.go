package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
)

// contentData はcards.content_dataに保存するJSONの形。
type contentData struct {
	URL       string        `json:"url,omitempty"`
	Metadata  *metadataData `json:"metadata,omitempty"`
	Text      string        `json:"text,omitempty"`
	Title     string        `json:"title,omitempty"`
	SourceURL string        `json:"sourceUrl,omitempty"`
	Context   string        `json:"context,omitempty"`
}

type metadataData struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Author      string     `json:"author,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	SiteName    string     `json:"siteName,omitempty"`
	Type        string     `json:"type,omitempty"`
	RetrievedAt *time.Time `json:"retrievedAt,omitempty"`
}

func encodeContent(content model.CardContent) ([]byte, error) {
	var data contentData
	switch c := content.(type) {
	case model.URLContent:
		data.URL = c.URL().String()
		if md := c.Metadata(); md != nil {
			data.Metadata = &metadataData{
				Title:       md.Title,
				Description: md.Description,
				Author:      md.Author,
				ImageURL:    md.ImageURL,
				SiteName:    md.SiteName,
				Type:        md.Type,
			}
			if !md.RetrievedAt.IsZero() {
				at := md.RetrievedAt
				data.Metadata.RetrievedAt = &at
			}
		}
	case model.NoteContent:
		data.Text = c.Text()
		data.Title = c.Title()
	case model.HighlightContent:
		data.Text = c.Text()
		data.SourceURL = c.SourceURL().String()
		data.Context = c.Context()
	default:
		return nil, fmt.Errorf("unknown card content %T", content)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("カード内容のエンコードに失敗しました: %w", err)
	}
	return b, nil
}

func decodeContent(cardType model.CardType, raw []byte) (model.CardContent, error) {
	var data contentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("カード内容のデコードに失敗しました: %w", err)
	}

	switch cardType {
	case model.CardTypeURL:
		u, err := model.NewURL(data.URL)
		if err != nil {
			return nil, err
		}
		return model.NewURLContent(u, data.Metadata.toModel())
	case model.CardTypeNote:
		return model.NewNoteContent(data.Text, data.Title)
	case model.CardTypeHighlight:
		source, err := model.NewURL(data.SourceURL)
		if err != nil {
			return nil, err
		}
		return model.NewHighlightContent(data.Text, source, data.Context)
	default:
		return nil, fmt.Errorf("unknown card type %q", cardType)
	}
}

func (m *metadataData) toModel() *model.URLMetadata {
	if m == nil {
		return nil
	}
	md := &model.URLMetadata{
		Title:       m.Title,
		Description: m.Description,
		Author:      m.Author,
		ImageURL:    m.ImageURL,
		SiteName:    m.SiteName,
		Type:        m.Type,
	}
	if m.RetrievedAt != nil {
		md.RetrievedAt = *m.RetrievedAt
	}
	return md
}

// nullPublishedRecord はLEFT JOINしたpublished_recordsの列をまとめて読み取る。
type nullPublishedRecord struct {
	ID         sql.NullString
	URI        sql.NullString
	CID        sql.NullString
	RecordedAt sql.NullTime
}

func (n nullPublishedRecord) toModel() (*model.PublishedRecord, error) {
	if !n.ID.Valid {
		return nil, nil
	}
	id, err := model.ParsePublishedRecordID(n.ID.String)
	if err != nil {
		return nil, err
	}
	ref, err := model.NewPublishedRecordRef(n.URI.String, n.CID.String)
	if err != nil {
		return nil, err
	}
	return &model.PublishedRecord{ID: id, Ref: ref, RecordedAt: n.RecordedAt.Time}, nil
}

// publishedRecordID は公開記録のIDをNULL許容で返す。
func publishedRecordID(record *model.PublishedRecord) sql.NullString {
	if record == nil || record.ID.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: record.ID.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
