package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/cardshelf/internal/card"
	"github.com/hitoshi/cardshelf/internal/collection"
	"github.com/hitoshi/cardshelf/internal/identity"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// --- レスポンス型 ---

// pageResponse はページング済み一覧のレスポンス。
type pageResponse[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"total_count"`
	HasMore    bool `json:"has_more"`
}

// profileResponse はキュレーターのプロフィール。
type profileResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// metadataResponse はURLのメタデータ。
type metadataResponse struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Author      string     `json:"author,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
	Type        string     `json:"type,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// noteResponse はURLカードに付与されたメモ。
type noteResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// collectionSummaryResponse はカードを含むコレクションの概要。
type collectionSummaryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AuthorID string `json:"author_id"`
	URI      string `json:"uri,omitempty"`
}

// urlCardResponse はURLカードのレスポンス。
type urlCardResponse struct {
	ID           string                      `json:"id"`
	AuthorID     string                      `json:"author_id"`
	URL          string                      `json:"url"`
	Metadata     *metadataResponse           `json:"metadata,omitempty"`
	LibraryCount int                         `json:"library_count"`
	URI          string                      `json:"uri,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	Note         *noteResponse               `json:"note,omitempty"`
	Collections  []collectionSummaryResponse `json:"collections"`
}

// libraryMemberResponse はカードをライブラリに持つキュレーター。
type libraryMemberResponse struct {
	Curator profileResponse `json:"curator"`
	AddedAt time.Time       `json:"added_at"`
}

// cardDetailResponse はURLカード詳細のレスポンス。
type cardDetailResponse struct {
	urlCardResponse
	Author     profileResponse         `json:"author"`
	Libraries  []libraryMemberResponse `json:"libraries"`
	ViewerNote *noteResponse           `json:"viewer_note,omitempty"`
}

// curatorCardsResponse はキュレーターのURLカード一覧のレスポンス。
type curatorCardsResponse struct {
	Curator profileResponse               `json:"curator"`
	Cards   pageResponse[urlCardResponse] `json:"cards"`
}

// libraryItemResponse はURLのライブラリ一覧の1行。
type libraryItemResponse struct {
	Curator      profileResponse `json:"curator"`
	CardID       string          `json:"card_id"`
	CardAuthorID string          `json:"card_author_id"`
	URL          string          `json:"url"`
	AddedAt      time.Time       `json:"added_at"`
	URI          string          `json:"uri,omitempty"`
}

// noteCardResponse はURLのメモ一覧の1行。
type noteCardResponse struct {
	ID           string          `json:"id"`
	Author       profileResponse `json:"author"`
	Text         string          `json:"text"`
	Title        string          `json:"title,omitempty"`
	URL          string          `json:"url,omitempty"`
	ParentCardID string          `json:"parent_card_id,omitempty"`
	LibraryCount int             `json:"library_count"`
	URI          string          `json:"uri,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// collectionResponse はコレクションのレスポンス。
type collectionResponse struct {
	ID          string           `json:"id"`
	AuthorID    string           `json:"author_id"`
	Author      *profileResponse `json:"author,omitempty"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	AccessType  string           `json:"access_type"`
	CardCount   int              `json:"card_count"`
	URI         string           `json:"uri,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// curatorCollectionsResponse はキュレーターのコレクション一覧のレスポンス。
type curatorCollectionsResponse struct {
	Curator     profileResponse                  `json:"curator"`
	Collections pageResponse[collectionResponse] `json:"collections"`
}

// collectionPageResponse はコレクション詳細とカード一覧のレスポンス。
type collectionPageResponse struct {
	collectionResponse
	Collaborators []profileResponse             `json:"collaborators"`
	Cards         pageResponse[urlCardResponse] `json:"cards"`
}

// --- 変換 ---

func toPage[T, U any](r query.Result[T], fn func(T) U) pageResponse[U] {
	items := make([]U, len(r.Items))
	for i, item := range r.Items {
		items[i] = fn(item)
	}
	return pageResponse[U]{Items: items, TotalCount: r.TotalCount, HasMore: r.HasMore}
}

func toProfileResponse(p identity.Profile) profileResponse {
	return profileResponse{
		ID:          p.ID.String(),
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	}
}

func toMetadataResponse(md *model.URLMetadata) *metadataResponse {
	if md == nil {
		return nil
	}
	resp := &metadataResponse{
		Title:       md.Title,
		Description: md.Description,
		Author:      md.Author,
		ImageURL:    md.ImageURL,
		SiteName:    md.SiteName,
		Type:        md.Type,
	}
	if !md.RetrievedAt.IsZero() {
		t := md.RetrievedAt
		resp.RetrievedAt = &t
	}
	return resp
}

func toNoteResponse(n *repository.NoteView) *noteResponse {
	if n == nil {
		return nil
	}
	return &noteResponse{
		ID:        n.ID.String(),
		AuthorID:  n.AuthorID.String(),
		Text:      n.Text,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toURLCardResponse(v repository.URLCardView) urlCardResponse {
	collections := make([]collectionSummaryResponse, len(v.Collections))
	for i, c := range v.Collections {
		collections[i] = collectionSummaryResponse{
			ID:       c.ID.String(),
			Name:     c.Name,
			AuthorID: c.AuthorID.String(),
			URI:      c.URI,
		}
	}
	return urlCardResponse{
		ID:           v.ID.String(),
		AuthorID:     v.AuthorID.String(),
		URL:          v.URL,
		Metadata:     toMetadataResponse(v.Metadata),
		LibraryCount: v.LibraryCount,
		URI:          v.URI,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		Note:         toNoteResponse(v.Note),
		Collections:  collections,
	}
}

func toCardDetailResponse(d *card.CardDetail) cardDetailResponse {
	libraries := make([]libraryMemberResponse, len(d.Libraries))
	for i, m := range d.Libraries {
		libraries[i] = libraryMemberResponse{Curator: toProfileResponse(m.Curator), AddedAt: m.AddedAt}
	}
	return cardDetailResponse{
		urlCardResponse: toURLCardResponse(d.URLCardView),
		Author:          toProfileResponse(d.Author),
		Libraries:       libraries,
		ViewerNote:      toNoteResponse(d.ViewerNote),
	}
}

func toLibraryItemResponse(item card.LibraryItem) libraryItemResponse {
	return libraryItemResponse{
		Curator:      toProfileResponse(item.Curator),
		CardID:       item.CardID.String(),
		CardAuthorID: item.CardAuthorID.String(),
		URL:          item.URL,
		AddedAt:      item.AddedAt,
		URI:          item.URI,
	}
}

func toNoteCardResponse(item card.NoteItem) noteCardResponse {
	resp := noteCardResponse{
		ID:           item.ID.String(),
		Author:       toProfileResponse(item.Author),
		Text:         item.Text,
		Title:        item.Title,
		URL:          item.URL,
		LibraryCount: item.LibraryCount,
		URI:          item.URI,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
	if item.ParentCardID != nil {
		resp.ParentCardID = item.ParentCardID.String()
	}
	return resp
}

func toCollectionResponse(v repository.CollectionView) collectionResponse {
	return collectionResponse{
		ID:          v.ID.String(),
		AuthorID:    v.AuthorID.String(),
		Name:        v.Name,
		Description: v.Description,
		AccessType:  string(v.AccessType),
		CardCount:   v.CardCount,
		URI:         v.URI,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

func toCollectionItemResponse(item collection.CollectionItem) collectionResponse {
	resp := toCollectionResponse(item.CollectionView)
	author := toProfileResponse(item.Author)
	resp.Author = &author
	return resp
}

func toCollectionPageResponse(p *collection.CollectionPage) collectionPageResponse {
	header := toCollectionResponse(p.CollectionView)
	author := toProfileResponse(p.Author)
	header.Author = &author

	collaborators := make([]profileResponse, len(p.Collaborators))
	for i, c := range p.Collaborators {
		collaborators[i] = toProfileResponse(c)
	}
	return collectionPageResponse{
		collectionResponse: header,
		Collaborators:      collaborators,
		Cards:              toPage(p.Cards, toURLCardResponse),
	}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
