// Package ahorramas reads Ahorramas stores from the storefront's store
// finder API and products from its search grid.
package ahorramas

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/extract"
	"github.com/optimal-systems/data/internal/fetchcache"
	"github.com/optimal-systems/data/internal/fetcher"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/source"
)

// Source is the Ahorramas extractor.
type Source struct {
	cfg       source.Config
	chunkSize int
	log       *zap.Logger
}

// New creates the Ahorramas source.
func New(cfg source.Config, defaultChunkSize int) *Source {
	return &Source{
		cfg:       cfg,
		chunkSize: cfg.PageSize(defaultChunkSize),
		log:       zap.L().With(zap.String("component", "source.ahorramas")),
	}
}

// Name implements source.Source.
func (s *Source) Name() model.Source { return model.SourceAhorramas }

// findStoreResponse keeps stores raw so each one decodes on its own.
type findStoreResponse struct {
	Stores []json.RawMessage `json:"stores"`
}

type store struct {
	ID         source.FlexString `json:"ID"`
	Name       source.FlexString `json:"name"`
	Address1   source.FlexString `json:"address1"`
	Address2   source.FlexString `json:"address2"`
	PostalCode source.FlexString `json:"postalCode"`
	City       source.FlexString `json:"city"`
	StateCode  source.FlexString `json:"stateCode"`
	Latitude   source.FlexString `json:"latitude"`
	Longitude  source.FlexString `json:"longitude"`
	StoreHours source.FlexString `json:"storeHours"`
}

// Stores reads the store finder response for the whole country.
func (s *Source) Stores(ctx context.Context, f source.Fetcher) ([]model.RawStore, error) {
	content, err := f.Fetch(ctx, s.cfg.StoresURL, s.cfg.StoresParams)
	if err != nil {
		return nil, eris.Wrap(err, "ahorramas: fetch store finder")
	}
	resp, err := fetcher.DecodeJSONObject[findStoreResponse](content)
	if err != nil {
		return nil, eris.Wrap(err, "ahorramas: decode store finder")
	}
	stores, skipped := fetcher.DecodeJSONElements[store](resp.Stores)
	for _, bad := range skipped {
		s.log.Warn("store skipped", zap.Int("index", bad.Index), zap.Error(bad.Err))
	}

	out := make([]model.RawStore, 0, len(stores))
	for _, st := range stores {
		out = append(out, model.RawStore{
			StoreID:   st.ID.String(),
			Address:   source.JoinNonEmpty(", ", st.Address1.String(), st.Address2.String(), st.PostalCode.String(), st.City.String()),
			Schedule:  st.StoreHours.String(),
			Latitude:  st.Latitude.String(),
			Longitude: st.Longitude.String(),
			Name:      st.Name.String(),
			Category:  st.StateCode.String(),
		})
	}
	s.log.Info("stores extracted", zap.Int("stores", len(out)), zap.Int("skipped", len(skipped)))
	return out, nil
}

// Products walks the search grid of every catalog category.
func (s *Source) Products(ctx context.Context, f source.Fetcher) ([]model.RawProduct, error) {
	if len(s.cfg.Categories) == 0 {
		return nil, eris.New("ahorramas: catalog lists no categories")
	}
	cols := make([]extract.Collection[model.RawProduct], 0, len(s.cfg.Categories))
	for _, c := range s.cfg.Categories {
		cols = append(cols, s.collection(c))
	}
	return extract.New[model.RawProduct](f, s.chunkSize).ExtractAll(ctx, cols)
}

func gridParams(start, size int) map[string]string {
	return map[string]string{"start": strconv.Itoa(start), "sz": strconv.Itoa(size)}
}

func (s *Source) collection(c source.Category) extract.Collection[model.RawProduct] {
	base := map[string]string{"cgid": c.ID}
	return extract.Collection[model.RawProduct]{
		Name:          c.Name,
		URL:           s.cfg.ProductsURL,
		BaseParams:    base,
		SummaryParams: gridParams(0, 1),
		ChunkParams:   gridParams,
		CountText:     extract.CountFromSelector(".search-result-count"),
		Parse: func(content string, ch extract.Chunk) ([]model.RawProduct, error) {
			params := gridParams(ch.Start, ch.Size)
			params["cgid"] = c.ID
			return s.parseGrid(content, c.Name, fetchcache.CanonicalURL(s.cfg.ProductsURL, params))
		},
	}
}

// parseGrid reads every .product-tile of a grid fragment. Tiles without a
// name and link are skipped.
func (s *Source) parseGrid(content, category, page string) ([]model.RawProduct, error) {
	doc, err := fetcher.Document(content)
	if err != nil {
		return nil, err
	}

	var out []model.RawProduct
	skipped := 0
	doc.Find(".product-tile").Each(func(_ int, tile *goquery.Selection) {
		link := tile.Find(".pdp-link a").First()
		name := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if name == "" && strings.TrimSpace(href) == "" {
			skipped++
			return
		}

		price := tile.Find(".price .sales .value").First()
		priceText, ok := price.Attr("content")
		if !ok {
			priceText = price.Text()
		}

		img := tile.Find("img.tile-image").First()
		src, ok := img.Attr("data-src")
		if !ok {
			src, _ = img.Attr("src")
		}

		out = append(out, model.RawProduct{
			DiscountValue:     strings.TrimSpace(tile.Find(".badge-discount").First().Text()),
			Price:             strings.TrimSpace(priceText),
			PricePerUnit:      strings.TrimSpace(tile.Find(".unit-price-per-unit").First().Text()),
			Name:              name,
			Image:             s.cfg.Resolve(strings.TrimSpace(src)),
			URL:               s.cfg.Resolve(strings.TrimSpace(href)),
			Supermarket:       string(model.SourceAhorramas),
			ExtractedCategory: category,
			SourceFile:        page,
		})
	})
	if skipped > 0 {
		s.log.Debug("tiles without name or link skipped", zap.String("page", page), zap.Int("skipped", skipped))
	}
	return out, nil
}
