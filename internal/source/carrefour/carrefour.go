// Package carrefour reads Carrefour store locations from the store locator
// XML feed and products from the supermarket category listings.
package carrefour

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/extract"
	"github.com/optimal-systems/data/internal/fetchcache"
	"github.com/optimal-systems/data/internal/fetcher"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/normalize"
	"github.com/optimal-systems/data/internal/source"
)

// Source is the Carrefour extractor.
type Source struct {
	cfg       source.Config
	chunkSize int
	log       *zap.Logger
}

// New creates the Carrefour source. The catalog's chunk size wins over
// defaultChunkSize; the listing pages have a fixed page length.
func New(cfg source.Config, defaultChunkSize int) *Source {
	return &Source{
		cfg:       cfg,
		chunkSize: cfg.PageSize(defaultChunkSize),
		log:       zap.L().With(zap.String("component", "source.carrefour")),
	}
}

// Name implements source.Source.
func (s *Source) Name() model.Source { return model.SourceCarrefour }

type marker struct {
	CodSA    string `xml:"codsa,attr"`
	CodAT    string `xml:"codat,attr"`
	TCM      string `xml:"tcm,attr"`
	ID       string `xml:"id,attr"`
	Name     string `xml:"name,attr"`
	Category string `xml:"category,attr"`
	Lat      string `xml:"lat,attr"`
	Lng      string `xml:"lng,attr"`
	Address  string `xml:"address,attr"`
	Address2 string `xml:"address2,attr"`
	Postal   string `xml:"postal,attr"`
	City     string `xml:"city,attr"`
	State    string `xml:"state,attr"`
	Hours1   string `xml:"hours1,attr"`
	Hours2   string `xml:"hours2,attr"`
}

func (m marker) raw() model.RawStore {
	return model.RawStore{
		StoreID:   source.FirstNonEmpty(m.CodSA, m.CodAT, m.TCM, m.ID),
		Address:   source.JoinNonEmpty(", ", m.Address, m.Address2, m.Postal, m.City, m.State),
		Schedule:  source.JoinNonEmpty(" | ", m.Hours1, m.Hours2),
		Latitude:  strings.TrimSpace(m.Lat),
		Longitude: strings.TrimSpace(m.Lng),
		Name:      strings.TrimSpace(m.Name),
		Category:  strings.TrimSpace(m.Category),
	}
}

// Stores reads every <marker> of the store locator feed.
func (s *Source) Stores(ctx context.Context, f source.Fetcher) ([]model.RawStore, error) {
	content, err := f.Fetch(ctx, s.cfg.StoresURL, s.cfg.StoresParams)
	if err != nil {
		return nil, eris.Wrap(err, "carrefour: fetch store locator")
	}

	markers, err := fetcher.DecodeXMLElements[marker](content, "marker")
	if err != nil {
		if len(markers) == 0 {
			return nil, eris.Wrap(err, "carrefour: decode store markers")
		}
		// A truncated feed still yields the markers before the damage.
		s.log.Warn("store feed partially unreadable", zap.Int("markers", len(markers)), zap.Error(err))
	}

	out := make([]model.RawStore, 0, len(markers))
	for _, m := range markers {
		out = append(out, m.raw())
	}
	s.log.Info("stores extracted", zap.Int("stores", len(out)))
	return out, nil
}

var catIDRe = regexp.MustCompile(`cat\d+`)

// Categories reads the top-level categories linked from the supermarket
// landing page.
func (s *Source) Categories(ctx context.Context, f source.Fetcher) ([]source.Category, error) {
	content, err := f.Fetch(ctx, s.cfg.CategoriesURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "carrefour: fetch categories")
	}
	doc, err := fetcher.Document(content)
	if err != nil {
		return nil, err
	}

	var out []source.Category
	seen := make(map[string]struct{})
	doc.Find("nav.home-food-view__category-SEO-links a[href]").Each(func(_ int, a *goquery.Selection) {
		name := strings.TrimSpace(a.Text())
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if name == "" || href == "" {
			return
		}
		abs := s.cfg.Resolve(href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, source.Category{ID: catIDRe.FindString(href), Name: name, URL: abs})
	})
	return out, nil
}

// Products walks every category listing. Categories come from the catalog;
// when it lists none they are discovered from the landing page.
func (s *Source) Products(ctx context.Context, f source.Fetcher) ([]model.RawProduct, error) {
	cats := s.cfg.Categories
	if len(cats) == 0 {
		var err error
		if cats, err = s.Categories(ctx, f); err != nil {
			return nil, err
		}
		s.log.Info("categories discovered", zap.Int("categories", len(cats)))
	}

	cols := make([]extract.Collection[model.RawProduct], 0, len(cats))
	for _, c := range cats {
		cols = append(cols, s.collection(c))
	}
	return extract.New[model.RawProduct](f, s.chunkSize).ExtractAll(ctx, cols)
}

func (s *Source) collection(c source.Category) extract.Collection[model.RawProduct] {
	listing := s.cfg.Resolve(c.URL)
	chunkParams := func(start, _ int) map[string]string {
		return map[string]string{"offset": strconv.Itoa(start)}
	}
	return extract.Collection[model.RawProduct]{
		Name:        c.Name,
		URL:         listing,
		ChunkParams: chunkParams,
		CountText:   extract.CountFromSelector(".plp-food-view__results-count"),
		Parse: func(content string, ch extract.Chunk) ([]model.RawProduct, error) {
			page := fetchcache.CanonicalURL(listing, chunkParams(ch.Start, ch.Size))
			return s.parseListing(content, c.Name, page)
		},
	}
}

var impressionsRe = regexp.MustCompile(`(?s)window\["impressions"\]\s*=\s*(\[.*?\]);`)

// impression is one entry of the analytics array embedded in listing pages.
// item_name carries the product slug.
type impression struct {
	ItemName    source.FlexString `json:"item_name"`
	Price       source.FlexString `json:"price"`
	Coupon      source.FlexString `json:"coupon"`
	ItemVariant source.FlexString `json:"item_variant"`
}

type cardLink struct {
	name string
	url  string
}

// parseListing joins the impressions array with the product card anchors
// by slug. Impressions without a card keep a name derived from the slug.
func (s *Source) parseListing(content, category, page string) ([]model.RawProduct, error) {
	m := impressionsRe.FindStringSubmatch(content)
	if m == nil {
		return nil, eris.New("carrefour: impressions array not found")
	}
	items, skipped, err := fetcher.DecodeJSONArray[impression](m[1])
	if err != nil {
		return nil, eris.Wrap(err, "carrefour: decode impressions")
	}
	for _, bad := range skipped {
		s.log.Warn("impression skipped", zap.String("page", page), zap.Int("index", bad.Index), zap.Error(bad.Err))
	}

	cards := make(map[string]cardLink)
	if doc, err := fetcher.Document(content); err == nil {
		doc.Find("h2.product-card__title a").Each(func(_ int, a *goquery.Selection) {
			name := strings.TrimSpace(a.Text())
			href, _ := a.Attr("href")
			href = strings.TrimSpace(href)
			if name == "" || href == "" {
				return
			}
			slug := normalize.SlugFromURL(href)
			if _, ok := cards[slug]; slug != "" && !ok {
				cards[slug] = cardLink{name: name, url: s.cfg.Resolve(href)}
			}
		})
	}

	out := make([]model.RawProduct, 0, len(items))
	for _, it := range items {
		slug := it.ItemName.String()
		card := cards[slug]
		if card.name == "" && slug == "" {
			s.log.Debug("impression without slug skipped", zap.String("page", page))
			continue
		}
		name := card.name
		if name == "" {
			name = normalize.NameFromSlug(slug)
		}
		out = append(out, model.RawProduct{
			DiscountValue:     it.Coupon.String(),
			Price:             it.Price.String(),
			PricePerUnit:      it.ItemVariant.String(),
			Name:              name,
			URL:               card.url,
			Supermarket:       string(model.SourceCarrefour),
			ExtractedCategory: category,
			SourceFile:        page,
		})
	}
	return out, nil
}
