package integration

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hlystovea/reservoirs-web/internal/entities"
	"github.com/hlystovea/reservoirs-web/internal/parsing"
)

const informerDateFormat = "02.01.2006"

// InformerAdapter scrapes the river-basin informer site: one HTML document
// per calendar day, selected by a query-string date, with one block per
// reservoir. Reservoirs covered by other sources are excluded from its
// cursor scope so their slower pace does not hold this source back.
type InformerAdapter struct {
	baseURL      string
	firstDate    time.Time
	excludeSlugs []string
	log          *slog.Logger
}

// NewInformerAdapter creates the adapter. An empty baseURL selects the
// default informer endpoint.
func NewInformerAdapter(baseURL string, excludeSlugs []string, log *slog.Logger) *InformerAdapter {
	if baseURL == "" {
		baseURL = "http://www.rushydro.ru/hydrology/informer"
	}
	return &InformerAdapter{
		baseURL:      baseURL,
		firstDate:    time.Date(2013, time.April, 13, 0, 0, 0, 0, time.UTC),
		excludeSlugs: excludeSlugs,
		log:          log.With("source", "informer"),
	}
}

func (a *InformerAdapter) Name() string { return "informer" }

func (a *InformerAdapter) Granularity() Granularity { return GranularityDay }

func (a *InformerAdapter) EarliestKnownDate() time.Time { return a.firstDate }

func (a *InformerAdapter) ReservoirScope() ([]string, bool) { return a.excludeSlugs, true }

func (a *InformerAdapter) BuildRequest(u WorkUnit) (Request, error) {
	return Request{URL: fmt.Sprintf("%s/?date=%s", a.baseURL, u.Date.Format("2006-01-02"))}, nil
}

// Parse extracts one Situation per recognizable reservoir block. The page
// date comes from the datepicker input, not from the requested date: the
// site serves the nearest available day for out-of-range requests.
func (a *InformerAdapter) Parse(body []byte, u WorkUnit) ([]entities.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseStructureError{Source: a.Name(), Reason: fmt.Sprintf("invalid html: %v", err)}
	}

	dateStr, ok := doc.Find("input#popupDatepicker").Attr("value")
	if !ok {
		return nil, &ParseStructureError{Source: a.Name(), Reason: "datepicker value not found"}
	}
	date, err := time.ParseInLocation(informerDateFormat, dateStr, time.UTC)
	if err != nil {
		return nil, &ParseStructureError{Source: a.Name(), Reason: fmt.Sprintf("bad page date %q: %v", dateStr, err)}
	}

	var records []entities.Record
	for _, res := range u.Reservoirs {
		block := doc.Find(fmt.Sprintf("div.informer-block.%s", res.Slug))
		if block.Length() == 0 {
			a.log.Debug("no informer block", "reservoir", res.Slug, "date", date.Format("2006-01-02"))
			continue
		}

		values := block.Find("b")
		if values.Length() < 8 {
			a.log.Error("informer block too short, skipping reservoir",
				"reservoir", res.Slug, "values", values.Length())
			continue
		}

		// Values 4..8 are level, free capacity, inflow, outflow, spillway.
		raw := make([]string, 0, 5)
		values.Slice(3, 8).Each(func(_ int, sel *goquery.Selection) {
			raw = append(raw, parsing.NumericPrefix(sel.Text()))
		})

		vals := make([]*float64, len(raw))
		bad := false
		for i, rv := range raw {
			v, err := parsing.OptionalFloat(rv)
			if err != nil {
				a.log.Error("unparsable value, skipping reservoir",
					"reservoir", res.Slug, "value", rv, "error", err)
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			continue
		}
		if vals[0] == nil {
			a.log.Error("level missing, skipping reservoir", "reservoir", res.Slug)
			continue
		}

		s := entities.Situation{
			Date:         date,
			ReservoirID:  res.ID,
			Level:        *vals[0],
			FreeCapacity: vals[1],
			Inflow:       vals[2],
			Outflow:      vals[3],
			Spillway:     vals[4],
		}
		if err := entities.Validate(s); err != nil {
			a.log.Error("validation failed, skipping reservoir", "reservoir", res.Slug, "error", err)
			continue
		}
		records = append(records, s)
	}
	return records, nil
}
