package integration

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hlystovea/reservoirs-web/internal/entities"
	"github.com/hlystovea/reservoirs-web/internal/parsing"
)

// Month abbreviations used in the basin authority's page file names.
var basinMonthNames = map[time.Month]string{
	time.January:   "jan",
	time.February:  "feb",
	time.March:     "mar",
	time.April:     "apr",
	time.May:       "may",
	time.June:      "iun",
	time.July:      "iul",
	time.August:    "aug",
	time.September: "sep",
	time.October:   "okt",
	time.November:  "nov",
	time.December:  "dec",
}

// Markers identifying the free-text lines a day block publishes its numbers
// in. The level line carries the outflow as its last integer.
const (
	basinLevelMarker    = "верхний бьеф"
	basinInflowMarker   = "приток общий"
	basinSpillwayMarker = "холостой сброс"
)

// BasinAdapter scrapes the regional basin authority site for one reservoir:
// one HTML document per month, with one block per day and the day index
// embedded in the block id. A month document fans out to up to 31 records.
type BasinAdapter struct {
	baseURL   string
	slug      string
	firstDate time.Time
	log       *slog.Logger
}

// NewBasinAdapter creates the adapter for the reservoir identified by slug.
// An empty baseURL selects the default basin authority endpoint.
func NewBasinAdapter(baseURL, slug string, log *slog.Logger) *BasinAdapter {
	if baseURL == "" {
		baseURL = "https://enbvu.ru/i03_deyatelnost"
	}
	return &BasinAdapter{
		baseURL:   baseURL,
		slug:      slug,
		firstDate: time.Date(2021, time.July, 1, 0, 0, 0, 0, time.UTC),
		log:       log.With("source", "basin", "reservoir", slug),
	}
}

func (a *BasinAdapter) Name() string { return "basin:" + a.slug }

func (a *BasinAdapter) Granularity() Granularity { return GranularityMonth }

func (a *BasinAdapter) EarliestKnownDate() time.Time { return a.firstDate }

func (a *BasinAdapter) ReservoirScope() ([]string, bool) { return []string{a.slug}, false }

// BuildRequest maps the unit's month onto the site's sequential page
// numbering, which starts at 1 on the first known month.
func (a *BasinAdapter) BuildRequest(u WorkUnit) (Request, error) {
	numYears := u.Date.Year() - a.firstDate.Year()
	numMonths := int(u.Date.Month()) - int(a.firstDate.Month())
	pageNumber := numYears*12 + numMonths + 1
	if pageNumber < 1 {
		return Request{}, fmt.Errorf("date %s precedes first known month", u.Date.Format("2006-01-02"))
	}
	url := fmt.Sprintf("%s/i03.07.%02d_%s.php", a.baseURL, pageNumber, basinMonthNames[u.Date.Month()])
	return Request{URL: url}, nil
}

// Parse extracts one Situation per day block. A malformed day is skipped
// without dropping the month's remaining days.
func (a *BasinAdapter) Parse(body []byte, u WorkUnit) ([]entities.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseStructureError{Source: a.Name(), Reason: fmt.Sprintf("invalid html: %v", err)}
	}
	if len(u.Reservoirs) == 0 {
		return nil, fmt.Errorf("%s: no reservoir in unit of work", a.Name())
	}
	reservoir := u.Reservoirs[0]

	blocks := doc.Find("div.iul_day_1")
	if blocks.Length() == 0 {
		return nil, &ParseStructureError{Source: a.Name(), Reason: "no day blocks found"}
	}

	var records []entities.Record
	blocks.Each(func(_ int, block *goquery.Selection) {
		// Blocks without a date header are navigation filler.
		if block.Find("div.date").Length() == 0 {
			return
		}

		id, _ := block.Attr("id")
		dayStr := id[strings.LastIndex(id, "_")+1:]
		day, err := strconv.Atoi(dayStr)
		if err != nil {
			a.log.Error("bad day block id, skipping day", "id", id)
			return
		}
		date := time.Date(u.Date.Year(), u.Date.Month(), day, 0, 0, 0, 0, time.UTC)

		text := block.Text()
		levelLine, ok := nthLineContaining(text, basinLevelMarker, 2)
		if !ok {
			a.log.Error("level line not found, skipping day", "date", date.Format("2006-01-02"))
			return
		}
		inflowLine, ok := nthLineContaining(text, basinInflowMarker, 0)
		if !ok {
			a.log.Error("inflow line not found, skipping day", "date", date.Format("2006-01-02"))
			return
		}
		spillwayLine, ok := nthLineContaining(text, basinSpillwayMarker, 2)
		if !ok {
			a.log.Error("spillway line not found, skipping day", "date", date.Format("2006-01-02"))
			return
		}

		level, err := parsing.FirstDecimal(levelLine)
		if err != nil {
			a.log.Error("unparsable level, skipping day", "date", date.Format("2006-01-02"), "error", err)
			return
		}
		outflow, err := parsing.LastInt(levelLine)
		if err != nil {
			a.log.Error("unparsable outflow, skipping day", "date", date.Format("2006-01-02"), "error", err)
			return
		}
		inflow, err := parsing.FirstInt(inflowLine)
		if err != nil {
			a.log.Error("unparsable inflow, skipping day", "date", date.Format("2006-01-02"), "error", err)
			return
		}
		spillway, err := parsing.FirstInt(spillwayLine)
		if err != nil {
			a.log.Error("unparsable spillway, skipping day", "date", date.Format("2006-01-02"), "error", err)
			return
		}

		s := entities.Situation{
			Date:        date,
			ReservoirID: reservoir.ID,
			Level:       level,
			Inflow:      &inflow,
			Outflow:     &outflow,
			Spillway:    &spillway,
		}
		if err := entities.Validate(s); err != nil {
			a.log.Error("validation failed, skipping day", "date", date.Format("2006-01-02"), "error", err)
			return
		}
		records = append(records, s)
	})
	return records, nil
}

// nthLineContaining returns the n-th (zero-based) line of text that
// contains the marker.
func nthLineContaining(text, marker string, n int) (string, bool) {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, marker) {
			if count == n {
				return line, true
			}
			count++
		}
	}
	return "", false
}
