package integration

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hlystovea/reservoirs-web/internal/entities"
	"github.com/hlystovea/reservoirs-web/internal/parsing"
)

const archiveTimeFormat = "02.01.2006 15:04"

// ArchiveAdapter reads the hourly station archive. The site has no stable
// per-date URLs: a session page must be loaded first and its hidden token
// carried into the table request, which is why its Request uses the
// two-step form. All archive rows are measured (observed) data.
//
// The table covers a trailing window of days; re-reading rows that are
// already persisted is harmless because the persistor is idempotent.
type ArchiveAdapter struct {
	baseURL string
	log     *slog.Logger
}

// NewArchiveAdapter creates the adapter. An empty baseURL selects the
// default archive endpoint.
func NewArchiveAdapter(baseURL string, log *slog.Logger) *ArchiveAdapter {
	if baseURL == "" {
		baseURL = "https://rp5.ru"
	}
	return &ArchiveAdapter{baseURL: baseURL, log: log.With("source", "archive")}
}

func (a *ArchiveAdapter) Name() string { return "archive" }

func (a *ArchiveAdapter) Granularity() Granularity { return GranularityEntity }

func (a *ArchiveAdapter) EarliestKnownDate() time.Time { return time.Time{} }

func (a *ArchiveAdapter) WantsGeoObject(g entities.GeoObject) bool { return g.StationID != nil }

func (a *ArchiveAdapter) BuildRequest(u WorkUnit) (Request, error) {
	if u.GeoObject == nil || u.GeoObject.StationID == nil {
		return Request{}, fmt.Errorf("%s: unit of work has no station id", a.Name())
	}
	station := *u.GeoObject.StationID
	return Request{
		Setup: fmt.Sprintf("%s/archive.php?wmo_id=%d", a.baseURL, station),
		Finalize: func(setupBody []byte) (string, error) {
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(setupBody))
			if err != nil {
				return "", fmt.Errorf("invalid session page: %v", err)
			}
			token, ok := doc.Find("input#archive_session").Attr("value")
			if !ok || token == "" {
				return "", fmt.Errorf("session token not found")
			}
			return fmt.Sprintf("%s/archive_table.php?wmo_id=%d&session=%s", a.baseURL, station, token), nil
		},
	}, nil
}

// Parse extracts one observation per hourly table row. Header rows and rows
// with unparsable timestamps are skipped individually.
func (a *ArchiveAdapter) Parse(body []byte, u WorkUnit) ([]entities.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseStructureError{Source: a.Name(), Reason: fmt.Sprintf("invalid html: %v", err)}
	}

	rows := doc.Find("table tr")
	if rows.Length() == 0 {
		return nil, &ParseStructureError{Source: a.Name(), Reason: "archive table not found"}
	}

	geo := u.GeoObject
	var records []entities.Record
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 7 {
			return
		}

		// Columns: datetime, T, Po, U, N, Ff, RRR.
		date, err := time.ParseInLocation(archiveTimeFormat, cellText(cells, 0), time.UTC)
		if err != nil {
			a.log.Debug("skipping non-data row", "geo_object", geo.Slug, "value", cellText(cells, 0))
			return
		}

		temp, err := parsing.Float(cellText(cells, 1))
		if err != nil {
			a.log.Error("unparsable temperature, skipping row",
				"geo_object", geo.Slug, "date", date.Format(archiveTimeFormat))
			return
		}
		pressure, err := parsing.Float(cellText(cells, 2))
		if err != nil {
			a.log.Error("unparsable pressure, skipping row",
				"geo_object", geo.Slug, "date", date.Format(archiveTimeFormat))
			return
		}

		w := entities.WeatherObservation{
			Date:        date,
			GeoObjectID: geo.ID,
			Temp:        temp,
			Pressure:    pressure,
			Humidity:    parsing.IntOrZero(cellText(cells, 3)),
			// Cloudiness cells read like "Облачно 90%", wind like "3 м/с",
			// and calm/trace values have no digits at all.
			Cloudiness:    parsing.IntOrZero(cellText(cells, 4)),
			WindSpeed:     parsing.IntOrZero(cellText(cells, 5)),
			Precipitation: parsing.FloatOrZero(cellText(cells, 6)),
			IsObservable:  true,
		}
		if err := entities.Validate(w); err != nil {
			a.log.Error("validation failed, skipping row",
				"geo_object", geo.Slug, "date", date.Format(archiveTimeFormat), "error", err)
			return
		}
		records = append(records, w)
	})
	return records, nil
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}
