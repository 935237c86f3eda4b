package integration

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hlystovea/reservoirs-web/internal/entities"
)

const forecastDateFormat = "2006-01-02 15:04:05"

// ForecastAdapter reads the weather provider's JSON forecast API: one
// document per geo object, carrying a multi-day forecast. The provider
// republishes forecasts on every sweep; observed-over-forecast precedence
// is enforced by the persistor, not here.
type ForecastAdapter struct {
	baseURL string
	token   string
	days    int
	log     *slog.Logger
}

// NewForecastAdapter creates the adapter. The token is sent with every
// request; days bounds the forecast horizon.
func NewForecastAdapter(baseURL, token string, days int, log *slog.Logger) *ForecastAdapter {
	if baseURL == "" {
		baseURL = "https://api.gismeteo.net/v2/weather/forecast"
	}
	if days <= 0 {
		days = 3
	}
	return &ForecastAdapter{
		baseURL: baseURL,
		token:   token,
		days:    days,
		log:     log.With("source", "forecast"),
	}
}

func (a *ForecastAdapter) Name() string { return "forecast" }

func (a *ForecastAdapter) Granularity() Granularity { return GranularityEntity }

func (a *ForecastAdapter) EarliestKnownDate() time.Time { return time.Time{} }

func (a *ForecastAdapter) WantsGeoObject(g entities.GeoObject) bool { return g.GismeteoID != nil }

func (a *ForecastAdapter) BuildRequest(u WorkUnit) (Request, error) {
	if u.GeoObject == nil || u.GeoObject.GismeteoID == nil {
		return Request{}, fmt.Errorf("%s: unit of work has no provider id", a.Name())
	}
	header := http.Header{}
	header.Set("X-Gismeteo-Token", a.token)
	return Request{
		URL:    fmt.Sprintf("%s/%d/?days=%d", a.baseURL, *u.GeoObject.GismeteoID, a.days),
		Header: header,
	}, nil
}

// Parse maps the provider's nested JSON payload onto WeatherObservations.
// Items of kind "Obs" are measured data; everything else is forecast.
func (a *ForecastAdapter) Parse(body []byte, u WorkUnit) ([]entities.Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseStructureError{Source: a.Name(), Reason: "invalid json"}
	}
	root := gjson.ParseBytes(body)

	if code := root.Get("meta.code").String(); code != "200" {
		return nil, &ParseStructureError{
			Source: a.Name(),
			Reason: fmt.Sprintf("meta code %q: %s", code, root.Get("meta.message").String()),
		}
	}
	items := root.Get("response")
	if !items.IsArray() {
		return nil, &ParseStructureError{Source: a.Name(), Reason: "response array not found"}
	}

	geo := u.GeoObject
	var records []entities.Record
	for _, item := range items.Array() {
		date, err := time.ParseInLocation(forecastDateFormat, item.Get("date.UTC").String(), time.UTC)
		if err != nil {
			a.log.Error("bad forecast date, skipping item",
				"geo_object", geo.Slug, "value", item.Get("date.UTC").String())
			continue
		}

		w := entities.WeatherObservation{
			Date:        date,
			GeoObjectID: geo.ID,
			Temp:        item.Get("temperature.air.C").Float(),
			Pressure:    item.Get("pressure.mm_hg_atm").Float(),
			Humidity:    item.Get("humidity.percent").Float(),
			Cloudiness:  item.Get("cloudiness.percent").Float(),
			WindSpeed:   item.Get("wind.speed.m_s").Float(),
			// A null precipitation amount means none recorded.
			Precipitation: item.Get("precipitation.amount").Float(),
			IsObservable:  item.Get("kind").String() == "Obs",
		}
		if dir := item.Get("wind.direction.scale_8"); dir.Exists() {
			v := int(dir.Int())
			w.WindDirection = &v
		}

		if err := entities.Validate(w); err != nil {
			a.log.Error("validation failed, skipping item",
				"geo_object", geo.Slug, "date", date.Format(time.RFC3339), "error", err)
			continue
		}
		records = append(records, w)
	}
	return records, nil
}
