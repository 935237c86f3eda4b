package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlystovea/reservoirs-web/internal/entities"
)

const forecastPayload = `{
	"meta": {"code": "200", "message": ""},
	"response": [
		{
			"kind": "Obs",
			"date": {"UTC": "2024-05-10 09:00:00"},
			"temperature": {"air": {"C": 11.4}},
			"pressure": {"mm_hg_atm": 745},
			"humidity": {"percent": 62},
			"cloudiness": {"percent": 20},
			"wind": {"speed": {"m_s": 3}, "direction": {"scale_8": 4}},
			"precipitation": {"amount": 0.3}
		},
		{
			"kind": "Frc",
			"date": {"UTC": "2024-05-10 12:00:00"},
			"temperature": {"air": {"C": 14.0}},
			"pressure": {"mm_hg_atm": 744},
			"humidity": {"percent": 55},
			"cloudiness": {"percent": 80},
			"wind": {"speed": {"m_s": 5}},
			"precipitation": {"amount": null}
		}
	]
}`

func testGeoObject(gismeteoID int64) *entities.GeoObject {
	return &entities.GeoObject{ID: 3, Name: "Саяногорск", Slug: "sayanogorsk", GismeteoID: &gismeteoID}
}

func TestForecastBuildRequest(t *testing.T) {
	a := NewForecastAdapter("http://forecast.test", "secret", 3, testLogger())
	req, err := a.BuildRequest(WorkUnit{GeoObject: testGeoObject(11434)})
	require.NoError(t, err)
	assert.Equal(t, "http://forecast.test/11434/?days=3", req.URL)
	assert.Equal(t, "secret", req.Header.Get("X-Gismeteo-Token"))

	_, err = a.BuildRequest(WorkUnit{GeoObject: &entities.GeoObject{ID: 1, Name: "x", Slug: "x"}})
	assert.Error(t, err, "a geo object without a provider id cannot be requested")
}

func TestForecastParse(t *testing.T) {
	a := NewForecastAdapter("", "secret", 3, testLogger())
	records, err := a.Parse([]byte(forecastPayload), WorkUnit{GeoObject: testGeoObject(11434)})
	require.NoError(t, err)
	require.Len(t, records, 2)

	obs, ok := records[0].(entities.WeatherObservation)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC), obs.Date)
	assert.Equal(t, int64(3), obs.GeoObjectID)
	assert.InDelta(t, 11.4, obs.Temp, 1e-9)
	assert.InDelta(t, 745, obs.Pressure, 1e-9)
	assert.InDelta(t, 0.3, obs.Precipitation, 1e-9)
	assert.True(t, obs.IsObservable)
	require.NotNil(t, obs.WindDirection)
	assert.Equal(t, 4, *obs.WindDirection)

	frc := records[1].(entities.WeatherObservation)
	assert.False(t, frc.IsObservable)
	assert.InDelta(t, 0, frc.Precipitation, 1e-9, "a null amount means no precipitation")
}

func TestForecastParseProviderError(t *testing.T) {
	payload := `{"meta": {"code": "403", "message": "invalid token"}}`

	a := NewForecastAdapter("", "secret", 3, testLogger())
	_, err := a.Parse([]byte(payload), WorkUnit{GeoObject: testGeoObject(11434)})

	var structErr *ParseStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Contains(t, structErr.Reason, "invalid token")
}

func TestForecastParseInvalidJSON(t *testing.T) {
	a := NewForecastAdapter("", "secret", 3, testLogger())
	_, err := a.Parse([]byte("<html>502 Bad Gateway</html>"), WorkUnit{GeoObject: testGeoObject(11434)})

	var structErr *ParseStructureError
	require.ErrorAs(t, err, &structErr)
}

func TestForecastWantsGeoObject(t *testing.T) {
	a := NewForecastAdapter("", "secret", 3, testLogger())
	id := int64(11434)
	assert.True(t, a.WantsGeoObject(entities.GeoObject{GismeteoID: &id}))
	assert.False(t, a.WantsGeoObject(entities.GeoObject{}))
	assert.Equal(t, GranularityEntity, a.Granularity())
}
