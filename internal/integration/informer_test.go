package integration

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlystovea/reservoirs-web/internal/entities"
)

func informerBlock(slug string, values ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="informer-block %s">`, slug)
	b.WriteString("<b>имя</b><b>регион</b><b>дата</b>")
	for _, v := range values {
		fmt.Fprintf(&b, "<b>%s</b>", v)
	}
	b.WriteString("</div>")
	return b.String()
}

func informerPage(date string, blocks ...string) string {
	return fmt.Sprintf(`<html><body>
		<input id="popupDatepicker" value="%s">
		%s
	</body></html>`, date, strings.Join(blocks, "\n"))
}

func TestInformerBuildRequest(t *testing.T) {
	a := NewInformerAdapter("http://informer.test", nil, testLogger())
	req, err := a.BuildRequest(WorkUnit{Date: time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "http://informer.test/?date=2024-05-10", req.URL)
}

func TestInformerParse(t *testing.T) {
	page := informerPage("10.05.2024",
		informerBlock("sayano", "539,54м (-12 см)", "1500 млн.м3", "2900 м3/с", "3200 м3/с", "0 м3/с"),
		informerBlock("krasnoyarsk", "243,10м", "нет данных", "1200 м3/с", "1100 м3/с", "нет"),
	)

	reservoirs := []entities.Reservoir{
		{ID: 1, Name: "Саяно-Шушенское", Slug: "sayano"},
		{ID: 2, Name: "Красноярское", Slug: "krasnoyarsk"},
		{ID: 3, Name: "Братское", Slug: "bratsk"}, // absent from the page
	}

	a := NewInformerAdapter("", nil, testLogger())
	records, err := a.Parse([]byte(page), WorkUnit{Reservoirs: reservoirs})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first, ok := records[0].(entities.Situation)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, int64(1), first.ReservoirID)
	assert.InDelta(t, 539.54, first.Level, 1e-9)
	require.NotNil(t, first.FreeCapacity)
	assert.InDelta(t, 1500, *first.FreeCapacity, 1e-9)
	require.NotNil(t, first.Spillway)
	assert.InDelta(t, 0, *first.Spillway, 1e-9)

	second, ok := records[1].(entities.Situation)
	require.True(t, ok)
	assert.Equal(t, int64(2), second.ReservoirID)
	assert.Nil(t, second.FreeCapacity, "sentinel values normalize to absent, not zero")
	assert.Nil(t, second.Spillway)
	require.NotNil(t, second.Inflow)
	assert.InDelta(t, 1200, *second.Inflow, 1e-9)
}

func TestInformerParseUsesPageDate(t *testing.T) {
	// The site answers out-of-range requests with the nearest available day.
	page := informerPage("08.05.2024",
		informerBlock("sayano", "539,54м", "-", "-", "-", "-"),
	)

	a := NewInformerAdapter("", nil, testLogger())
	records, err := a.Parse([]byte(page), WorkUnit{
		Date:       time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC),
		Reservoirs: []entities.Reservoir{{ID: 1, Name: "x", Slug: "sayano"}},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, time.May, 8, 0, 0, 0, 0, time.UTC), records[0].(entities.Situation).Date)
}

func TestInformerParseSkipsMissingLevel(t *testing.T) {
	page := informerPage("10.05.2024",
		informerBlock("sayano", "нет данных", "1500", "2900", "3200", "0"),
	)

	a := NewInformerAdapter("", nil, testLogger())
	records, err := a.Parse([]byte(page), WorkUnit{
		Reservoirs: []entities.Reservoir{{ID: 1, Name: "x", Slug: "sayano"}},
	})
	require.NoError(t, err)
	assert.Empty(t, records, "a reading without a level is useless")
}

func TestInformerParseUnrecognizedPage(t *testing.T) {
	a := NewInformerAdapter("", nil, testLogger())
	_, err := a.Parse([]byte("<html><body>maintenance</body></html>"), WorkUnit{})

	var structErr *ParseStructureError
	require.ErrorAs(t, err, &structErr)
}

func TestInformerScope(t *testing.T) {
	a := NewInformerAdapter("", []string{"sayano"}, testLogger())
	slugs, exclude := a.ReservoirScope()
	assert.Equal(t, []string{"sayano"}, slugs)
	assert.True(t, exclude)
	assert.Equal(t, GranularityDay, a.Granularity())
	assert.Equal(t, time.Date(2013, time.April, 13, 0, 0, 0, 0, time.UTC), a.EarliestKnownDate())
}
