package sink

import (
	"testing"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/ingestbench/internal/ingestbench/model"
)

func coordinate(t *testing.T, s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func TestMultiValueInsert(t *testing.T) {
	batch := []model.Record{
		{Street: "O'Brien", HouseNumber: "1", PostalCode: "00100", Latitude: coordinate(t, "60.1")},
		{Street: "Katu", HouseNumber: "2", PostalCode: "00200", Latitude: coordinate(t, "60.2"), Longitude: coordinate(t, "24.9")},
	}

	sqlStatement, args, err := MultiValueInsert(goqu.Dialect("postgres"), "bench2", batch)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Contains(t, sqlStatement, `INSERT INTO "bench2"`)
	assert.Contains(t, sqlStatement, `"latitude_wgs84"`)
	assert.Contains(t, sqlStatement, `('O''Brien', '1', '00100', '60.1', NULL)`)
	assert.Contains(t, sqlStatement, `('Katu', '2', '00200', '60.2', '24.9')`)

	sqlStatement, _, err = MultiValueInsert(goqu.Dialect("sqlite3"), "bench2", batch)
	require.NoError(t, err)
	assert.Contains(t, sqlStatement, "INSERT INTO `bench2`")
	assert.Contains(t, sqlStatement, `('Katu', '2', '00200', '60.2', '24.9')`)
}

func TestStrategy_Destination(t *testing.T) {
	seen := map[string]bool{}
	for _, strategy := range []Strategy{StrategyRowAtATime, StrategyNativeMultiRow, StrategyMultiValue, StrategyCopy, StrategyPostBatch} {
		destination := strategy.Destination()
		assert.Contains(t, Destinations, destination)
		assert.False(t, seen[destination], "%s shares a destination", strategy)
		seen[destination] = true
	}
	assert.Equal(t, "bench1", StrategyRowAtATime.Destination())
	assert.Equal(t, "bench2", StrategyMultiValue.Destination())
	assert.Equal(t, "bench3", StrategyNativeMultiRow.Destination())
	assert.Equal(t, "", Strategy("unknown").Destination())
}
