// Package testfixtures generates address data in the layout the record source reads.
package testfixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/G-Research/ingestbench/internal/ingestbench/model"
)

// Header is the first line of every generated file. Records start at column FirstColumn.
var Header = []string{
	"building_id", "region", "municipality",
	"street", "house_number", "postal_code", "latitude_wgs84", "longitude_wgs84",
	"postal_office",
}

const FirstColumn = 3

var (
	streets = []string{
		"Mannerheimintie", "Hämeentie", "Töölönkatu", "Runeberginkatu", "Aleksanterinkatu",
		"Itäinen Rantakatu", "Köydenpunojankatu", "Pohjoisesplanadi", "Åggelbyntie", "Mäkelänkatu",
	}
	municipalities = []string{"Helsinki", "Espoo", "Vantaa", "Järvenpää", "Kerava", "Porvoo"}
	regions        = []string{"Uusimaa", "Pirkanmaa", "Varsinais-Suomi"}
	offices        = []string{"HELSINKI", "ESPOO", "VANTAA", "JÄRVENPÄÄ"}
)

// Records returns n deterministic records for the given seed. Roughly one in twenty records has
// no coordinates.
func Records(n int, seed int64) []model.Record {
	r := rand.New(rand.NewSource(seed))
	records := make([]model.Record, n)
	for i := 0; i < n; i++ {
		record := model.Record{
			Street:      streets[r.Intn(len(streets))],
			HouseNumber: fmt.Sprintf("%d", 1+r.Intn(150)),
			PostalCode:  fmt.Sprintf("%05d", r.Intn(100000)),
		}
		if r.Intn(20) != 0 {
			record.Latitude = coordinate(59.8+r.Float64()*10.2, 6)
			record.Longitude = coordinate(19.5+r.Float64()*11.5, 6)
		}
		records[i] = record
	}
	return records
}

func coordinate(f float64, places int32) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(f).Round(places), Valid: true}
}

// Row renders a record as a full source row. Columns outside the record, the building id
// included, are drawn from r.
func Row(record model.Record, r *rand.Rand) []string {
	return []string{
		uuid.Must(uuid.NewRandomFromReader(r)).String(),
		regions[r.Intn(len(regions))],
		municipalities[r.Intn(len(municipalities))],
		record.Street,
		record.HouseNumber,
		record.PostalCode,
		decimalString(record.Latitude),
		decimalString(record.Longitude),
		offices[r.Intn(len(offices))],
	}
}

func decimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(6)
}

// WriteCSV writes the header followed by one row per record, encoded as ISO-8859-1.
func WriteCSV(w io.Writer, records []model.Record) error {
	encoded := charmap.ISO8859_1.NewEncoder().Writer(w)
	writer := csv.NewWriter(encoded)
	if err := writer.Write(Header); err != nil {
		return errors.WithStack(err)
	}
	r := rand.New(rand.NewSource(int64(len(records))))
	for _, record := range records {
		if err := writer.Write(Row(record, r)); err != nil {
			return errors.WithStack(err)
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}

// WriteCSVFile writes records to a new file at path.
func WriteCSVFile(path string, records []model.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = errors.WithStack(closeErr)
		}
	}()
	return WriteCSV(f, records)
}
