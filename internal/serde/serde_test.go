package serde

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/wiresql/internal/models"
	"github.com/tarungka/wiresql/internal/schema"
)

var orders = schema.MustNew(
	schema.F("id", schema.TypeInteger),
	schema.F("customer", schema.TypeVarchar),
	schema.F("amount", schema.TypeDouble),
	schema.F("paid", schema.TypeBoolean),
	schema.F("ts", schema.TypeBigint),
)

func avroDescriptor(t *testing.T) Descriptor {
	t.Helper()
	s, err := AvroSchema("orders", orders)
	require.NoError(t, err)
	return Descriptor{Format: FormatAvro, AvroSchema: s}
}

func TestSelect_RoundTrip(t *testing.T) {
	rows := []models.Row{
		models.RowOf(int32(1), "alice", 10.5, true, int64(1700000000000)),
		models.RowOf(int32(-7), "bob smith", 0.0, false, int64(0)),
		models.RowOf(int32(2), "carol", nil, nil, int64(3)),
	}
	descriptors := map[string]Descriptor{
		"avro":      avroDescriptor(t),
		"json":      {Format: FormatJSON},
		"delimited": {Format: FormatDelimited},
		"pipe":      {Format: FormatDelimited, Delimiter: '|'},
	}

	for name, desc := range descriptors {
		t.Run(name, func(t *testing.T) {
			enc, dec, err := Select(desc, orders)
			require.NoError(t, err)
			assert.Equal(t, desc.Format, enc.Format())
			assert.Equal(t, desc.Format, dec.Format())

			for _, row := range rows {
				payload, err := enc.Encode(row)
				require.NoError(t, err)
				got, err := dec.Decode(payload)
				require.NoError(t, err)
				assert.Equal(t, row.Columns(), got.Columns())
			}
		})
	}
}

func TestSelect_UnsupportedFormat(t *testing.T) {
	enc, dec, err := Select(Descriptor{Format: FormatUnknown}, orders)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Nil(t, enc)
	assert.Nil(t, dec)

	_, _, err = SelectByName("PROTOBUF", "", "", orders)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"avro": FormatAvro, "Json": FormatJSON, "DELIMITED": FormatDelimited, "csv": FormatDelimited} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAvro_InvalidSchema(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"not json":      "{record",
		"not a record":  `"string"`,
		"field count":   `{"type":"record","name":"r","fields":[{"name":"id","type":"int"}]}`,
		"type mismatch": `{"type":"record","name":"r","fields":[{"name":"id","type":"string"},{"name":"c","type":"string"},{"name":"a","type":"double"},{"name":"p","type":"boolean"},{"name":"ts","type":"long"}]}`,
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := Select(Descriptor{Format: FormatAvro, AvroSchema: s}, orders)
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestAvro_HandWrittenSchema(t *testing.T) {
	s := schema.MustNew(schema.F("id", schema.TypeBigint), schema.F("name", schema.TypeVarchar))
	avro := `{"type":"record","name":"user","fields":[{"name":"id","type":"long"},{"name":"name","type":["null","string"]}]}`
	enc, dec, err := Select(Descriptor{Format: FormatAvro, AvroSchema: avro}, s)
	require.NoError(t, err)

	payload, err := enc.Encode(models.RowOf(7, nil))
	require.NoError(t, err)
	// single object encoding marker
	assert.Equal(t, []byte{0xC3, 0x01}, payload[:2])

	row, err := dec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), nil}, row.Columns())

	_, err = enc.Encode(models.RowOf(nil, "x"))
	var se *SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestAvro_SingleBranchUnion(t *testing.T) {
	s := schema.MustNew(schema.F("name", schema.TypeVarchar))
	avro := `{"type":"record","name":"user","fields":[{"name":"name","type":["string"]}]}`
	enc, dec, err := Select(Descriptor{Format: FormatAvro, AvroSchema: avro}, s)
	require.NoError(t, err)

	payload, err := enc.Encode(models.RowOf("bob"))
	require.NoError(t, err)
	row, err := dec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []any{"bob"}, row.Columns())

	// the union has no null branch
	_, err = enc.Encode(models.RowOf(nil))
	var se *SerializationError
	assert.ErrorAs(t, err, &se)
}

func TestJSON_Layout(t *testing.T) {
	enc, dec, err := Select(Descriptor{Format: FormatJSON}, orders)
	require.NoError(t, err)

	payload, err := enc.Encode(models.RowOf(1, "a", 2.5, true, nil))
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"customer":"a","amount":2.5,"paid":true,"ts":null}`, string(payload))

	row, err := dec.Decode([]byte(`{"TS": 9, "Customer": "z", "extra": [1], "id": "12"}`))
	require.NoError(t, err)
	assert.Equal(t, []any{int32(12), "z", nil, nil, int64(9)}, row.Columns())
}

func TestDelimited_NoEscaping(t *testing.T) {
	enc, dec, err := Select(Descriptor{Format: FormatDelimited}, orders)
	require.NoError(t, err)

	payload, err := enc.Encode(models.RowOf(1, "a,b", 1.0, true, int64(2)))
	require.NoError(t, err)
	assert.Equal(t, "1,a,b,1,true,2", string(payload))

	_, err = dec.Decode(payload)
	var se *SerializationError
	assert.ErrorAs(t, err, &se)

	// empty and null strings share one encoding and read back as null
	payload, err = enc.Encode(models.RowOf(1, "", 1.0, true, int64(2)))
	require.NoError(t, err)
	assert.Equal(t, "1,,1,true,2", string(payload))
	row, err := dec.Decode(payload)
	require.NoError(t, err)
	assert.Nil(t, row.Get(1))
}

func TestDecode_SerializationErrors(t *testing.T) {
	payload := []byte("not a valid payload")
	for name, desc := range map[string]Descriptor{
		"avro":      avroDescriptor(t),
		"json":      {Format: FormatJSON},
		"delimited": {Format: FormatDelimited},
	} {
		t.Run(name, func(t *testing.T) {
			_, dec, err := Select(desc, orders)
			require.NoError(t, err)

			_, err = dec.Decode(payload)
			var se *SerializationError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, PayloadIdentity(payload), se.Identity)
			assert.Equal(t, desc.Format, se.Format)

			tagged := WithIdentity(err, "orders/0@42")
			require.ErrorAs(t, tagged, &se)
			assert.Equal(t, "orders/0@42", se.Identity)
		})
	}
}

func TestCodecs_ConcurrentUse(t *testing.T) {
	for _, desc := range []Descriptor{avroDescriptor(t), {Format: FormatJSON}, {Format: FormatDelimited}} {
		enc, dec, err := Select(desc, orders)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				row := models.RowOf(int32(i), "c", float64(i)/2, i%2 == 0, int64(i)*1000)
				for j := 0; j < 50; j++ {
					payload, err := enc.Encode(row)
					if !assert.NoError(t, err) {
						return
					}
					got, err := dec.Decode(payload)
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, row.Columns(), got.Columns())
				}
			}(i)
		}
		wg.Wait()
	}
}
