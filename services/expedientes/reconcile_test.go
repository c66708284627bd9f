package expedientes

import (
	"testing"

	"expedientes-backend/lib/scrapers/scw"

	"github.com/stretchr/testify/require"
)

func TestParseCaseNumber(t *testing.T) {
	for _, test := range []struct {
		input string
		want  CaseKey
		bad   bool
	}{
		{input: "123/2024", want: CaseKey{Base: "123", Year: "2024"}},
		{input: "00123/2024", want: CaseKey{Base: "123", Year: "2024"}},
		{input: "123/2024/1", want: CaseKey{Base: "123", Year: "2024", Incident: "1"}},
		{input: "CIV 34405/2019/2", want: CaseKey{Base: "34405", Year: "2019", Incident: "2"}},
		{input: "expediente 123/2024 en letra", want: CaseKey{Base: "123", Year: "2024"}},
		{input: "123-2024", bad: true},
		{input: "", bad: true},
	} {
		key, err := ParseCaseNumber(test.input)
		if test.bad {
			require.ErrorIs(t, err, ErrBadCaseNumber, test.input)
			continue
		}
		require.NoError(t, err, test.input)
		require.Equal(t, test.want, key, test.input)
	}
}

func TestIndexDisambiguatesPrincipalAndIncident(t *testing.T) {
	index := NewIndex([]scw.CaseRow{
		{Number: "123/2024", Index: 0},
		{Number: "123/2024/1", Index: 1},
		{Number: "00777/2023", Index: 2},
	})
	require.Equal(t, 3, index.Len())

	// a request without an incident segment matches only the principal
	row, err := index.Resolve("123/2024")
	require.NoError(t, err)
	require.Equal(t, 0, row.Index)

	row, err = index.Resolve("123/2024/1")
	require.NoError(t, err)
	require.Equal(t, 1, row.Index)

	// zero-padding is a rendering artifact, not identity
	row, err = index.Resolve("777/2023")
	require.NoError(t, err)
	require.Equal(t, 2, row.Index)
	row, err = index.Resolve("0000123/2024")
	require.NoError(t, err)
	require.Equal(t, 0, row.Index)
}

func TestIndexMissIsReportedNotGuessed(t *testing.T) {
	index := NewIndex([]scw.CaseRow{
		{Number: "34405/2019"},
	})

	// an incident of an indexed principal is still a miss
	_, err := index.Resolve("34405/2019/1")
	require.ErrorIs(t, err, ErrUnmatched)

	// a near-identical number is a miss with a suggestion attached
	_, err = index.Resolve("34406/2019")
	require.ErrorIs(t, err, ErrUnmatched)
	require.Contains(t, err.Error(), "34405/2019")

	_, err = index.Resolve("not a number")
	require.ErrorIs(t, err, ErrBadCaseNumber)
}
