package importer

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveEntry struct {
	name    string
	content string
}

func buildArchive(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := writer.Create(entry.name)
		require.NoError(t, err)
		if entry.content != "" {
			_, err = w.Write([]byte(entry.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestContentEntry(t *testing.T) {
	tests := []struct {
		name      string
		entries   []archiveEntry
		wantEntry string
		wantErr   error
	}{
		{
			name:      "single text file",
			entries:   []archiveEntry{{"places.txt", "a,1,2"}},
			wantEntry: "places.txt",
		},
		{
			name:      "upper case extension",
			entries:   []archiveEntry{{"PLACES.TXT", "a,1,2"}},
			wantEntry: "PLACES.TXT",
		},
		{
			name: "macOS metadata is ignored",
			entries: []archiveEntry{
				{"data/", ""},
				{"data/places.txt", "a,1,2"},
				{"__MACOSX/", ""},
				{"__MACOSX/data/._places.txt", "junk"},
				{"data/.DS_Store", "junk"},
			},
			wantEntry: "data/places.txt",
		},
		{
			name:      "resource fork next to the content",
			entries:   []archiveEntry{{"._places.txt", "junk"}, {"places.txt", "a,1,2"}},
			wantEntry: "places.txt",
		},
		{
			name:    "no entries",
			entries: nil,
			wantErr: ErrNotSingleTextEntry,
		},
		{
			name:    "only metadata",
			entries: []archiveEntry{{"__MACOSX/._a.txt", "junk"}, {".DS_Store", "junk"}},
			wantErr: ErrNotSingleTextEntry,
		},
		{
			name:    "two text files",
			entries: []archiveEntry{{"a.txt", "a,1,2"}, {"b.txt", "b,1,2"}},
			wantErr: ErrNotSingleTextEntry,
		},
		{
			name:    "text file and another file",
			entries: []archiveEntry{{"a.txt", "a,1,2"}, {"b.csv", "b,1,2"}},
			wantErr: ErrNotSingleTextEntry,
		},
		{
			name:    "wrong extension",
			entries: []archiveEntry{{"places.csv", "a,1,2"}},
			wantErr: ErrNotSingleTextEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := OpenArchive(buildArchive(t, tt.entries...))
			require.NoError(t, err)

			entry, err := ContentEntry(reader.File)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, entry)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantEntry, entry.Name)
		})
	}
}

func TestOpenArchiveRejectsGarbage(t *testing.T) {
	_, err := OpenArchive([]byte("definitely not a zip"))
	assert.ErrorIs(t, err, ErrInvalidArchive)
}

func TestHasArchiveExtension(t *testing.T) {
	assert.True(t, HasArchiveExtension("places.zip"))
	assert.True(t, HasArchiveExtension("PLACES.ZIP"))
	assert.False(t, HasArchiveExtension("places.txt"))
	assert.False(t, HasArchiveExtension(""))
}

func TestReadTextStripsBOM(t *testing.T) {
	reader, err := OpenArchive(buildArchive(t, archiveEntry{"places.txt", "\ufeffSuria KLCC,3.157324409,101.7121981"}))
	require.NoError(t, err)

	entry, err := ContentEntry(reader.File)
	require.NoError(t, err)

	text, err := ReadText(entry, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "Suria KLCC,3.157324409,101.7121981", text)
}

func TestReadTextLimit(t *testing.T) {
	const limit = 1 << 20

	// Eight MiB of spaces deflate to a few kilobytes.
	payload := buildArchive(t, archiveEntry{"places.txt", strings.Repeat(" ", 8<<20)})
	require.Less(t, len(payload), 64<<10)

	t.Run("inflated size over the limit", func(t *testing.T) {
		reader, err := OpenArchive(payload)
		require.NoError(t, err)
		entry, err := ContentEntry(reader.File)
		require.NoError(t, err)

		_, err = ReadText(entry, limit)
		assert.ErrorIs(t, err, ErrEntryTooLarge)
	})

	t.Run("forged header size", func(t *testing.T) {
		reader, err := OpenArchive(payload)
		require.NoError(t, err)
		entry, err := ContentEntry(reader.File)
		require.NoError(t, err)
		entry.UncompressedSize64 = 16

		_, err = ReadText(entry, limit)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEntryTooLarge) || errors.Is(err, ErrInvalidArchive), err)
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		reader, err := OpenArchive(buildArchive(t, archiveEntry{"places.txt", strings.Repeat("a", 1024)}))
		require.NoError(t, err)
		entry, err := ContentEntry(reader.File)
		require.NoError(t, err)

		text, err := ReadText(entry, 1024)
		require.NoError(t, err)
		assert.Len(t, text, 1024)

		_, err = ReadText(entry, 1023)
		assert.ErrorIs(t, err, ErrEntryTooLarge)
	})
}

func TestParseRows(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantRows    []Row
		wantInvalid int
	}{
		{
			name:    "header is skipped and not counted",
			content: "Name,Latitude,Longitude\nSuria KLCC,3.157324409,101.7121981\nZoo Negara,3.21054160,101.75920504\n",
			wantRows: []Row{
				{Name: "Suria KLCC", Lat: 3.157324409, Lng: 101.7121981},
				{Name: "Zoo Negara", Lat: 3.21054160, Lng: 101.75920504},
			},
		},
		{
			name:     "short header names",
			content:  "name|lat|lng\nA|1|2",
			wantRows: []Row{{Name: "A", Lat: 1, Lng: 2}},
		},
		{
			name:     "header with lon",
			content:  "NAME\tLAT\tLON\nA\t1\t2",
			wantRows: []Row{{Name: "A", Lat: 1, Lng: 2}},
		},
		{
			name:     "CRLF line endings and blank lines",
			content:  "A,1,2\r\n\r\n   \r\nB , -3.5 , 4.25 \r\n",
			wantRows: []Row{{Name: "A", Lat: 1, Lng: 2}, {Name: "B", Lat: -3.5, Lng: 4.25}},
		},
		{
			name:     "mixed separators",
			content:  "A|1|2\nB\t3\t4\nC,5,6",
			wantRows: []Row{{Name: "A", Lat: 1, Lng: 2}, {Name: "B", Lat: 3, Lng: 4}, {Name: "C", Lat: 5, Lng: 6}},
		},
		{
			name:     "extra fields are ignored",
			content:  "A,1,2,extra,more",
			wantRows: []Row{{Name: "A", Lat: 1, Lng: 2}},
		},
		{
			name:        "not a number",
			content:     "BadRow,notanumber,101.5\nGood,1,2",
			wantRows:    []Row{{Name: "Good", Lat: 1, Lng: 2}},
			wantInvalid: 1,
		},
		{
			name:        "too few fields, empty name, infinite value",
			content:     "onlyname\nA,1\n,1,2\nB,Inf,2\nC,1,NaN",
			wantInvalid: 5,
		},
		{
			name:        "out of range coordinates",
			content:     "A,91,0\nB,0,-180.5\nC,-90,180",
			wantRows:    []Row{{Name: "C", Lat: -90, Lng: 180}},
			wantInvalid: 2,
		},
		{
			name:        "header-like line that is not first counts as invalid",
			content:     "A,1,2\nName,Latitude,Longitude",
			wantRows:    []Row{{Name: "A", Lat: 1, Lng: 2}},
			wantInvalid: 1,
		},
		{
			name:    "empty content",
			content: " \n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseRows(tt.content)

			assert.Equal(t, tt.wantRows, result.Rows)
			assert.Equal(t, tt.wantInvalid, result.Invalid)
			assert.Equal(t, len(tt.wantRows)+tt.wantInvalid, result.Total())
		})
	}
}
