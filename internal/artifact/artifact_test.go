package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/storage/memory"
)

var scraped = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func cardRecord(slug, name string) catalog.Record {
	rec := catalog.NewRecord()
	rec.Fields.Set(catalog.FieldName, name)
	rec.Fields.Set(catalog.FieldDetailURL, "https://missilery.info/missile/"+slug)
	rec.Fields.Set(catalog.FieldIndexURL, "https://missilery.info/search?page=2")
	rec.Fields.Set(catalog.FieldPageNumber, "2")
	rec.Fields.Set(catalog.FieldCountry, "Россия")
	rec.Fields.Set(catalog.FieldRangeKM, "11000")
	rec.Fields.Set(catalog.FieldYearDeveloped, "1997")
	return rec
}

func detailFor(card catalog.Record) catalog.Record {
	detail := catalog.NewRecord()
	detail.HasDetail = true
	detail.ScrapedAt = scraped
	detail.Fields.Set(catalog.FieldDetailURL, card.DetailURL())
	detail.Fields.Set(catalog.FieldName, "Страница")
	detail.Fields.Set(catalog.FieldDescription, "Описание")
	detail.Fields.Set(catalog.FieldSpeed, "7 М")
	detail.Characteristics = []catalog.Characteristic{{Name: "Скорость", Value: "7 М"}}
	detail.Blocks = []catalog.ContentBlock{
		{Name: "developer", Label: "Разработчик", Text: "МИТ", Links: []catalog.Link{{URL: "https://missilery.info/mit", Text: "МИТ"}}},
		{Name: "status", Text: "на вооружении"},
	}
	detail.Media = []catalog.MediaRef{
		{URL: "https://missilery.info/a.jpg", Type: catalog.MediaMain, AltText: "Пуск"},
		{URL: "https://missilery.info/g.jpg", Type: catalog.MediaGallery},
	}
	return card.Merge(detail)
}

func TestTransliterate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Topol-M_RS-12M2", Transliterate("Тополь-М (РС-12М2)"))
	assert.Equal(t, "Iskander-M", Transliterate("Искандер-М"))
	assert.Equal(t, "Schuka_yozh", Transliterate("Щука  ёж!"))
	assert.Equal(t, "", Transliterate("«»"))
}

func TestBaseFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "topol-m_Topol-M.json", BaseFilename("https://missilery.info/missile/topol-m", "Тополь-М"))
	assert.Equal(t, "missile_X.json", BaseFilename("https://missilery.info/other/x", "X"))

	long := BaseFilename("https://missilery.info/missile/long", strings.Repeat("Ракета ", 20))
	assert.Len(t, strings.TrimSuffix(long, ".json"), maxBaseName)
}

func TestWriterDisambiguatesCollidingNames(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w := NewWriter(blobs, nil)
	ctx := context.Background()

	a := detailFor(cardRecord("x", "Одно имя"))
	b := detailFor(cardRecord("x", "Одно имя"))
	b.Fields.Set(catalog.FieldDetailURL, "https://missilery.info/missile/x?variant=2")

	require.NoError(t, w.AddDetailed(ctx, a))
	require.NoError(t, w.AddDetailed(ctx, b))
	require.NoError(t, w.AddDetailed(ctx, a), "re-adding keeps the same file")

	paths := blobs.Paths()
	require.Len(t, paths, 2)
	assert.Contains(t, paths, DetailPath("x_Odno_imya.json"))
	_, detailed := w.Counts()
	assert.Equal(t, 2, detailed)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w := NewWriter(blobs, nil)
	ctx := context.Background()

	topol := cardRecord("topol-m", "Тополь-М")
	iskander := cardRecord("iskander", "Искандер")
	require.NoError(t, w.AddBasic(ctx, topol))
	require.NoError(t, w.AddBasic(ctx, iskander))
	require.NoError(t, w.AddDetailed(ctx, detailFor(topol)))
	require.NoError(t, w.Flush(ctx))

	records, err := NewReader(blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := records[0]
	assert.True(t, got.HasDetail)
	assert.Empty(t, got.Defect)
	assert.Equal(t, "Тополь-М", got.Name(), "card name wins")
	assert.Equal(t, "Описание", got.Fields.Value(catalog.FieldDescription))
	assert.Equal(t, "7 М", got.Fields.Value(catalog.FieldSpeed))
	assert.Equal(t, "11000", got.Fields.Value(catalog.FieldRangeKM))
	assert.Equal(t, 2, got.PageNumber())
	assert.Equal(t, "topol-m_Topol-M.json", got.DetailFile)
	assert.Equal(t, scraped, got.ScrapedAt)
	assert.Equal(t, detailFor(topol).Blocks, got.Blocks)
	assert.Equal(t, detailFor(topol).Media, got.Media)
	assert.Equal(t, detailFor(topol).Characteristics, got.Characteristics)

	basicOnly := records[1]
	assert.False(t, basicOnly.HasDetail)
	assert.Equal(t, "Искандер", basicOnly.Name())
}

func TestWriterPreloadExtendsExistingSet(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ctx := context.Background()

	empty := NewWriter(blobs, nil)
	n, err := empty.Preload(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no indexes yet")

	topol := cardRecord("topol-m", "Тополь-М")
	first := NewWriter(blobs, nil)
	require.NoError(t, first.AddBasic(ctx, topol))
	require.NoError(t, first.AddDetailed(ctx, detailFor(topol)))
	require.NoError(t, first.Flush(ctx))

	iskander := cardRecord("iskander", "Искандер")
	resumed := NewWriter(blobs, nil)
	n, err = resumed.Preload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, resumed.AddBasic(ctx, iskander))
	require.NoError(t, resumed.AddDetailed(ctx, detailFor(topol)), "re-crawled page keeps its file")
	require.NoError(t, resumed.Flush(ctx))

	basic, detailed := resumed.Counts()
	assert.Equal(t, 2, basic)
	assert.Equal(t, 1, detailed)

	records, err := NewReader(blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Тополь-М", records[0].Name())
	assert.True(t, records[0].HasDetail)
	assert.Equal(t, "topol-m_Topol-M.json", records[0].DetailFile)
	assert.Equal(t, "Искандер", records[1].Name())
}

func TestWriterPreloadRejectsCorruptIndex(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ctx := context.Background()
	_, err := blobs.PutObject(ctx, BasicIndexPath, jsonContentType, strings.NewReader(`{"name":"A"}`))
	require.NoError(t, err)

	_, err = NewWriter(blobs, nil).Preload(ctx)
	require.ErrorIs(t, err, catalog.ErrArtifactMissing)
}

func TestReaderMissingIndexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := NewReader(blobs, nil).Load(ctx)
	require.ErrorIs(t, err, catalog.ErrArtifactMissing)

	_, err = blobs.PutObject(ctx, BasicIndexPath, jsonContentType, strings.NewReader("[]"))
	require.NoError(t, err)
	_, err = NewReader(blobs, nil).Load(ctx)
	require.ErrorIs(t, err, catalog.ErrArtifactMissing)
	assert.Contains(t, err.Error(), DetailedIndexPath)
}

func TestReaderMarksMissingPayloadAsDefect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put(t, blobs, BasicIndexPath, `[{"name":"A","detail_page_url":"https://missilery.info/missile/a","page_number":1}]`)
	put(t, blobs, DetailedIndexPath, `[
		{"name":"A","detail_page_url":"https://missilery.info/missile/a","detailed_filename":"a_A.json"},
		{"name":"B","detail_page_url":"https://missilery.info/missile/b","detailed_filename":"b_B.json","page_number":"3"}
	]`)
	put(t, blobs, DetailPath("b_B.json"), `{"name":"B","detail_page_url":"https://missilery.info/missile/b"}`)

	records, err := NewReader(blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Defect, "a_A.json")
	assert.NotEmpty(t, records[0].Validate())

	assert.Empty(t, records[1].Defect)
	assert.True(t, records[1].HasDetail)
	assert.Equal(t, 3, records[1].PageNumber())
	assert.Equal(t, "B", records[1].Name())
}

func TestReaderIsolatesUndecodableEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put(t, blobs, BasicIndexPath, `[
		{"name":"A","detail_page_url":"https://missilery.info/missile/a","range_km":300},
		{"name":"B","detail_page_url":"https://missilery.info/missile/b","range_km":"около 300"},
		{"name":"C","detail_page_url":"https://missilery.info/missile/c","year_developed":1987}
	]`)
	put(t, blobs, DetailedIndexPath, `[
		{"name":"C","detail_page_url":"https://missilery.info/missile/c","detailed_filename":"c_C.json","page_number":{}},
		"garbage"
	]`)

	records, err := NewReader(blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Empty(t, records[0].Validate())
	assert.Equal(t, "300", records[0].Fields.Value(catalog.FieldRangeKM))

	assert.Equal(t, "https://missilery.info/missile/b", records[1].DetailURL())
	assert.Equal(t, "B", records[1].Name())
	assert.Contains(t, records[1].Defect, BasicIndexPath+" entry 1")
	assert.NotEmpty(t, records[1].Validate())

	assert.Equal(t, "https://missilery.info/missile/c", records[2].DetailURL())
	assert.Contains(t, records[2].Defect, DetailedIndexPath+" entry 0")

	assert.Empty(t, records[3].DetailURL())
	assert.Contains(t, records[3].Defect, DetailedIndexPath+" entry 1")
}

func TestReaderRejectsIndexThatIsNotAList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put(t, blobs, BasicIndexPath, `{"name":"A"}`)
	put(t, blobs, DetailedIndexPath, `[]`)

	_, err := NewReader(blobs, nil).Load(ctx)
	require.ErrorIs(t, err, catalog.ErrArtifactMissing)
}

func TestReaderAcceptsKeyedStructuredContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	put(t, blobs, BasicIndexPath, `[{"name":"A","detail_page_url":"https://missilery.info/missile/a","range_km":"500"}]`)
	put(t, blobs, DetailedIndexPath, `[{"name":"A","detail_page_url":"https://missilery.info/missile/a","detailed_filename":"a.json","scraped_at":"2024-05-01T12:30:00.000001"}]`)
	put(t, blobs, DetailPath("a.json"), `{
		"name": "A",
		"detail_page_url": "https://missilery.info/missile/a",
		"structured_content": {
			"zeta": {"label": "Z", "text": "z", "links": ["https://missilery.info/z"], "urls": ["https://missilery.info/z"]},
			"alpha": {"label": "A", "text": "a", "links": [], "urls": []}
		},
		"characteristics_table": [{"field_name": "Дальность", "field_value": "500 км"}, {"field_name": "", "field_value": "x"}],
		"image_urls": ["https://missilery.info/1.jpg"],
		"gallery_images": ["https://missilery.info/2.jpg"]
	}`)

	records, err := NewReader(blobs, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	require.Len(t, rec.Blocks, 2)
	assert.Equal(t, "zeta", rec.Blocks[0].Name, "object key order is kept")
	assert.Equal(t, []catalog.Link{{URL: "https://missilery.info/z"}}, rec.Blocks[0].Links)
	assert.Len(t, rec.Characteristics, 1)
	assert.Equal(t, []catalog.MediaRef{
		{URL: "https://missilery.info/1.jpg", Type: catalog.MediaMain},
		{URL: "https://missilery.info/2.jpg", Type: catalog.MediaGallery},
	}, rec.Media)
	assert.Equal(t, "500", rec.Fields.Value(catalog.FieldRangeKM))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 1000, time.UTC), rec.ScrapedAt)
}

func TestBasicIndexKeepsNumbersNumeric(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(basicFromRecord(cardRecord("a", "A")))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"range_km":11000`)
	assert.Contains(t, string(data), `"page_number":2`)

	noRange := cardRecord("b", "B")
	delete(noRange.Fields, catalog.FieldRangeKM)
	data, err = json.Marshal(basicFromRecord(noRange))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "range_km")
}

func put(t *testing.T, blobs *memory.BlobStore, path, body string) {
	t.Helper()
	_, err := blobs.PutObject(context.Background(), path, jsonContentType, bytes.NewBufferString(body))
	require.NoError(t, err)
}
